/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package llm provides the single deterministic LLM entry point shared by
// the OCR Reasoning Agent, the Pricing Agent's summary step and the
// Authenticity Agent's rationale step (spec.md §4.3, §4.4 step 6, §4.5).
// Every call site supplies its own system/user prompt; this package owns
// only provider selection, retries and response caching.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/metrics"
	"github.com/jordigilh/cardvault/pkg/retry"
	"github.com/jordigilh/cardvault/pkg/shared/logging"
)

// Request bundles one deterministic completion call. SystemPrompt and
// UserPrompt are supplied verbatim by the caller (OCR Reasoning, Pricing
// summary, Authenticity rationale); this package never constructs them.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	// ImageData and ImageMIME, when both set, attach a multimodal image
	// block alongside UserPrompt (used by the Vision Feature Extractor's
	// label/OCR detection, spec.md §4.2 steps 3 and 6).
	ImageData []byte
	ImageMIME string
	// CacheKey, when non-empty and caching is enabled, lets identical
	// requests (same ocrContext/model-id) short-circuit the provider call,
	// preserving the determinism contract of spec.md §4.3.
	CacheKey string
}

// Client is the deterministic completion surface every reasoning stage
// depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// client is the concrete implementation, parameterized by provider at
// construction time.
type client struct {
	cfg      config.LLMConfig
	logger   *logrus.Entry
	provider provider
	cache    *redis.Client
}

// provider is the narrow seam between client and the two supported
// backends; it lets NewClient validate the provider once and keeps Complete
// free of a runtime switch on every call.
type provider interface {
	complete(ctx context.Context, cfg config.LLMConfig, req Request) (string, error)
}

// NewClient builds a Client for cfg.Provider ("anthropic" or "bedrock").
// An unsupported provider is a construction-time error, not a runtime one.
func NewClient(cfg config.LLMConfig, logger *logrus.Logger) (Client, error) {
	var p provider
	switch cfg.Provider {
	case "anthropic":
		p = newAnthropicProvider(cfg)
	case "bedrock":
		bp, err := newBedrockProvider(cfg)
		if err != nil {
			return nil, err
		}
		p = bp
	default:
		return nil, appErrors.Newf(appErrors.ErrorTypeValidation, "unsupported provider: %s", cfg.Provider)
	}

	c := &client{
		cfg:      cfg,
		logger:   logger.WithField("component", "llm"),
		provider: p,
	}
	if cfg.CacheEnabled {
		c.cache = redis.NewClient(&redis.Options{Addr: cfg.Endpoint})
	}
	return c, nil
}

// retryPolicy is the exact contract of spec.md §4.3 step 3, reused verbatim
// by the Pricing summary and Authenticity rationale calls (§4.4 step 6, §4.5).
func retryPolicy(cfg config.LLMConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  2.0,
		JitterFrac:  0.2,
		IsRetryable: func(err error) bool {
			t := appErrors.GetType(err)
			return t == appErrors.ErrorTypeRateLimit || t == appErrors.ErrorTypeTimeout
		},
	}
}

// Complete invokes the configured provider under the shared retry
// combinator, consulting and populating the response cache when enabled.
func (c *client) Complete(ctx context.Context, req Request) (string, error) {
	if c.cache != nil && req.CacheKey != "" {
		key := cacheKey(c.cfg.Model, req.CacheKey)
		if cached, err := c.cache.Get(ctx, key).Result(); err == nil {
			c.logger.WithField("cache_key", key).Debug("llm cache hit")
			metrics.LLMCacheHitsTotal.Inc()
			return cached, nil
		}
	}

	entry := c.logger.WithFields(logging.AIFields("complete", c.cfg.Model).
		Custom("provider", c.cfg.Provider).ToLogrus())

	policy := retryPolicy(c.cfg)
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	metrics.LLMCallsTotal.WithLabelValues(c.cfg.Provider).Inc()
	result, err := retry.Do(ctx, policy, entry, func(ctx context.Context, attempt int) (string, error) {
		return c.provider.complete(ctx, c.cfg, req)
	})
	if err != nil {
		return "", err
	}

	if c.cache != nil && req.CacheKey != "" {
		key := cacheKey(c.cfg.Model, req.CacheKey)
		if err := c.cache.Set(ctx, key, result, c.cfg.CacheTTL).Err(); err != nil {
			entry.WithError(err).Warn("llm cache write failed")
		}
	}
	return result, nil
}

func cacheKey(model, key string) string {
	sum := sha256.Sum256([]byte(model + "|" + key))
	return "llm:" + hex.EncodeToString(sum[:])
}

// ExtractJSON pulls a JSON object out of an LLM response, accepting both a
// raw object and one fenced inside a markdown code block (spec.md §4.3
// step 4). Some providers prepend a "_thinking" scratch field ahead of the
// fixed schema; it is stripped before schema validation ever sees the
// response, rather than taught to every schema as an optional field.
func ExtractJSON(response string) (string, error) {
	trimmed := strings.TrimSpace(response)
	if fenced := extractFenced(trimmed); fenced != "" {
		trimmed = fenced
	}
	if !gjson.Valid(trimmed) {
		return "", appErrors.New(appErrors.ErrorTypeSchemaViolation, "response does not contain valid JSON")
	}
	if gjson.Get(trimmed, "_thinking").Exists() {
		stripped, err := sjson.Delete(trimmed, "_thinking")
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrorTypeSchemaViolation, "stripping scratch field from response")
		}
		trimmed = stripped
	}
	return trimmed, nil
}

func extractFenced(s string) string {
	const fence = "```"
	start := strings.Index(s, fence)
	if start == -1 {
		return ""
	}
	rest := s[start+len(fence):]
	if nl := strings.Index(rest, "\n"); nl != -1 && nl < 10 {
		// skip an optional language tag such as "json"
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, fence)
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// --- anthropic provider ---

type anthropicProvider struct {
	sdk *anthropic.Client
}

func newAnthropicProvider(cfg config.LLMConfig) *anthropicProvider {
	opts := []option.RequestOption{}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	c := anthropic.NewClient(opts...)
	return &anthropicProvider{sdk: &c}
}

func (p *anthropicProvider) complete(ctx context.Context, cfg config.LLMConfig, req Request) (string, error) {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.UserPrompt)}
	if len(req.ImageData) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(req.ImageMIME, base64.StdEncoding.EncodeToString(req.ImageData)))
	}

	message, err := p.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
		Temperature: anthropic.Float(cfg.Temperature),
	})
	if err != nil {
		return "", classifyProviderError(err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		content.WriteString(block.Text)
	}
	if content.Len() == 0 {
		return "", appErrors.New(appErrors.ErrorTypeSchemaViolation, "empty response from anthropic")
	}
	return content.String(), nil
}

// --- bedrock provider ---

type bedrockProvider struct {
	runtime *bedrockruntime.Client
}

func newBedrockProvider(cfg config.LLMConfig) (*bedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "loading AWS config for bedrock")
	}
	return &bedrockProvider{runtime: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

func (p *bedrockProvider) complete(ctx context.Context, cfg config.LLMConfig, req Request) (string, error) {
	content := []types.ContentBlock{&types.ContentBlockMemberText{Value: req.UserPrompt}}
	if len(req.ImageData) > 0 {
		content = append(content, &types.ContentBlockMemberImage{Value: types.ImageBlock{
			Format: imageFormat(req.ImageMIME),
			Source: &types.ImageSourceMemberBytes{Value: req.ImageData},
		}})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: &cfg.Model,
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		},
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: content,
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   int32Ptr(int32(cfg.MaxTokens)),
			Temperature: float32Ptr(float32(cfg.Temperature)),
		},
	}

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return "", classifyProviderError(err)
	}
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", appErrors.New(appErrors.ErrorTypeSchemaViolation, "unexpected output type from bedrock")
	}

	var content strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			content.WriteString(text.Value)
		}
	}
	if content.Len() == 0 {
		return "", appErrors.New(appErrors.ErrorTypeSchemaViolation, "empty response from bedrock")
	}
	return content.String(), nil
}

func int32Ptr(v int32) *int32       { return &v }
func float32Ptr(v float32) *float32 { return &v }

// imageFormat maps a MIME type onto Bedrock's Converse image format enum,
// defaulting to JPEG for anything unrecognized.
func imageFormat(mime string) types.ImageFormat {
	switch mime {
	case "image/png":
		return types.ImageFormatPng
	case "image/webp":
		return types.ImageFormatWebp
	case "image/gif":
		return types.ImageFormatGif
	default:
		return types.ImageFormatJpeg
	}
}

// classifyProviderError maps a transport error from either SDK onto the
// failure taxonomy of spec.md §4.3: only throttling/timeout/5xx are
// retryable.
func classifyProviderError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "throttl") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return appErrors.Wrap(err, appErrors.ErrorTypeRateLimit, "LLM request throttled")
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return appErrors.Wrap(err, appErrors.ErrorTypeTimeout, "LLM request timed out")
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return appErrors.Wrap(err, appErrors.ErrorTypeTimeout, "LLM provider returned a server error")
	default:
		return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "LLM request failed")
	}
}
