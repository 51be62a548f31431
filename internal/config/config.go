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

// Package config loads and validates cardvault's pipeline configuration:
// LLM provider settings, per-stage retry/deadline policy, upload limits and
// the adapters fan-out list (spec.md §6 "Recognized configuration").
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LLMConfig configures deterministic LLM invocation, shared by the OCR
// Reasoning Agent, Pricing summary and Authenticity rationale calls.
type LLMConfig struct {
	Provider        string        `yaml:"provider" validate:"required,oneof=anthropic bedrock"`
	Endpoint        string        `yaml:"endpoint"`
	Model           string        `yaml:"model" validate:"required"`
	Temperature     float64       `yaml:"temperature" validate:"gte=0.1,lte=0.2"`
	MaxTokens       int           `yaml:"max_tokens" validate:"gt=0"`
	MaxRetries      int           `yaml:"max_retries" validate:"gte=0"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	Timeout         time.Duration `yaml:"timeout" validate:"required"`
	MaxContextSize  int           `yaml:"max_context_size"`
	CacheEnabled    bool          `yaml:"cache_enabled"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// UploadConfig bounds the Object Store Reader's presigned uploads (§4.9).
type UploadConfig struct {
	MaxSizeBytes  int64    `yaml:"max_size_bytes" validate:"gt=0"`
	AllowedMime   []string `yaml:"allowed_mime" validate:"required,min=1"`
	PresignTTL    time.Duration `yaml:"presign_ttl"`
}

// DeleteMode is the default deletion behavior for the Store Gateway (§4.8).
type DeleteMode string

const (
	DeleteModeSoft DeleteMode = "soft"
	DeleteModeHard DeleteMode = "hard"
)

// StageDeadlines carries the per-stage hard deadlines from spec.md §5.
type StageDeadlines struct {
	ExtractFeatures     time.Duration `yaml:"extract_features"`
	ReasonOCR           time.Duration `yaml:"reason_ocr"`
	PriceCard           time.Duration `yaml:"price_card"`
	VerifyAuthenticity  time.Duration `yaml:"verify_authenticity"`
	Aggregate           time.Duration `yaml:"aggregate"`
}

// DefaultStageDeadlines returns the design defaults of spec.md §5.
func DefaultStageDeadlines() StageDeadlines {
	return StageDeadlines{
		ExtractFeatures:    30 * time.Second,
		ReasonOCR:          30 * time.Second,
		PriceCard:          45 * time.Second,
		VerifyAuthenticity: 30 * time.Second,
		Aggregate:          10 * time.Second,
	}
}

// RetryPolicy parameterizes the shared retry combinator (spec.md §9) for one
// call site: a stage, an adapter, or the LLM client.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	JitterFrac  float64       `yaml:"jitter_frac"`
}

// StagePolicies carries the per-stage retry table of spec.md §4.1.
type StagePolicies struct {
	ExtractFeatures    RetryPolicy `yaml:"extract_features"`
	ReasonOCR          RetryPolicy `yaml:"reason_ocr"`
	PriceCard          RetryPolicy `yaml:"price_card"`
	VerifyAuthenticity RetryPolicy `yaml:"verify_authenticity"`
	Aggregate          RetryPolicy `yaml:"aggregate"`
}

// DefaultStagePolicies returns the exact retry table of spec.md §4.1.
func DefaultStagePolicies() StagePolicies {
	base := RetryPolicy{MaxAttempts: 2, BaseDelay: 2 * time.Second, Multiplier: 2.0, JitterFrac: 0.2}
	return StagePolicies{
		ExtractFeatures:    base,
		ReasonOCR:          base,
		PriceCard:          base,
		VerifyAuthenticity: base,
		Aggregate:          RetryPolicy{MaxAttempts: 1, BaseDelay: 2 * time.Second, Multiplier: 1, JitterFrac: 0},
	}
}

// RateLimitConfig bounds per-owner request rates (spec.md §9 Open Question,
// SPEC_FULL.md §13: left configurable, defaulting to a generous rate).
type RateLimitConfig struct {
	PerOwnerRPS float64 `yaml:"per_owner_rps"`
	Burst       int     `yaml:"burst"`
	// MaxInFlight bounds concurrent in-flight requests per client (spec.md
	// §5: "bounded in-flight request limit... design default 32").
	MaxInFlight int64 `yaml:"max_in_flight"`
}

// AuthenticityWeights exposes the composite weights of spec.md §4.5 as
// configuration rather than constants (SPEC_FULL.md §13).
type AuthenticityWeights struct {
	VisualHash         float64 `yaml:"visual_hash"`
	TextMatch          float64 `yaml:"text_match"`
	HoloPattern        float64 `yaml:"holo_pattern"`
	BorderConsistency  float64 `yaml:"border_consistency"`
	FontValidation     float64 `yaml:"font_validation"`
}

// DefaultAuthenticityWeights returns the design-suggestion weights of §4.5.
func DefaultAuthenticityWeights() AuthenticityWeights {
	return AuthenticityWeights{
		VisualHash:        0.35,
		TextMatch:         0.25,
		HoloPattern:       0.20,
		BorderConsistency: 0.10,
		FontValidation:    0.10,
	}
}

// MarketAdapterConfig locates and authenticates against one market adapter
// consulted by the Pricing Agent (spec.md §4.4 step 2).
type MarketAdapterConfig struct {
	Name         string   `yaml:"name" validate:"required"`
	Endpoint     string   `yaml:"endpoint" validate:"required"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`

	// CompsPath, PriceCentsPath, CurrencyPath and ConditionPath are jq
	// expressions (github.com/itchyny/gojq) locating the comparable-sale
	// array and its fields within this adapter's heterogeneous response
	// body. CompsPath must yield a stream of objects.
	CompsPath      string `yaml:"comps_path"`
	PriceCentsPath string `yaml:"price_cents_path"`
	CurrencyPath   string `yaml:"currency_path"`
	ConditionPath  string `yaml:"condition_path"`
}

// DefaultMarketAdapters returns the design-default three-adapter fan-out of
// spec.md §4.4 step 2.
func DefaultMarketAdapters() []MarketAdapterConfig {
	defaults := func(name, endpoint string) MarketAdapterConfig {
		return MarketAdapterConfig{
			Name:           name,
			Endpoint:       endpoint,
			CompsPath:      ".comparables[]",
			PriceCentsPath: ".priceCents",
			CurrencyPath:   ".currency",
			ConditionPath:  ".condition",
		}
	}
	return []MarketAdapterConfig{
		defaults("live-auction", "https://live-auction.internal/v1/comps"),
		defaults("marketplace", "https://marketplace.internal/v1/comps"),
		defaults("historical", "https://historical.internal/v1/comps"),
	}
}

// StoreConfig points at the DynamoDB-style table backing the Store Gateway.
type StoreConfig struct {
	TableName     string `yaml:"table_name"`
	CardIndexName string `yaml:"card_index_name"`
	Region        string `yaml:"region"`
}

// ObjectStoreConfig points at the S3-style bucket backing the Object Store Reader.
type ObjectStoreConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// IdempotencyConfig points at the Postgres ledger backing execution dedup.
type IdempotencyConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig backs the rate limiter and LLM response cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DeadLetterConfig backs the Error Persistor's dead-letter delivery: an SQS
// queue holds the structured message for replay tooling, an optional Slack
// channel gets a human-readable summary for operator review (spec.md
// §4.10).
type DeadLetterConfig struct {
	QueueURL      string `yaml:"queue_url"`
	SlackChannel  string `yaml:"slack_channel"`
	SlackToken    string `yaml:"slack_token"`
	Region        string `yaml:"region"`
}

// EventBusConfig points at the queues the Store Gateway and Aggregator
// publish their domain events onto: CardCreated drives the Event Trigger,
// CardValuationCompleted notifies downstream consumers of a completed
// valuation (spec.md §6).
type EventBusConfig struct {
	CardCreatedQueueURL             string `yaml:"card_created_queue_url"`
	CardValuationCompletedQueueURL  string `yaml:"card_valuation_completed_queue_url"`
	Region                          string `yaml:"region"`
}

// ServerConfig binds the Event Trigger's HTTP listener and the separate
// metrics/health listener (spec.md §6 observability surface).
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MetricsPort  int           `yaml:"metrics_port"`
}

// Config is the root configuration object for the cardvault pipeline.
type Config struct {
	Server            ServerConfig        `yaml:"server"`
	LLM               LLMConfig           `yaml:"llm"`
	Upload            UploadConfig        `yaml:"upload"`
	DeleteMode        DeleteMode          `yaml:"delete_mode" validate:"oneof=soft hard"`
	AdaptersEnabled   []string            `yaml:"adapters_enabled" validate:"min=1"`
	Adapters          []MarketAdapterConfig `yaml:"adapters"`
	ExecutionDeadline time.Duration       `yaml:"execution_deadline"`
	StageDeadlines    StageDeadlines      `yaml:"stage_deadlines"`
	StagePolicies     StagePolicies       `yaml:"stage_policies"`
	RateLimit         RateLimitConfig     `yaml:"rate_limit"`
	AuthWeights       AuthenticityWeights `yaml:"authenticity_weights"`
	Store             StoreConfig         `yaml:"store"`
	ObjectStore       ObjectStoreConfig   `yaml:"object_store"`
	Idempotency       IdempotencyConfig   `yaml:"idempotency"`
	Redis             RedisConfig         `yaml:"redis"`
	DeadLetter        DeadLetterConfig    `yaml:"dead_letter"`
	EventBus          EventBusConfig      `yaml:"event_bus"`
}

var validate = validator.New()

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return cfg, nil
}

// Watch reloads path whenever it changes on disk and invokes onReload with
// the freshly loaded configuration. It never replaces a config the caller is
// already using; callers that want hot-reload (SPEC_FULL.md §6: non-secret
// tunables such as AdaptersEnabled, StagePolicies and RateLimit) must apply
// onReload's result themselves, typically behind a mutex or atomic.Pointer.
// The watch goroutine runs until the returned stop func closes the watcher.
func Watch(path string, onReload func(*Config, error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching config file %q: %w", path, err)
	}

	logger := logrus.WithField("component", "config-watcher")
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, loadErr := Load(path)
				if loadErr != nil {
					logger.WithError(loadErr).Warn("config reload failed, keeping previous configuration")
				}
				onReload(cfg, loadErr)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(watchErr).Warn("config watcher error")
			}
		}
	}()

	return watcher.Close, nil
}

// Default returns a configuration populated with every spec.md §6 design
// default, suitable as a base for Load to unmarshal overrides onto.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			MetricsPort:  9090,
		},
		LLM: LLMConfig{
			Provider:       "anthropic",
			Temperature:    0.15,
			MaxTokens:      4096,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
			Timeout:        20 * time.Second,
			MaxContextSize: 8000,
			CacheEnabled:   false,
			CacheTTL:       7 * 24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSizeBytes: 12 * 1024 * 1024,
			AllowedMime:  []string{"image/jpeg", "image/png", "image/heic"},
			PresignTTL:   60 * time.Second,
		},
		DeleteMode:        DeleteModeSoft,
		AdaptersEnabled:   []string{"live-auction", "marketplace", "historical"},
		Adapters:          DefaultMarketAdapters(),
		ExecutionDeadline: 120 * time.Second,
		StageDeadlines:    DefaultStageDeadlines(),
		StagePolicies:     DefaultStagePolicies(),
		RateLimit:         RateLimitConfig{PerOwnerRPS: 10, Burst: 20, MaxInFlight: 32},
		AuthWeights:       DefaultAuthenticityWeights(),
	}
}
