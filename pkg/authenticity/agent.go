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

package authenticity

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/cardvault/internal/config"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/llm"
	"github.com/jordigilh/cardvault/pkg/objectstore"
)

// fakeDetectedThreshold is the fixed design constant of spec.md §4.5:
// "fakeDetected = (score < 0.5)".
const fakeDetectedThreshold = 0.5

// Agent is the Authenticity Agent (spec.md §4.5).
type Agent struct {
	objects   objectstore.Reader
	reference ReferenceTable
	weights   config.AuthenticityWeights
	llmClient llm.Client
	logger    *logrus.Entry
}

// NewAgent constructs an Authenticity Agent. llmClient may be nil, in which
// case every rationale is synthesized from signals alone.
func NewAgent(objects objectstore.Reader, reference ReferenceTable, weights config.AuthenticityWeights, llmClient llm.Client, logger *logrus.Logger) *Agent {
	return &Agent{
		objects:   objects,
		reference: reference,
		weights:   weights,
		llmClient: llmClient,
		logger:    logger.WithField("component", "authenticity"),
	}
}

// Verify turns (features, metadata, imageRef) into an AuthenticityResult
// (spec.md §4.5's public operation). It decodes the image at imageRef to
// compute the perceptual hash; every other signal derives from features
// and metadata already in hand.
func (a *Agent) Verify(ctx context.Context, features cardmodel.FeatureEnvelope, metadata cardmodel.CardMetadata, imageRef string) (cardmodel.AuthenticityResult, error) {
	raw, err := a.objects.Get(ctx, imageRef)
	if err != nil {
		return cardmodel.AuthenticityResult{}, fmt.Errorf("fetch image for authenticity check: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return cardmodel.AuthenticityResult{}, fmt.Errorf("decode image for authenticity check: %w", err)
	}

	hash := PerceptualHash(img)
	setName, _ := metadata.Set.BestValue()
	number := ""
	if metadata.CollectorNumber.Value != nil {
		number = *metadata.CollectorNumber.Value
	}
	rarity := ""
	if metadata.Rarity.Value != nil {
		rarity = *metadata.Rarity.Value
	}

	signals := map[string]float64{
		cardmodel.SignalVisualHash:  visualHashSignal(a.reference, ReferenceKey{Set: setName, CollectorNumber: number}, hash),
		cardmodel.SignalTextMatch:   textMatchSignal(metadata),
		cardmodel.SignalHoloPattern: holoPatternSignal(features.HoloVariance, rarity),
		"borderConsistency":         borderConsistencySignal(features.Borders),
		"fontValidation":            fontValidationSignal(features.Font),
	}

	score := a.weights.VisualHash*signals[cardmodel.SignalVisualHash] +
		a.weights.TextMatch*signals[cardmodel.SignalTextMatch] +
		a.weights.HoloPattern*signals[cardmodel.SignalHoloPattern] +
		a.weights.BorderConsistency*signals["borderConsistency"] +
		a.weights.FontValidation*signals["fontValidation"]

	fakeDetected := score < fakeDetectedThreshold

	rationale, verifiedByAI := a.rationale(ctx, signals, score)

	result := cardmodel.AuthenticityResult{
		Score:        score,
		FakeDetected: fakeDetected,
		VerifiedByAI: verifiedByAI,
		Signals:      signals,
		Rationale:    rationale,
	}
	return result, nil
}

// rationale invokes the optional LLM rationale generator (spec.md §4.5:
// "same retry contract as §4.3"); on any failure or absent client, it
// synthesizes a rationale from the highest and lowest signals instead.
func (a *Agent) rationale(ctx context.Context, signals map[string]float64, score float64) (string, bool) {
	if a.llmClient == nil {
		return synthesizeRationale(signals, score), false
	}
	prompt := buildRationalePrompt(signals, score)
	response, err := a.llmClient.Complete(ctx, llm.Request{
		SystemPrompt: rationaleSystemPrompt,
		UserPrompt:   prompt,
	})
	if err != nil {
		a.logger.WithError(err).Warn("authenticity rationale LLM call failed, synthesizing from signals")
		return synthesizeRationale(signals, score), false
	}
	return response, true
}

func synthesizeRationale(signals map[string]float64, score float64) string {
	type kv struct {
		key   string
		value float64
	}
	ordered := make([]kv, 0, len(signals))
	for k, v := range signals {
		ordered = append(ordered, kv{k, v})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].value > ordered[j].value })
	if len(ordered) == 0 {
		return fmt.Sprintf("composite score %.2f computed with no signals available", score)
	}
	strongest := ordered[0]
	weakest := ordered[len(ordered)-1]
	return fmt.Sprintf(
		"composite score %.2f: strongest signal %s (%.2f), weakest signal %s (%.2f)",
		score, strongest.key, strongest.value, weakest.key, weakest.value,
	)
}
