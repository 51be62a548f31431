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

package reasoning

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/sirupsen/logrus"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/llm"
)

// Agent is the OCR Reasoning Agent.
type Agent struct {
	llm    llm.Client
	logger *logrus.Entry
}

// NewAgent builds an Agent over the shared deterministic LLM client.
func NewAgent(client llm.Client, logger *logrus.Logger) *Agent {
	return &Agent{llm: client, logger: logger.WithField("component", "reasoning")}
}

// Reason turns ctx into a validated CardMetadata, falling back to a
// deterministic reduced-confidence metadata on any non-retryable failure
// (spec.md §4.3 steps 1-6). Reason itself never returns an error for a
// reasoning failure: per SPEC_FULL.md §9's ReasoningOutcome design note,
// the orchestrator branches on WasFallback rather than catching an error.
func (a *Agent) Reason(ctx context.Context, ocrCtx OcrContext) cardmodel.ReasoningOutcome {
	metadata, err := a.reasonOnce(ctx, ocrCtx)
	if err != nil {
		a.logger.WithError(err).Warn("OCR reasoning fell back to deterministic metadata")
		text, confidence := ocrCtx.topLine()
		return cardmodel.FellBack(cardmodel.FallbackMetadata(text, confidence))
	}
	return cardmodel.Reasoned(metadata)
}

func (a *Agent) reasonOnce(ctx context.Context, ocrCtx OcrContext) (cardmodel.CardMetadata, error) {
	userPrompt := buildUserPrompt(ocrCtx)

	resp, err := a.llm.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		CacheKey:     cacheKey(ocrCtx),
	})
	if err != nil {
		return cardmodel.CardMetadata{}, err
	}

	extracted, err := llm.ExtractJSON(resp)
	if err != nil {
		return cardmodel.CardMetadata{}, err
	}

	doc, err := validateEnvelope(extracted)
	if err != nil {
		return cardmodel.CardMetadata{}, err
	}

	var wire wireEnvelope
	if err := json.Unmarshal(mustMarshal(doc), &wire); err != nil {
		return cardmodel.CardMetadata{}, appErrors.Wrap(err, appErrors.ErrorTypeSchemaViolation, "decoding reasoning envelope")
	}

	metadata := wire.toCardMetadata(ocrCtx.CardHints["knownSets"])
	if err := metadata.Validate(); err != nil {
		return cardmodel.CardMetadata{}, appErrors.Wrap(err, appErrors.ErrorTypeSchemaViolation, "reasoning envelope violated CardMetadata invariants")
	}
	return metadata, nil
}

// cacheKey derives a cache key from the OCR text content so identical
// (ocrContext, model-id) pairs short-circuit to the same completion,
// preserving the determinism contract of spec.md §4.3.
func cacheKey(ctx OcrContext) string {
	var text string
	for _, b := range ctx.OCRBlocks {
		text += b.Text + "|"
	}
	return text
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// --- wire decode types, mirroring the system prompt's fixed JSON schema ---

type wireField struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func (w wireField) toFieldResult() cardmodel.FieldResult[string] {
	if w.Value == nil || *w.Value == "" {
		return cardmodel.AbsentFieldResult[string](w.Confidence, w.Rationale)
	}
	return cardmodel.NewFieldResult(*w.Value, w.Confidence, w.Rationale)
}

type wireCandidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type wireSetField struct {
	wireField
	Candidates []wireCandidate `json:"candidates"`
}

func (w wireSetField) toSetResult(knownSets []string) cardmodel.SetResult {
	if len(w.Candidates) == 0 {
		field := w.wireField
		if field.Value != nil && len(knownSets) > 0 {
			if match, _, ok := bestFuzzyMatch(*field.Value, knownSets); ok {
				*field.Value = match
			}
		}
		return cardmodel.SingleSet(valueOr(field.Value), field.Confidence, field.Rationale)
	}

	candidates := make([]cardmodel.Candidate[string], 0, len(w.Candidates))
	for _, c := range w.Candidates {
		candidates = append(candidates, cardmodel.Candidate[string]{Value: c.Value, Confidence: c.Confidence})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })

	var value *string
	if w.Value != nil {
		v := *w.Value
		value = &v
	} else if len(candidates) > 0 {
		v := candidates[0].Value
		value = &v
	}

	return cardmodel.AmbiguousSet(cardmodel.MultiCandidateResult[string]{
		Value:      value,
		Candidates: candidates,
		Rationale:  w.Rationale,
	})
}

func valueOr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

type wireEnvelope struct {
	Name              wireField    `json:"name"`
	Rarity            wireField    `json:"rarity"`
	Set               wireSetField `json:"set"`
	SetSymbol         wireField    `json:"setSymbol"`
	CollectorNumber   wireField    `json:"collectorNumber"`
	CopyrightRun      wireField    `json:"copyrightRun"`
	Illustrator       wireField    `json:"illustrator"`
	OverallConfidence float64      `json:"overallConfidence"`
	ReasoningTrail    string       `json:"reasoningTrail"`
	VerifiedByAI      bool         `json:"verifiedByAI"`
}

func (w wireEnvelope) toCardMetadata(knownSets []string) cardmodel.CardMetadata {
	return cardmodel.CardMetadata{
		Name:              w.Name.toFieldResult(),
		Rarity:            w.Rarity.toFieldResult(),
		Set:               w.Set.toSetResult(knownSets),
		SetSymbol:         w.SetSymbol.toFieldResult(),
		CollectorNumber:   w.CollectorNumber.toFieldResult(),
		CopyrightRun:      w.CopyrightRun.toFieldResult(),
		Illustrator:       w.Illustrator.toFieldResult(),
		OverallConfidence: w.OverallConfidence,
		ReasoningTrail:    w.ReasoningTrail,
		VerifiedByAI:      w.VerifiedByAI,
	}
}
