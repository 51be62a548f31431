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

package pricing

import (
	"fmt"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/llm"
)

// summarySystemPrompt fixes the Pricing Agent's LLM summary call to
// statistics-only narration: it is forbidden from inventing comparables,
// per spec.md §4.3's "forbidding external lookups" applied by analogy to
// the pricing summary (same configuration bounds, §4.4 step 6).
const summarySystemPrompt = `You are a trading-card market analyst. You are given only
the statistics below; you must never invent comparable sales or claim
knowledge beyond them. Respond with exactly one JSON object, no markdown
fence, matching this schema:
{
  "fairValueCents": <integer>,
  "trend": "up" | "down" | "stable",
  "confidence": <float 0..1>,
  "rationale": "<one or two sentences>"
}`

func buildSummaryPrompt(compsCount int, low, median, high int64, trend cardmodel.Trend) string {
	return fmt.Sprintf(
		"compsCount=%d valueLowCents=%d valueMedianCents=%d valueHighCents=%d statisticalTrend=%s",
		compsCount, low, median, high, trend,
	)
}

type summaryWire struct {
	FairValueCents int64          `json:"fairValueCents"`
	Trend          cardmodel.Trend `json:"trend"`
	Confidence     float64        `json:"confidence"`
	Rationale      string         `json:"rationale"`
}

func decodeSummary(raw string) (cardmodel.PricingSummary, error) {
	env, err := llm.DecodeEnvelope(raw)
	if err != nil {
		return cardmodel.PricingSummary{}, err
	}

	var wire summaryWire
	for key, out := range map[string]interface{}{
		"fairValueCents": &wire.FairValueCents,
		"trend":          &wire.Trend,
		"confidence":     &wire.Confidence,
		"rationale":      &wire.Rationale,
	} {
		if err := env.Field(key, out); err != nil {
			return cardmodel.PricingSummary{}, err
		}
	}
	switch wire.Trend {
	case cardmodel.TrendUp, cardmodel.TrendDown, cardmodel.TrendStable:
	default:
		return cardmodel.PricingSummary{}, appErrors.New(appErrors.ErrorTypeSchemaViolation, fmt.Sprintf("invalid trend %q", wire.Trend))
	}
	fairValue := wire.FairValueCents
	return cardmodel.PricingSummary{
		FairValueCents: &fairValue,
		Trend:          wire.Trend,
		Rationale:      wire.Rationale,
	}, nil
}
