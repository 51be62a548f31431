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
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/jordigilh/cardvault/pkg/cardmodel"
)

// userPromptTemplate assembles the visual-context line, the per-region OCR
// block dump and the optional hints block built by buildUserPrompt into the
// final user message, via langchaingo's Go-template-backed PromptTemplate
// rather than hand-rolled string concatenation.
var userPromptTemplate = prompts.NewPromptTemplate(
	"Visual context: holoVariance={{.holoVariance}} borderSymmetry={{.borderSymmetry}} imageQuality={{.imageQuality}}\n\n{{.regions}}{{.hints}}",
	[]string{"holoVariance", "borderSymmetry", "imageQuality", "regions", "hints"},
)

// systemPrompt asserts the analyst role, forbids external lookups, fixes
// the JSON output schema, and fixes the confidence-band semantics
// (spec.md §4.3 step 1).
const systemPrompt = `You are a trading-card analyst. You examine OCR text extracted from a
photograph of a single trading card and infer its structured metadata. You never look up
information outside what is given to you; you reason only from the supplied OCR blocks and
visual context.

Confidence bands you MUST follow for every field:
  0.9 - 1.0  exact match, no ambiguity
  0.7 - 0.9  strong inference, minor ambiguity
  0.5 - 0.7  moderate inference, notable ambiguity
  0.3 - 0.5  weak inference, largely guessed
  < 0.3      absent; you could not determine this field

Respond with ONLY a JSON object of this exact shape, no prose before or after it:
{
  "name": {"value": string|null, "confidence": number, "rationale": string},
  "rarity": {"value": string|null, "confidence": number, "rationale": string},
  "set": {"value": string|null, "confidence": number, "rationale": string, "candidates": [{"value": string, "confidence": number}]},
  "setSymbol": {"value": string|null, "confidence": number, "rationale": string},
  "collectorNumber": {"value": string|null, "confidence": number, "rationale": string},
  "copyrightRun": {"value": string|null, "confidence": number, "rationale": string},
  "illustrator": {"value": string|null, "confidence": number, "rationale": string},
  "overallConfidence": number,
  "reasoningTrail": string,
  "verifiedByAI": boolean
}
"set.candidates" is optional: include it only when you are choosing among multiple plausible
set names, ranked strictly by descending confidence; omit it when you are confident in a single
value.`

// buildUserPrompt groups OCR blocks by vertical region and includes the
// quantified visual context (spec.md §4.3 step 2).
func buildUserPrompt(ctx OcrContext) string {
	var regions strings.Builder
	for _, region := range []cardmodel.VerticalRegion{cardmodel.RegionTop, cardmodel.RegionMiddle, cardmodel.RegionBottom} {
		fmt.Fprintf(&regions, "%s region:\n", region)
		any := false
		for _, block := range ctx.OCRBlocks {
			if block.Region() != region {
				continue
			}
			any = true
			fmt.Fprintf(&regions, "  [%s, conf=%.2f] %q\n", block.Type, block.Confidence, block.Text)
		}
		if !any {
			regions.WriteString("  (no blocks)\n")
		}
	}

	var hints strings.Builder
	if len(ctx.CardHints) > 0 {
		hints.WriteString("\nHints:\n")
		for key, values := range ctx.CardHints {
			fmt.Fprintf(&hints, "  %s: %s\n", key, strings.Join(values, ", "))
		}
	}

	out, err := userPromptTemplate.Format(map[string]any{
		"holoVariance":   fmt.Sprintf("%.3f", ctx.Visual.HoloVariance),
		"borderSymmetry": fmt.Sprintf("%.3f", ctx.Visual.BorderSymmetry),
		"imageQuality":   fmt.Sprintf("%.3f", ctx.Visual.ImageQuality),
		"regions":        regions.String(),
		"hints":          hints.String(),
	})
	if err != nil {
		// The template is a package-level constant validated at compile time
		// by prompt_test.go; a format error here means the template itself
		// is broken, not the input.
		panic(fmt.Sprintf("reasoning: user prompt template: %v", err))
	}
	return out
}
