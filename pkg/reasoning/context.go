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

// Package reasoning implements the OCR Reasoning Agent: it turns an
// OcrContext into a validated CardMetadata via deterministic LLM inference,
// falling back to a reduced-confidence metadata when the model is
// unavailable or its output fails schema validation (spec.md §4.3).
package reasoning

import "github.com/jordigilh/cardvault/pkg/cardmodel"

// VisualContext is the quantified subset of a FeatureEnvelope the reasoning
// prompt includes alongside the OCR blocks (spec.md §4.3).
type VisualContext struct {
	HoloVariance   float64
	BorderSymmetry float64
	ImageQuality   float64
}

// OcrContext is the OCR Reasoning Agent's input (spec.md §4.3).
type OcrContext struct {
	OCRBlocks     []cardmodel.OCRBlock
	Visual        VisualContext
	CardHints     map[string][]string
}

// NewOcrContext derives an OcrContext from a Vision Feature Extractor
// envelope, optionally carrying caller-supplied hints (e.g. a known-sets
// list used by the fuzzy set-name matcher).
func NewOcrContext(envelope cardmodel.FeatureEnvelope, cardHints map[string][]string) OcrContext {
	return OcrContext{
		OCRBlocks: envelope.OCRBlocks,
		Visual: VisualContext{
			HoloVariance:   envelope.HoloVariance,
			BorderSymmetry: envelope.Borders.SymmetryScore,
			ImageQuality:   1 - envelope.Quality.Blur,
		},
		CardHints: cardHints,
	}
}

// topLine returns the text and confidence of the highest-confidence LINE
// block in the top region, used by the step-6 fallback (spec.md §4.3).
func (c OcrContext) topLine() (text string, confidence float64) {
	for _, b := range c.OCRBlocks {
		if b.Type != cardmodel.BlockTypeLine || b.Region() != cardmodel.RegionTop {
			continue
		}
		if b.Confidence > confidence {
			text, confidence = b.Text, b.Confidence
		}
	}
	return text, confidence
}
