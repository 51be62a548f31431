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

package vision

import (
	"context"
	"encoding/json"
	"fmt"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/llm"
)

// Label is one moderation or content label with a confidence in [0,1],
// matching the shape spec.md §4.2 steps 2-3 reason about.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Detector is the seam between the Feature Extractor's fixed pipeline and
// whatever produces moderation labels, card-type labels and OCR blocks for a
// raw image. The only implementation wired in this module asks the
// deterministic LLM client to describe the image (spec.md names no vision
// SDK; the multimodal reasoning call already built for OCR Reasoning is the
// natural home for this).
type Detector interface {
	DetectLabels(ctx context.Context, image []byte, mime string) ([]Label, error)
	DetectText(ctx context.Context, image []byte, mime string) ([]cardmodel.OCRBlock, error)
}

// llmDetector is the default Detector, backed by llm.Client.
type llmDetector struct {
	client llm.Client
}

// NewLLMDetector builds a Detector that uses client for both label detection
// and OCR block extraction.
func NewLLMDetector(client llm.Client) Detector {
	return &llmDetector{client: client}
}

const labelSystemPrompt = `You are an image content classifier for a trading-card scanning pipeline.
Given a photograph, list every label you can detect with your estimated confidence in [0,1].
Always include a judgment for each of these candidate labels, emitting 0 when absent:
explicit nudity, suggestive, violence, visually disturbing, rude gestures, drugs, tobacco,
alcohol, gambling, hate symbols, exposed body parts, partial nudity,
person, human, face, portrait, animal, pet, dog, cat, bird, food, meal, dish,
vehicle, car, truck, building, architecture, nature, landscape, screen, monitor,
television, furniture, chair, table,
text, document, paper, card, poster, flyer, advertisement, art, drawing, painting,
reflective, metallic, shiny, glossy.
Respond with ONLY a JSON array of objects shaped {"name": string, "confidence": number}, no prose.`

func (d *llmDetector) DetectLabels(ctx context.Context, image []byte, mime string) ([]Label, error) {
	resp, err := d.client.Complete(ctx, llm.Request{
		SystemPrompt: labelSystemPrompt,
		UserPrompt:   "Classify this image.",
		ImageData:    image,
		ImageMIME:    mime,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeTransient, "label detection failed")
	}

	extracted, err := llm.ExtractJSON(resp)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeTransient, "label detector returned malformed JSON")
	}

	var labels []Label
	if err := json.Unmarshal([]byte(extracted), &labels); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeTransient, "decoding label detection response")
	}
	return labels, nil
}

const ocrSystemPrompt = `You are an OCR engine for a trading-card scanning pipeline.
Given a photograph of a trading card, extract every line and word of visible text.
For each span, report: the recognized text, your confidence in [0,1], a normalized bounding
box (left, top, width, height, each in [0,1] relative to image dimensions), and whether the
span is a "LINE" or a "WORD".
Respond with ONLY a JSON array of objects shaped
{"text": string, "confidence": number, "box": {"left": number, "top": number, "width": number, "height": number}, "type": "LINE"|"WORD"},
no prose.`

type ocrBlockWire struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        struct {
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"box"`
	Type string `json:"type"`
}

func (d *llmDetector) DetectText(ctx context.Context, image []byte, mime string) ([]cardmodel.OCRBlock, error) {
	resp, err := d.client.Complete(ctx, llm.Request{
		SystemPrompt: ocrSystemPrompt,
		UserPrompt:   "Extract all text from this card image.",
		ImageData:    image,
		ImageMIME:    mime,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeTransient, "OCR extraction failed")
	}

	extracted, err := llm.ExtractJSON(resp)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeTransient, "OCR engine returned malformed JSON")
	}

	var wire []ocrBlockWire
	if err := json.Unmarshal([]byte(extracted), &wire); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeTransient, "decoding OCR response")
	}

	blocks := make([]cardmodel.OCRBlock, 0, len(wire))
	for _, w := range wire {
		blockType := cardmodel.BlockTypeWord
		if w.Type == string(cardmodel.BlockTypeLine) {
			blockType = cardmodel.BlockTypeLine
		}
		block := cardmodel.OCRBlock{
			Text:       w.Text,
			Confidence: w.Confidence,
			Box: cardmodel.BoundingBox{
				Left:   w.Box.Left,
				Top:    w.Box.Top,
				Width:  w.Box.Width,
				Height: w.Box.Height,
			},
			Type: blockType,
		}
		if err := block.Validate(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrorTypeTransient, fmt.Sprintf("OCR block %q failed validation", w.Text))
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
