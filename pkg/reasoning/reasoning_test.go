package reasoning

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/llm"
)

func TestReasoning(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "OCR Reasoning Agent Suite")
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return f.response, f.err
}

func ctxWithTopLine() OcrContext {
	return OcrContext{
		OCRBlocks: []cardmodel.OCRBlock{
			{Text: "Charizard", Type: cardmodel.BlockTypeLine, Confidence: 0.9, Box: cardmodel.BoundingBox{Top: 0.1}},
		},
	}
}

var _ = Describe("Agent.Reason", func() {
	var logger *logrus.Logger

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	})

	It("returns a Reasoned outcome for a well-formed response", func() {
		agent := NewAgent(&fakeLLM{response: validEnvelope}, logger)

		outcome := agent.Reason(context.Background(), ctxWithTopLine())

		Expect(outcome.WasFallback).To(BeFalse())
		Expect(*outcome.Metadata.Name.Value).To(Equal("Charizard"))
		Expect(outcome.Metadata.VerifiedByAI).To(BeTrue())
	})

	It("falls back when the LLM call fails", func() {
		agent := NewAgent(&fakeLLM{err: appErrors.New(appErrors.ErrorTypeTimeout, "timed out")}, logger)

		outcome := agent.Reason(context.Background(), ctxWithTopLine())

		Expect(outcome.WasFallback).To(BeTrue())
		Expect(outcome.Metadata.OverallConfidence).To(Equal(0.3))
		Expect(outcome.Metadata.VerifiedByAI).To(BeFalse())
		Expect(*outcome.Metadata.Name.Value).To(Equal("Charizard"))
	})

	It("falls back when the response is not valid JSON", func() {
		agent := NewAgent(&fakeLLM{response: "I cannot help with that."}, logger)

		outcome := agent.Reason(context.Background(), ctxWithTopLine())

		Expect(outcome.WasFallback).To(BeTrue())
	})

	It("falls back when the response fails schema validation", func() {
		agent := NewAgent(&fakeLLM{response: `{"name": {"value": "x", "confidence": 2.0, "rationale": "r"}}`}, logger)

		outcome := agent.Reason(context.Background(), ctxWithTopLine())

		Expect(outcome.WasFallback).To(BeTrue())
	})

	It("produces an absent name when no top line exists", func() {
		agent := NewAgent(&fakeLLM{err: appErrors.New(appErrors.ErrorTypeTimeout, "timed out")}, logger)

		outcome := agent.Reason(context.Background(), OcrContext{})

		Expect(outcome.WasFallback).To(BeTrue())
		Expect(outcome.Metadata.Name.Present()).To(BeFalse())
	})

	It("unwraps a multi-candidate set and sorts by descending confidence", func() {
		envelope := `{
			"name": {"value": "Charizard", "confidence": 0.9, "rationale": "r"},
			"rarity": {"value": null, "confidence": 0, "rationale": "r"},
			"set": {"value": null, "confidence": 0.4, "rationale": "ambiguous",
				"candidates": [{"value": "Jungle", "confidence": 0.4}, {"value": "Base Set", "confidence": 0.6}]},
			"setSymbol": {"value": null, "confidence": 0, "rationale": "r"},
			"collectorNumber": {"value": null, "confidence": 0, "rationale": "r"},
			"copyrightRun": {"value": null, "confidence": 0, "rationale": "r"},
			"illustrator": {"value": null, "confidence": 0, "rationale": "r"},
			"overallConfidence": 0.6,
			"reasoningTrail": "ambiguous set",
			"verifiedByAI": true
		}`
		agent := NewAgent(&fakeLLM{response: envelope}, logger)

		outcome := agent.Reason(context.Background(), ctxWithTopLine())

		Expect(outcome.WasFallback).To(BeFalse())
		Expect(outcome.Metadata.Set.Multi).ToNot(BeNil())
		Expect(outcome.Metadata.Set.Multi.Candidates[0].Value).To(Equal("Base Set"))
		Expect(outcome.Metadata.Set.Multi.Candidates[1].Value).To(Equal("Jungle"))
	})
})
