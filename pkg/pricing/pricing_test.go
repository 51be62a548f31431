package pricing

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

func TestPricing(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pricing Agent Suite")
}

type fakeAdapter struct {
	name    string
	comps   []Comparable
	err     error
	callsN  int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchComparables(ctx context.Context, q Query) ([]Comparable, error) {
	f.callsN++
	return f.comps, f.err
}

type fakeSummaryLLM struct {
	response string
	err      error
}

func (f *fakeSummaryLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return f.response, f.err
}

func namedMetadata(name string) cardmodel.CardMetadata {
	return cardmodel.CardMetadata{
		Name:              cardmodel.NewFieldResult(name, 0.9, "matched"),
		Set:               cardmodel.SingleSet("Base Set", 0.8, "matched"),
		CollectorNumber:   cardmodel.NewFieldResult("4/102", 0.9, "matched"),
		Rarity:            cardmodel.NewFieldResult("Holo Rare", 0.8, "matched"),
		OverallConfidence: 0.85,
		ReasoningTrail:    "test fixture",
		VerifiedByAI:      true,
	}
}

var _ = Describe("Agent.Price", func() {
	var logger *logrus.Logger

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	})

	It("produces EmptyPricingResult when every adapter returns nothing", func() {
		a1 := &fakeAdapter{name: "live-auction"}
		a2 := &fakeAdapter{name: "marketplace"}
		agent := NewAgent([]Adapter{a1, a2}, nil, logger)

		result := agent.Price(context.Background(), cardmodel.FeatureEnvelope{}, namedMetadata("Charizard"))

		Expect(result.CompsCount).To(Equal(0))
		Expect(result.Confidence).To(Equal(0.0))
		Expect(result.Summary.Trend).To(Equal(cardmodel.TrendStable))
		Expect(result.ValueMedianCents).To(BeNil())
	})

	It("produces EmptyPricingResult when an adapter errors (never an upstream error)", func() {
		a1 := &fakeAdapter{name: "live-auction", err: appErrors.New(appErrors.ErrorTypeTransient, "down")}
		agent := NewAgent([]Adapter{a1}, nil, logger)

		result := agent.Price(context.Background(), cardmodel.FeatureEnvelope{}, namedMetadata("Charizard"))

		Expect(result.CompsCount).To(Equal(0))
	})

	It("computes percentiles and statistics-only summary over retained comparables", func() {
		comps := []Comparable{
			{PriceCents: 1000, Currency: "USD", Condition: "near mint", Source: "live-auction"},
			{PriceCents: 1200, Currency: "USD", Condition: "near mint", Source: "live-auction"},
			{PriceCents: 1100, Currency: "USD", Condition: "near mint", Source: "marketplace"},
			{PriceCents: 1300, Currency: "USD", Condition: "near mint", Source: "marketplace"},
		}
		a1 := &fakeAdapter{name: "live-auction", comps: comps[:2]}
		a2 := &fakeAdapter{name: "marketplace", comps: comps[2:]}
		agent := NewAgent([]Adapter{a1, a2}, nil, logger)

		features := cardmodel.FeatureEnvelope{Borders: cardmodel.BorderMetrics{SymmetryScore: 0.95}, Quality: cardmodel.ImageQuality{Blur: 0.1}}
		result := agent.Price(context.Background(), features, namedMetadata("Charizard"))

		Expect(result.CompsCount).To(Equal(4))
		Expect(result.Sources).To(ConsistOf("live-auction", "marketplace"))
		Expect(*result.ValueMedianCents).To(BeNumerically(">", 0))
		Expect(result.Summary.Rationale).To(ContainSubstring("statistics-only"))
	})

	It("uses the LLM summary when it succeeds", func() {
		comps := []Comparable{
			{PriceCents: 1000, Currency: "USD", Condition: "near mint", Source: "live-auction"},
			{PriceCents: 1100, Currency: "USD", Condition: "near mint", Source: "live-auction"},
			{PriceCents: 1200, Currency: "USD", Condition: "near mint", Source: "live-auction"},
			{PriceCents: 1300, Currency: "USD", Condition: "near mint", Source: "live-auction"},
		}
		a1 := &fakeAdapter{name: "live-auction", comps: comps}
		llmClient := &fakeSummaryLLM{response: `{"fairValueCents": 1150, "trend": "up", "confidence": 0.7, "rationale": "steady climb"}`}
		agent := NewAgent([]Adapter{a1}, llmClient, logger)

		result := agent.Price(context.Background(), cardmodel.FeatureEnvelope{}, namedMetadata("Charizard"))

		Expect(result.Summary.Trend).To(Equal(cardmodel.TrendUp))
		Expect(result.Summary.Rationale).To(Equal("steady climb"))
		Expect(*result.Summary.FairValueCents).To(Equal(int64(1150)))
	})

	It("falls back to statistics when the LLM summary call fails", func() {
		comps := []Comparable{
			{PriceCents: 1000, Currency: "USD", Condition: "near mint", Source: "live-auction"},
			{PriceCents: 1100, Currency: "USD", Condition: "near mint", Source: "live-auction"},
			{PriceCents: 1200, Currency: "USD", Condition: "near mint", Source: "live-auction"},
			{PriceCents: 1300, Currency: "USD", Condition: "near mint", Source: "live-auction"},
		}
		a1 := &fakeAdapter{name: "live-auction", comps: comps}
		llmClient := &fakeSummaryLLM{err: appErrors.New(appErrors.ErrorTypeTimeout, "timed out")}
		agent := NewAgent([]Adapter{a1}, llmClient, logger)

		result := agent.Price(context.Background(), cardmodel.FeatureEnvelope{}, namedMetadata("Charizard"))

		Expect(result.Summary.Rationale).To(ContainSubstring("statistics-only"))
	})
})

func TestComposeQueryPrefersSingleSetValue(t *testing.T) {
	metadata := namedMetadata("Charizard")
	q := ComposeQuery(cardmodel.FeatureEnvelope{}, metadata)

	if q.Name != "Charizard" || q.Set != "Base Set" || q.CollectorNumber != "4/102" {
		t.Fatalf("unexpected query: %+v", q)
	}
}

func TestEstimateConditionFlagsGlareAsPlayed(t *testing.T) {
	features := cardmodel.FeatureEnvelope{Quality: cardmodel.ImageQuality{GlareDetected: true}}
	if estimateCondition(features) != bandModeratePlay {
		t.Fatalf("expected moderately-played for a glare-affected image")
	}
}
