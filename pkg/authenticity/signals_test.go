package authenticity

import (
	"testing"

	"github.com/jordigilh/cardvault/pkg/cardmodel"
)

func TestTextMatchSignalWeightsNameSetRarity(t *testing.T) {
	metadata := cardmodel.CardMetadata{
		Name:   cardmodel.NewFieldResult("Charizard", 1.0, "r"),
		Set:    cardmodel.SingleSet("Base Set", 1.0, "r"),
		Rarity: cardmodel.NewFieldResult("Holo Rare", 1.0, "r"),
	}
	got := textMatchSignal(metadata)
	if got != 1.0 {
		t.Fatalf("expected perfect confidences to yield 1.0, got %v", got)
	}
}

func TestTextMatchSignalUsesTopAmbiguousCandidate(t *testing.T) {
	metadata := cardmodel.CardMetadata{
		Name: cardmodel.NewFieldResult("Charizard", 1.0, "r"),
		Set: cardmodel.AmbiguousSet(cardmodel.MultiCandidateResult[string]{
			Candidates: []cardmodel.Candidate[string]{{Value: "Base Set", Confidence: 0.6}, {Value: "Jungle", Confidence: 0.4}},
			Rationale:  "ambiguous",
		}),
		Rarity: cardmodel.NewFieldResult("Holo Rare", 1.0, "r"),
	}
	got := textMatchSignal(metadata)
	expected := 0.5*1.0 + 0.3*0.6 + 0.2*1.0
	if got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestHoloPatternSignalPenalizesMissingHoloOnHoloRarity(t *testing.T) {
	got := holoPatternSignal(0.05, "Holo Rare")
	if got != 0.2 {
		t.Fatalf("expected a flat 0.2 penalty, got %v", got)
	}
}

func TestHoloPatternSignalPenalizesUnexpectedHoloOnCommon(t *testing.T) {
	got := holoPatternSignal(0.8, "Common")
	if got != 0.3 {
		t.Fatalf("expected a flat 0.3 penalty, got %v", got)
	}
}

func TestBorderConsistencySignalPassesThroughSymmetry(t *testing.T) {
	got := borderConsistencySignal(cardmodel.BorderMetrics{SymmetryScore: 0.93})
	if got != 0.93 {
		t.Fatalf("expected 0.93, got %v", got)
	}
}

func TestFontValidationSignalPenalizesHighVariance(t *testing.T) {
	got := fontValidationSignal(cardmodel.FontMetrics{SizeVariance: fontSizeVarianceThreshold * 2})
	if got != 0 {
		t.Fatalf("expected variance at 2x threshold to clip to 0, got %v", got)
	}
}

func TestFontValidationSignalNoVarianceIsPerfect(t *testing.T) {
	got := fontValidationSignal(cardmodel.FontMetrics{SizeVariance: 0})
	if got != 1 {
		t.Fatalf("expected zero variance to score 1.0, got %v", got)
	}
}
