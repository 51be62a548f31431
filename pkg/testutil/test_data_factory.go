package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/events"
)

// Test data constants - eliminate magic values across suites that build
// their own fixtures on top of the factory.
const (
	DefaultTestOwnerID  = "owner-test-1"
	DefaultTestCardID   = "card-test-1"
	DefaultTestFrontKey = "uploads/owner-test-1/front.jpg"
	DefaultTestBackKey  = "uploads/owner-test-1/back.jpg"

	DefaultCardName          = "Charizard"
	DefaultCardSet           = "Base Set"
	DefaultCardRarity        = "Holo Rare"
	DefaultFieldConfidence   = 0.9
	DefaultOverallConfidence = 0.88

	DefaultCompsCount  = 5
	DefaultMedianCents = int64(15000)
	DefaultAuthScore   = 0.92
)

// TestDataFactory provides centralized test fixture creation for the card
// valuation pipeline: feature envelopes, reasoned metadata, pricing and
// authenticity results, persisted records, and the CardCreated event that
// starts a run. Centralizing fixture construction here keeps per-suite
// fakes from drifting from the invariants cardmodel enforces.
type TestDataFactory struct{}

// NewTestDataFactory creates a new test data factory.
func NewTestDataFactory() *TestDataFactory {
	return &TestDataFactory{}
}

// =============================================================================
// FEATURE ENVELOPE PATTERNS
// =============================================================================

// CreateStandardFeatureEnvelope returns a well-formed envelope as the
// Vision Feature Extractor would produce for a clean, front-facing photo.
func (f *TestDataFactory) CreateStandardFeatureEnvelope() cardmodel.FeatureEnvelope {
	return cardmodel.FeatureEnvelope{
		OCRBlocks: []cardmodel.OCRBlock{
			f.CreateOCRBlock("Charizard", 0.95, cardmodel.RegionTop),
			f.CreateOCRBlock("Base Set", 0.9, cardmodel.RegionBottom),
		},
		Borders: cardmodel.BorderMetrics{
			TopBrightness: 0.8, BottomBrightness: 0.79,
			LeftBrightness: 0.81, RightBrightness: 0.8,
			SymmetryScore: 0.95,
		},
		HoloVariance: 0.4,
		Font: cardmodel.FontMetrics{
			Kerning:        []float64{0.12, 0.11, 0.13},
			AlignmentScore: 0.9,
			SizeVariance:   0.05,
		},
		Quality: cardmodel.ImageQuality{Blur: 0.1, GlareDetected: false, Brightness: 0.7},
		Metadata: cardmodel.ImageMetadata{
			Width: 1200, Height: 1680, Format: "image/jpeg", SizeBytes: 540_000,
		},
	}
}

// CreateLowQualityFeatureEnvelope returns an envelope with blur and glare
// set high enough to push downstream confidence below the reasoning
// threshold, for exercising fallback paths.
func (f *TestDataFactory) CreateLowQualityFeatureEnvelope() cardmodel.FeatureEnvelope {
	env := f.CreateStandardFeatureEnvelope()
	env.Quality.Blur = 0.85
	env.Quality.GlareDetected = true
	env.OCRBlocks = []cardmodel.OCRBlock{f.CreateOCRBlock("char", 0.3, cardmodel.RegionTop)}
	return env
}

// CreateOCRBlock builds a single OCRBlock with a plausible bounding box for
// the given region.
func (f *TestDataFactory) CreateOCRBlock(text string, confidence float64, region cardmodel.VerticalRegion) cardmodel.OCRBlock {
	box := cardmodel.BoundingBox{Left: 0.1, Width: 0.8, Height: 0.08}
	switch region {
	case cardmodel.RegionTop:
		box.Top = 0.05
	case cardmodel.RegionMiddle:
		box.Top = 0.45
	case cardmodel.RegionBottom:
		box.Top = 0.88
	}
	return cardmodel.OCRBlock{Text: text, Confidence: confidence, Box: box, Type: cardmodel.BlockTypeLine}
}

// =============================================================================
// CARD METADATA PATTERNS
// =============================================================================

// CreateStandardCardMetadata returns a confidently-reasoned CardMetadata.
func (f *TestDataFactory) CreateStandardCardMetadata() cardmodel.CardMetadata {
	return cardmodel.CardMetadata{
		Name:              cardmodel.NewFieldResult(DefaultCardName, DefaultFieldConfidence, "matched top-region OCR block"),
		Rarity:            cardmodel.NewFieldResult(DefaultCardRarity, 0.8, "holo pattern detected"),
		Set:               cardmodel.SingleSet(DefaultCardSet, DefaultFieldConfidence, "matched bottom-region OCR block"),
		SetSymbol:         cardmodel.NewFieldResult("flame", 0.7, "symbol glyph matched"),
		CollectorNumber:   cardmodel.NewFieldResult("4/102", 0.85, "matched bottom-right OCR block"),
		CopyrightRun:      cardmodel.NewFieldResult("1999", 0.75, "matched copyright line"),
		Illustrator:       cardmodel.NewFieldResult("Mitsuhiro Arita", 0.7, "matched illustrator credit line"),
		OverallConfidence: DefaultOverallConfidence,
		ReasoningTrail:    "all fields matched with high-confidence OCR blocks",
		VerifiedByAI:      true,
	}
}

// CreateFallbackCardMetadata returns the deterministic, reduced-confidence
// metadata the reasoner produces after its retries are exhausted.
func (f *TestDataFactory) CreateFallbackCardMetadata() cardmodel.CardMetadata {
	return cardmodel.FallbackMetadata("Charizard", 0.6)
}

// CreateAmbiguousCardMetadata returns a CardMetadata whose Set field carries
// multiple ranked candidates instead of a single confident value.
func (f *TestDataFactory) CreateAmbiguousCardMetadata() cardmodel.CardMetadata {
	md := f.CreateStandardCardMetadata()
	md.Set = cardmodel.AmbiguousSet(cardmodel.MultiCandidateResult[string]{
		Value: strPtr("Base Set"),
		Candidates: []cardmodel.Candidate[string]{
			{Value: "Base Set", Confidence: 0.55},
			{Value: "Base Set 2", Confidence: 0.4},
		},
		Rationale: "set symbol ambiguous between first and second print runs",
	})
	return md
}

// =============================================================================
// PRICING PATTERNS
// =============================================================================

// CreateStandardPricingResult returns a PricingResult backed by enough
// comps to clear the zero-comps confidence cap.
func (f *TestDataFactory) CreateStandardPricingResult() cardmodel.PricingResult {
	low, median, high := int64(9000), DefaultMedianCents, int64(21000)
	return cardmodel.PricingResult{
		ValueLowCents:    &low,
		ValueMedianCents: &median,
		ValueHighCents:   &high,
		CompsCount:       DefaultCompsCount,
		Sources:          []string{"ebay", "tcgplayer"},
		Confidence:       0.8,
		Summary: cardmodel.PricingSummary{
			FairValueCents: &median,
			Trend:          cardmodel.TrendUp,
			Rationale:      "recent sales trending upward over the last 30 days",
		},
	}
}

// CreateEmptyPricingResult returns the zero-comps PricingResult produced
// when no market adapter returns a comparable.
func (f *TestDataFactory) CreateEmptyPricingResult() cardmodel.PricingResult {
	return cardmodel.EmptyPricingResult("no comparables found across configured market adapters")
}

// =============================================================================
// AUTHENTICITY PATTERNS
// =============================================================================

// CreateStandardAuthenticityResult returns a high-confidence, genuine
// AuthenticityResult with all required signals populated.
func (f *TestDataFactory) CreateStandardAuthenticityResult() cardmodel.AuthenticityResult {
	return cardmodel.AuthenticityResult{
		Score:        DefaultAuthScore,
		FakeDetected: false,
		VerifiedByAI: true,
		Signals: map[string]float64{
			cardmodel.SignalVisualHash:  0.95,
			cardmodel.SignalTextMatch:   0.9,
			cardmodel.SignalHoloPattern: 0.91,
		},
		Rationale: "visual hash, text match, and holo pattern all consistent with a genuine print",
	}
}

// CreateSuspectedFakeAuthenticityResult returns a low-score, flagged
// AuthenticityResult.
func (f *TestDataFactory) CreateSuspectedFakeAuthenticityResult() cardmodel.AuthenticityResult {
	return cardmodel.AuthenticityResult{
		Score:        0.2,
		FakeDetected: true,
		VerifiedByAI: true,
		Signals: map[string]float64{
			cardmodel.SignalVisualHash:  0.15,
			cardmodel.SignalTextMatch:   0.3,
			cardmodel.SignalHoloPattern: 0.1,
		},
		Rationale: "holo pattern variance far outside the genuine-print distribution",
	}
}

// CreateFallbackAuthenticityResult returns the zero-confidence substitution
// the orchestrator uses when verification exhausts its retries.
func (f *TestDataFactory) CreateFallbackAuthenticityResult() cardmodel.AuthenticityResult {
	return cardmodel.AuthenticityResult{
		Score:        0,
		FakeDetected: false,
		VerifiedByAI: false,
		Signals: map[string]float64{
			cardmodel.SignalVisualHash:  0,
			cardmodel.SignalTextMatch:   0,
			cardmodel.SignalHoloPattern: 0,
		},
		Rationale: "authenticity verification unavailable",
	}
}

// =============================================================================
// CARD RECORD PATTERNS
// =============================================================================

// CreateStandardCardRecord returns a fully-aggregated, persisted CardRecord.
func (f *TestDataFactory) CreateStandardCardRecord() cardmodel.CardRecord {
	now := f.fixedNow()
	metadata := f.CreateStandardCardMetadata()
	pricing := f.CreateStandardPricingResult()
	auth := f.CreateStandardAuthenticityResult()
	back := DefaultTestBackKey
	return cardmodel.CardRecord{
		OwnerID:      DefaultTestOwnerID,
		CardID:       DefaultTestCardID,
		FrontKey:     DefaultTestFrontKey,
		BackKey:      &back,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     &metadata,
		Pricing:      &pricing,
		Authenticity: &auth,
	}
}

// CreateCustomCardRecord builds a CardRecord for the given owner/card pair,
// letting callers override only what their test cares about.
func (f *TestDataFactory) CreateCustomCardRecord(ownerID, cardID, frontKey string) cardmodel.CardRecord {
	rec := f.CreateStandardCardRecord()
	rec.OwnerID = validateStringWithDefault(ownerID, DefaultTestOwnerID)
	rec.CardID = validateStringWithDefault(cardID, DefaultTestCardID)
	rec.FrontKey = validateStringWithDefault(frontKey, DefaultTestFrontKey)
	return rec
}

// CreatePartialCardRecord returns a CardRecord with only metadata and
// pricing populated, as the Error Persistor would leave one behind after a
// VerifyAuthenticity-stage failure.
func (f *TestDataFactory) CreatePartialCardRecord() cardmodel.CardRecord {
	now := f.fixedNow()
	metadata := f.CreateStandardCardMetadata()
	pricing := f.CreateStandardPricingResult()
	lastErr := "image fetch failed"
	return cardmodel.CardRecord{
		OwnerID:   DefaultTestOwnerID,
		CardID:    DefaultTestCardID,
		FrontKey:  DefaultTestFrontKey,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  &metadata,
		Pricing:   &pricing,
		LastError: &lastErr,
	}
}

// =============================================================================
// EVENT PATTERNS
// =============================================================================

// CreateStandardCardCreatedEvent returns a well-formed CardCreated event
// addressed to the fixed DefaultTestOwnerID/DefaultTestCardID pair.
func (f *TestDataFactory) CreateStandardCardCreatedEvent() events.CardCreated {
	return events.NewCardCreated(events.CardCreatedDetail{
		OwnerID:   DefaultTestOwnerID,
		CardID:    DefaultTestCardID,
		FrontKey:  DefaultTestFrontKey,
		BackKey:   DefaultTestBackKey,
		Timestamp: f.fixedNow(),
	})
}

// CreateUniqueCardCreatedEvent returns a CardCreated event with a fresh
// UUID-derived card id, for tests that need non-colliding fixtures in the
// same idempotency ledger.
func (f *TestDataFactory) CreateUniqueCardCreatedEvent() events.CardCreated {
	evt := f.CreateStandardCardCreatedEvent()
	evt.Detail.CardID = generateUniqueID("card")
	evt.Detail.Timestamp = time.Now()
	return evt
}

// CreateCardCreatedEventWithHints returns a CardCreated event carrying
// uploader-supplied hints for the OCR Reasoning Agent.
func (f *TestDataFactory) CreateCardCreatedEventWithHints() events.CardCreated {
	evt := f.CreateStandardCardCreatedEvent()
	evt.Detail.Hints = &events.CardCreatedHints{
		Name: DefaultCardName,
		Set:  DefaultCardSet,
	}
	return evt
}

// CreateDeadLetterMessage returns the message the Error Persistor publishes
// for a failed execution at the given stage.
func (f *TestDataFactory) CreateDeadLetterMessage(failedStage, errorKind string) events.DeadLetterMessage {
	return events.DeadLetterMessage{
		RequestID:     fmt.Sprintf("%s#%s#%d", DefaultTestOwnerID, DefaultTestCardID, f.fixedNow().UnixNano()),
		OwnerID:       DefaultTestOwnerID,
		CardID:        DefaultTestCardID,
		FailedStage:   failedStage,
		ErrorKind:     errorKind,
		ErrorDetail:   "simulated failure for " + failedStage,
		PartialStages: []string{},
		Timestamp:     f.fixedNow(),
	}
}

// fixedNow returns a deterministic timestamp so fixtures compare equal
// across test runs instead of depending on wall-clock time.
func (f *TestDataFactory) fixedNow() time.Time {
	return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// generateUniqueID creates a unique ID with the specified prefix.
func generateUniqueID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

func validateStringWithDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func strPtr(s string) *string { return &s }
