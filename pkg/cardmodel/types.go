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

// Package cardmodel holds the domain entities shared across every pipeline
// stage: the persisted CardRecord, the Vision Feature Extractor's
// FeatureEnvelope, the OCR Reasoning Agent's CardMetadata, and the
// valuation/authenticity outputs that feed the Aggregator. Types here carry
// no I/O; they are pure data plus the invariant checks each stage relies on.
package cardmodel

import (
	"fmt"
	"time"
)

// BlockType classifies an OCRBlock as a line or a single word.
type BlockType string

const (
	BlockTypeLine BlockType = "LINE"
	BlockTypeWord BlockType = "WORD"
)

// BoundingBox is an axis-aligned box with coordinates normalized to [0,1].
type BoundingBox struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Validate enforces that the box does not extend past the image bounds.
func (b BoundingBox) Validate() error {
	if b.Left+b.Width > 1.0001 {
		return fmt.Errorf("bounding box left+width exceeds 1: %v", b)
	}
	if b.Top+b.Height > 1.0001 {
		return fmt.Errorf("bounding box top+height exceeds 1: %v", b)
	}
	return nil
}

// OCRBlock is one recognized span of text from the Vision Feature Extractor.
type OCRBlock struct {
	Text       string
	Confidence float64
	Box        BoundingBox
	Type       BlockType
}

// Validate checks the invariants of spec.md §3: confidence in [0,1] and a
// well-formed bounding box.
func (o OCRBlock) Validate() error {
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("OCR block confidence %v out of [0,1]", o.Confidence)
	}
	return o.Box.Validate()
}

// VerticalRegion buckets an OCRBlock by its vertical position for prompt
// construction (spec.md §4.3 step 2).
type VerticalRegion string

const (
	RegionTop    VerticalRegion = "top"
	RegionMiddle VerticalRegion = "middle"
	RegionBottom VerticalRegion = "bottom"
)

// Region classifies the block's vertical position: top < 0.3, middle
// 0.3-0.7, bottom >= 0.7.
func (o OCRBlock) Region() VerticalRegion {
	switch {
	case o.Box.Top < 0.3:
		return RegionTop
	case o.Box.Top < 0.7:
		return RegionMiddle
	default:
		return RegionBottom
	}
}

// BorderMetrics describes the four border-band brightness ratios and their
// symmetry (spec.md §4.2 step 5).
type BorderMetrics struct {
	TopBrightness    float64
	BottomBrightness float64
	LeftBrightness   float64
	RightBrightness  float64
	SymmetryScore    float64
}

// FontMetrics describes inter-word kerning and size consistency derived from
// OCR blocks (spec.md §4.2 step 5).
type FontMetrics struct {
	Kerning         []float64
	AlignmentScore  float64
	SizeVariance    float64
}

// ImageQuality captures blur, glare, and brightness scalars (spec.md §4.2 step 5).
type ImageQuality struct {
	Blur           float64
	GlareDetected  bool
	Brightness     float64
}

// ImageMetadata captures the raw image's dimensions and format.
type ImageMetadata struct {
	Width     int
	Height    int
	Format    string
	SizeBytes int64
}

// FeatureEnvelope is the Vision Feature Extractor's output: the full bundle
// of per-image signals feeding OCR Reasoning and Authenticity.
type FeatureEnvelope struct {
	OCRBlocks    []OCRBlock
	Borders      BorderMetrics
	HoloVariance float64
	Font         FontMetrics
	Quality      ImageQuality
	Metadata     ImageMetadata
}

// Validate enforces per-block invariants; called once after extraction.
func (f FeatureEnvelope) Validate() error {
	for i, b := range f.OCRBlocks {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("OCR block %d: %w", i, err)
		}
	}
	return nil
}

// FieldResult is one scalar field of CardMetadata: a value (or absence), a
// confidence in [0,1], and a non-empty rationale (spec.md §3).
type FieldResult[T any] struct {
	Value      *T
	Confidence float64
	Rationale  string
}

// Validate enforces: absent value implies confidence <= 0.3, and rationale
// is never empty.
func (f FieldResult[T]) Validate() error {
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("field confidence %v out of [0,1]", f.Confidence)
	}
	if f.Value == nil && f.Confidence > 0.3 {
		return fmt.Errorf("absent field value must have confidence <= 0.3, got %v", f.Confidence)
	}
	if f.Rationale == "" {
		return fmt.Errorf("field rationale must not be empty")
	}
	return nil
}

// Present reports whether the field carries a value.
func (f FieldResult[T]) Present() bool {
	return f.Value != nil
}

// NewFieldResult constructs a present FieldResult.
func NewFieldResult[T any](value T, confidence float64, rationale string) FieldResult[T] {
	return FieldResult[T]{Value: &value, Confidence: confidence, Rationale: rationale}
}

// AbsentFieldResult constructs an absent FieldResult with confidence capped
// at 0.3 regardless of the value passed, per the spec.md §3 invariant.
func AbsentFieldResult[T any](confidence float64, rationale string) FieldResult[T] {
	if confidence > 0.3 {
		confidence = 0.3
	}
	return FieldResult[T]{Value: nil, Confidence: confidence, Rationale: rationale}
}

// Candidate pairs a value with a confidence, used inside MultiCandidateResult.
type Candidate[T any] struct {
	Value      T
	Confidence float64
}

// MultiCandidateResult is the sum-type alternative to FieldResult used when
// the reasoner is uncertain (spec.md §3, §9: Set field as SingleValue |
// MultiCandidate).
type MultiCandidateResult[T any] struct {
	Value      *T
	Candidates []Candidate[T]
	Rationale  string
}

// Validate enforces: candidates sorted strictly descending by confidence,
// and if Value is present it equals Candidates[0].Value.
func (m MultiCandidateResult[T]) Validate(equal func(a, b T) bool) error {
	for i := 1; i < len(m.Candidates); i++ {
		if m.Candidates[i].Confidence >= m.Candidates[i-1].Confidence {
			return fmt.Errorf("candidates not strictly descending at index %d", i)
		}
	}
	if m.Value != nil {
		if len(m.Candidates) == 0 {
			return fmt.Errorf("value present but no candidates")
		}
		if !equal(*m.Value, m.Candidates[0].Value) {
			return fmt.Errorf("value does not equal top candidate")
		}
	}
	return nil
}

// SetResult is the tagged union for CardMetadata's "set" field: exactly one
// of Single or Multi is populated (spec.md §3, §9 sum-type design note).
type SetResult struct {
	Single *FieldResult[string]
	Multi  *MultiCandidateResult[string]
}

// SingleSet constructs a SetResult carrying a single confident value.
func SingleSet(value string, confidence float64, rationale string) SetResult {
	fr := NewFieldResult(value, confidence, rationale)
	return SetResult{Single: &fr}
}

// AmbiguousSet constructs a SetResult carrying multiple ranked candidates.
func AmbiguousSet(m MultiCandidateResult[string]) SetResult {
	return SetResult{Multi: &m}
}

// Validate enforces exactly one branch is populated and delegates to it.
func (s SetResult) Validate() error {
	if (s.Single == nil) == (s.Multi == nil) {
		return fmt.Errorf("set result must populate exactly one of Single or Multi")
	}
	if s.Single != nil {
		return s.Single.Validate()
	}
	return s.Multi.Validate(func(a, b string) bool { return a == b })
}

// BestValue returns the set name to use downstream regardless of which
// branch is populated: the single value, or the top candidate.
func (s SetResult) BestValue() (string, bool) {
	if s.Single != nil && s.Single.Value != nil {
		return *s.Single.Value, true
	}
	if s.Multi != nil && s.Multi.Value != nil {
		return *s.Multi.Value, true
	}
	return "", false
}

// CardMetadata is the OCR Reasoning Agent's output: a field-by-field
// interpretation of a card with confidence scores (spec.md §3).
type CardMetadata struct {
	Name            FieldResult[string]
	Rarity          FieldResult[string]
	Set             SetResult
	SetSymbol       FieldResult[string]
	CollectorNumber FieldResult[string]
	CopyrightRun    FieldResult[string]
	Illustrator     FieldResult[string]

	OverallConfidence float64
	ReasoningTrail    string
	VerifiedByAI      bool
}

// Validate walks every field and the composite invariants.
func (c CardMetadata) Validate() error {
	fields := map[string]interface {
		Validate() error
	}{
		"name":             c.Name,
		"rarity":           c.Rarity,
		"setSymbol":        c.SetSymbol,
		"collectorNumber":  c.CollectorNumber,
		"copyrightRun":     c.CopyrightRun,
		"illustrator":      c.Illustrator,
	}
	for name, f := range fields {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	if err := c.Set.Validate(); err != nil {
		return fmt.Errorf("field set: %w", err)
	}
	if c.OverallConfidence < 0 || c.OverallConfidence > 1 {
		return fmt.Errorf("overall confidence %v out of [0,1]", c.OverallConfidence)
	}
	return nil
}

// FallbackMetadata constructs the deterministic, reduced-confidence
// CardMetadata produced when the reasoner cannot run (spec.md §4.3 step 6).
// topLineText and topLineConfidence come from the highest-confidence LINE
// block in the top region, if any.
func FallbackMetadata(topLineText string, topLineConfidence float64) CardMetadata {
	const reason = "AI reasoning unavailable"
	name := AbsentFieldResult[string](0, reason)
	if topLineText != "" {
		name = NewFieldResult(topLineText, topLineConfidence*0.7, reason)
	}
	return CardMetadata{
		Name:              name,
		Rarity:            AbsentFieldResult[string](0, reason),
		Set:               SingleSet("", 0, reason),
		SetSymbol:         AbsentFieldResult[string](0, reason),
		CollectorNumber:   AbsentFieldResult[string](0, reason),
		CopyrightRun:      AbsentFieldResult[string](0, reason),
		Illustrator:       AbsentFieldResult[string](0, reason),
		OverallConfidence: 0.3,
		ReasoningTrail:    reason,
		VerifiedByAI:      false,
	}
}

// ReasoningOutcome is the sum type `Reasoned(CardMetadata) | FellBack(CardMetadata)`
// of spec.md §9's design note: the orchestrator branches on WasFallback
// rather than catching an error from the reasoning stage.
type ReasoningOutcome struct {
	Metadata    CardMetadata
	WasFallback bool
}

// Reasoned wraps a successfully-validated LLM reasoning result.
func Reasoned(metadata CardMetadata) ReasoningOutcome {
	return ReasoningOutcome{Metadata: metadata, WasFallback: false}
}

// FellBack wraps a fallback CardMetadata produced after retries were exhausted.
func FellBack(metadata CardMetadata) ReasoningOutcome {
	return ReasoningOutcome{Metadata: metadata, WasFallback: true}
}

// Trend classifies a pricing trend direction (spec.md §4.4 step 6).
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// PricingSummary is the LLM-or-statistics-derived narrative over a PricingResult.
type PricingSummary struct {
	FairValueCents *int64
	Trend          Trend
	Rationale      string
}

// PricingResult is the Pricing Agent's output (spec.md §3). Values are in
// integer cents for fixed precision (SPEC_FULL.md §13 Open Question decision).
type PricingResult struct {
	ValueLowCents    *int64
	ValueMedianCents *int64
	ValueHighCents   *int64
	CompsCount       int
	Sources          []string
	Confidence       float64
	Summary          PricingSummary
}

// Validate enforces: ordering when comps exist, and the zero-comps confidence
// cap (spec.md §3, §8 property 2).
func (p PricingResult) Validate() error {
	if p.CompsCount == 0 && p.Confidence > 0.3 {
		return fmt.Errorf("zero comps implies confidence <= 0.3, got %v", p.Confidence)
	}
	if p.ValueLowCents != nil && p.ValueMedianCents != nil && p.ValueHighCents != nil {
		if !(*p.ValueLowCents <= *p.ValueMedianCents && *p.ValueMedianCents <= *p.ValueHighCents) {
			return fmt.Errorf("pricing triple not ordered: low=%d median=%d high=%d",
				*p.ValueLowCents, *p.ValueMedianCents, *p.ValueHighCents)
		}
	}
	return nil
}

// EmptyPricingResult is produced when every adapter returns no comparables
// (spec.md §4.4: "the agent never throws in this case").
func EmptyPricingResult(rationale string) PricingResult {
	return PricingResult{
		CompsCount: 0,
		Sources:    nil,
		Confidence: 0,
		Summary:    PricingSummary{Trend: TrendStable, Rationale: rationale},
	}
}

// Required authenticity signal keys; AuthenticityResult.Signals must always
// contain at least these (spec.md §3).
const (
	SignalVisualHash  = "visualHash"
	SignalTextMatch   = "textMatch"
	SignalHoloPattern = "holoPattern"
)

// AuthenticityResult is the Authenticity Agent's output (spec.md §3).
type AuthenticityResult struct {
	Score        float64
	FakeDetected bool
	VerifiedByAI bool
	Signals      map[string]float64
	Rationale    string
}

// Validate enforces: score >= 0.5 implies fakeDetected == false, and the
// required signal keys are present.
func (a AuthenticityResult) Validate() error {
	if a.Score >= 0.5 && a.FakeDetected {
		return fmt.Errorf("score %v >= 0.5 but fakeDetected is true", a.Score)
	}
	for _, key := range []string{SignalVisualHash, SignalTextMatch, SignalHoloPattern} {
		if _, ok := a.Signals[key]; !ok {
			return fmt.Errorf("missing required signal %q", key)
		}
	}
	return nil
}

// TerminalState is the outcome of a PipelineExecution (spec.md §3).
type TerminalState string

const (
	TerminalSuccess TerminalState = "success"
	TerminalPartial TerminalState = "partial"
	TerminalFailed  TerminalState = "failed"
)

// PipelineExecution is the orchestrator's transient tracing state; it is
// never persisted (spec.md §3).
type PipelineExecution struct {
	RequestID        string
	OwnerID          string
	CardID           string
	CreatedAt        time.Time
	CurrentStage     string
	AttemptsPerStage map[string]int
	TerminalState    TerminalState
}

// NewPipelineExecution starts tracing state for one orchestrator run.
func NewPipelineExecution(requestID, ownerID, cardID string, now time.Time) *PipelineExecution {
	return &PipelineExecution{
		RequestID:        requestID,
		OwnerID:          ownerID,
		CardID:           cardID,
		CreatedAt:        now,
		AttemptsPerStage: make(map[string]int),
	}
}

// RecordAttempt increments the attempt counter for stage and sets it as the
// current stage.
func (p *PipelineExecution) RecordAttempt(stage string) {
	p.CurrentStage = stage
	p.AttemptsPerStage[stage]++
}

// ErrorReport is the orchestrator catch arm's payload to the Error
// Persistor: the failing stage, an error classification, and whatever
// partial outputs had already been produced before the failure (spec.md
// §4.10).
type ErrorReport struct {
	RequestID    string
	OwnerID      string
	CardID       string
	FailedStage  string
	ErrorKind    string
	ErrorDetail  string
	Metadata     *CardMetadata
	Pricing      *PricingResult
	Authenticity *AuthenticityResult
}

// CardRecord is the persisted aggregate, identified by (ownerId, cardId)
// (spec.md §3).
type CardRecord struct {
	OwnerID   string
	CardID    string
	FrontKey  string
	BackKey   *string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	Metadata     *CardMetadata
	Pricing      *PricingResult
	Authenticity *AuthenticityResult
	LastError    *string
}

// IsDeleted reports whether the record has been soft-deleted.
func (c CardRecord) IsDeleted() bool {
	return c.DeletedAt != nil
}

// BelongsTo enforces the ownership invariant of spec.md §3: a record never
// changes owners, and every access must be scoped to its owner.
func (c CardRecord) BelongsTo(ownerID string) bool {
	return c.OwnerID == ownerID
}
