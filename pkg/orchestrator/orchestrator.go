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

// Package orchestrator is the Workflow Orchestrator: it drives the five
// state pipeline ExtractFeatures -> ReasonOCR -> {PriceCard ∥
// VerifyAuthenticity} -> Aggregate, enforcing the per-stage retry/fallback
// contract and routing unrecoverable failures to the Error Persistor
// (spec.md §4.1).
package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/metrics"
	"github.com/jordigilh/cardvault/pkg/orchestrator/phase"
	"github.com/jordigilh/cardvault/pkg/reasoning"
	"github.com/jordigilh/cardvault/pkg/retry"
)

// Stage names, matching PipelineExecution.CurrentStage and the keys the
// Error Persistor's failedStage field carries (spec.md §4.1, §3).
const (
	StageExtractFeatures    = "ExtractFeatures"
	StageReasonOCR          = "ReasonOCR"
	StagePriceCard          = "PriceCard"
	StageVerifyAuthenticity = "VerifyAuthenticity"
	StageAggregate          = "Aggregate"
)

// defaultExecutionDeadline is the overall per-execution cancellation bound
// of spec.md §5 ("if the overall execution exceeds its deadline (default
// 120s), the orchestrator aborts").
const defaultExecutionDeadline = 120 * time.Second

// tracer emits one span per Execute call plus one child span per stage, so
// requestId correlation (spec.md §3) survives into whatever trace backend
// the deployment wires its otel exporter to.
var tracer = otel.Tracer("github.com/jordigilh/cardvault/pkg/orchestrator")

// meter emits one counter increment per stage entry, independent of and
// complementary to pkg/metrics' Prometheus counters: this is the otel
// collector pipeline's view of the same stage-entry event, for deployments
// that route otel metrics to a backend other than a Prometheus scrape.
var meter = otel.Meter("github.com/jordigilh/cardvault/pkg/orchestrator")

var stageEntries, _ = meter.Int64Counter(
	"cardvault.orchestrator.stage_entries",
	metric.WithDescription("number of times a pipeline stage was entered"),
)

// traceStage starts a child span for one stage, tagged with the
// correlation fields every log entry already carries, and records the
// stage's otel metric counter entry.
func traceStage(ctx context.Context, stage string, in Input) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("cardvault.request_id", in.RequestID),
		attribute.String("cardvault.owner_id", in.OwnerID),
		attribute.String("cardvault.card_id", in.CardID),
		attribute.String("cardvault.stage", stage),
	}
	stageEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
	return tracer.Start(ctx, stage, trace.WithAttributes(attrs...))
}

// Extractor is the Vision Feature Extractor surface the orchestrator drives.
type Extractor interface {
	ExtractPair(ctx context.Context, ownerID, frontKey, backKey string) (front, back cardmodel.FeatureEnvelope, err error)
}

// Reasoner is the OCR Reasoning Agent surface the orchestrator drives.
type Reasoner interface {
	Reason(ctx context.Context, ocrCtx reasoning.OcrContext) cardmodel.ReasoningOutcome
}

// PricingAgent is the Pricing Agent surface the orchestrator drives.
type PricingAgent interface {
	Price(ctx context.Context, features cardmodel.FeatureEnvelope, metadata cardmodel.CardMetadata) cardmodel.PricingResult
}

// AuthenticityAgent is the Authenticity Agent surface the orchestrator drives.
type AuthenticityAgent interface {
	Verify(ctx context.Context, features cardmodel.FeatureEnvelope, metadata cardmodel.CardMetadata, imageRef string) (cardmodel.AuthenticityResult, error)
}

// Aggregator is the Aggregator surface the orchestrator drives.
type Aggregator interface {
	Aggregate(ctx context.Context, ownerID, cardID string, metadata cardmodel.CardMetadata, pricing cardmodel.PricingResult, authenticity cardmodel.AuthenticityResult) (cardmodel.CardRecord, error)
}

// ErrorPersistor is invoked by every catch arm (spec.md §4.10).
type ErrorPersistor interface {
	Persist(ctx context.Context, report cardmodel.ErrorReport) error
}

// Orchestrator is the Workflow Orchestrator's public surface (spec.md §4.1).
type Orchestrator struct {
	extractor      Extractor
	reasoner       Reasoner
	pricing        PricingAgent
	authenticity   AuthenticityAgent
	aggregator     Aggregator
	errorPersistor ErrorPersistor

	stagePolicies     config.StagePolicies
	stageDeadlines    config.StageDeadlines
	executionDeadline time.Duration

	logger *logrus.Entry
}

// New wires an Orchestrator over its five stage dependencies and the Error
// Persistor its catch arms escalate to. executionDeadline of 0 uses the
// spec default of 120s.
func New(
	extractor Extractor,
	reasoner Reasoner,
	pricingAgent PricingAgent,
	authenticityAgent AuthenticityAgent,
	aggregator Aggregator,
	errorPersistor ErrorPersistor,
	stagePolicies config.StagePolicies,
	stageDeadlines config.StageDeadlines,
	executionDeadline time.Duration,
	logger *logrus.Logger,
) *Orchestrator {
	if executionDeadline <= 0 {
		executionDeadline = defaultExecutionDeadline
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		extractor:         extractor,
		reasoner:          reasoner,
		pricing:           pricingAgent,
		authenticity:      authenticityAgent,
		aggregator:        aggregator,
		errorPersistor:    errorPersistor,
		stagePolicies:     stagePolicies,
		stageDeadlines:    stageDeadlines,
		executionDeadline: executionDeadline,
		logger:            logger.WithField("component", "orchestrator"),
	}
}

// Input is one orchestrator execution's request, assembled by the Event
// Trigger from a CardCreated event.
type Input struct {
	RequestID string
	OwnerID   string
	CardID    string
	FrontKey  string
	BackKey   string
	CardHints map[string][]string
}

func toRetryPolicy(p config.RetryPolicy) retry.Policy {
	return retry.FromStagePolicy(p.MaxAttempts, p.BaseDelay, p.Multiplier, p.JitterFrac)
}

// Execute drives one run of the pipeline to completion or to an escalated
// failure (spec.md §4.1: `ExtractFeatures → ReasonOCR → {PriceCard ∥
// VerifyAuthenticity} → Aggregate → Success`).
func (o *Orchestrator) Execute(ctx context.Context, in Input) (cardmodel.CardRecord, error) {
	ctx, span := tracer.Start(ctx, "Execute", trace.WithAttributes(
		attribute.String("cardvault.request_id", in.RequestID),
		attribute.String("cardvault.owner_id", in.OwnerID),
		attribute.String("cardvault.card_id", in.CardID),
	))
	defer span.End()

	execCtx, cancel := context.WithTimeout(ctx, o.executionDeadline)
	defer cancel()

	metrics.CardsInFlight.Inc()
	defer metrics.CardsInFlight.Dec()

	exec := cardmodel.NewPipelineExecution(in.RequestID, in.OwnerID, in.CardID, time.Now())
	entry := o.logger.WithFields(logrus.Fields{
		"request_id": in.RequestID,
		"owner_id":   in.OwnerID,
		"card_id":    in.CardID,
	})

	// Stage 1: ExtractFeatures. No fallback: retries-exhausted fails the
	// whole execution (spec.md §4.1's retry table).
	exec.RecordAttempt(StageExtractFeatures)
	extractTimer := metrics.NewTimer()
	extractSpanCtx, extractSpan := traceStage(execCtx, StageExtractFeatures, in)
	type extracted struct{ front, back cardmodel.FeatureEnvelope }
	extractOutcome, err := phase.Run(extractSpanCtx, o.stageDeadlines.ExtractFeatures, toRetryPolicy(o.stagePolicies.ExtractFeatures), entry,
		func(ctx context.Context) (extracted, error) {
			front, back, err := o.extractor.ExtractPair(ctx, in.OwnerID, in.FrontKey, in.BackKey)
			return extracted{front: front, back: back}, err
		}, nil)
	extractSpan.End()
	if err != nil {
		extractTimer.RecordStage(StageExtractFeatures, string(appErrors.GetType(err)))
		exec.TerminalState = cardmodel.TerminalFailed
		return o.failExecution(execCtx, in, StageExtractFeatures, err, nil, nil, nil)
	}
	extractTimer.RecordStage(StageExtractFeatures, "")
	front := extractOutcome.Value.front

	if execCtx.Err() != nil {
		exec.TerminalState = cardmodel.TerminalFailed
		return o.failExecution(execCtx, in, StageExtractFeatures, execCtx.Err(), nil, nil, nil)
	}

	// Stage 2: ReasonOCR. Reasoner.Reason already retries and falls back to
	// FallbackMetadata internally (spec.md §4.3 steps 3-6); the
	// orchestrator only bounds it by the stage deadline.
	exec.RecordAttempt(StageReasonOCR)
	reasonTimer := metrics.NewTimer()
	reasonSpanCtx, reasonSpan := traceStage(execCtx, StageReasonOCR, in)
	reasonCtx, reasonCancel := context.WithTimeout(reasonSpanCtx, o.stageDeadlines.ReasonOCR)
	ocrOutcome := o.reasoner.Reason(reasonCtx, reasoning.NewOcrContext(front, in.CardHints))
	reasonCancel()
	reasonSpan.End()
	metadata := ocrOutcome.Metadata
	if ocrOutcome.WasFallback {
		entry.Warn("OCR reasoning substituted fallback metadata")
		metrics.RecordFallback(StageReasonOCR)
	}
	reasonTimer.RecordStage(StageReasonOCR, "")

	if execCtx.Err() != nil {
		exec.TerminalState = cardmodel.TerminalFailed
		return o.failExecution(execCtx, in, StageReasonOCR, execCtx.Err(), &metadata, nil, nil)
	}

	// Stage 3: parallel fork {PriceCard, VerifyAuthenticity}. Both must
	// complete (successfully or via substitution) before Aggregate starts;
	// neither depends on the other (spec.md §4.1 "Parallel fork").
	exec.RecordAttempt(StagePriceCard)
	exec.RecordAttempt(StageVerifyAuthenticity)

	var pricing cardmodel.PricingResult
	var authenticity cardmodel.AuthenticityResult

	g, gctx := errgroup.WithContext(execCtx)
	g.Go(func() error {
		// Agent.Price never errors: a hard adapter failure already
		// substitutes an EmptyPricingResult internally (spec.md §4.4),
		// which satisfies this stage's "substitute ..., continue" policy.
		priceTimer := metrics.NewTimer()
		priceSpanCtx, priceSpan := traceStage(gctx, StagePriceCard, in)
		priceCtx, cancel := context.WithTimeout(priceSpanCtx, o.stageDeadlines.PriceCard)
		pricing = o.pricing.Price(priceCtx, front, metadata)
		cancel()
		priceSpan.End()
		priceTimer.RecordStage(StagePriceCard, "")
		return nil
	})
	g.Go(func() error {
		authTimer := metrics.NewTimer()
		authSpanCtx, authSpan := traceStage(gctx, StageVerifyAuthenticity, in)
		outcome, _ := phase.Run(authSpanCtx, o.stageDeadlines.VerifyAuthenticity, toRetryPolicy(o.stagePolicies.VerifyAuthenticity), entry,
			func(ctx context.Context) (cardmodel.AuthenticityResult, error) {
				return o.authenticity.Verify(ctx, front, metadata, in.FrontKey)
			}, fallbackAuthenticity)
		authSpan.End()
		authenticity = outcome.Value
		if outcome.Substituted {
			entry.Warn("authenticity verification substituted a zero-confidence fallback")
			metrics.RecordFallback(StageVerifyAuthenticity)
		}
		authTimer.RecordStage(StageVerifyAuthenticity, "")
		return nil
	})
	_ = g.Wait() // both goroutines already fold their own errors into substitution; nothing to surface.

	if execCtx.Err() != nil {
		exec.TerminalState = cardmodel.TerminalFailed
		return o.failExecution(execCtx, in, StagePriceCard, execCtx.Err(), &metadata, &pricing, &authenticity)
	}

	// Stage 4: Aggregate. No fallback: a conditional-write conflict fails
	// the whole execution (spec.md §4.6 step 5, §4.1's retry table).
	exec.RecordAttempt(StageAggregate)
	aggTimer := metrics.NewTimer()
	aggSpanCtx, aggSpan := traceStage(execCtx, StageAggregate, in)
	aggOutcome, err := phase.Run(aggSpanCtx, o.stageDeadlines.Aggregate, toRetryPolicy(o.stagePolicies.Aggregate), entry,
		func(ctx context.Context) (cardmodel.CardRecord, error) {
			return o.aggregator.Aggregate(ctx, in.OwnerID, in.CardID, metadata, pricing, authenticity)
		}, nil)
	aggSpan.End()
	if err != nil {
		aggTimer.RecordStage(StageAggregate, string(appErrors.GetType(err)))
		exec.TerminalState = cardmodel.TerminalFailed
		return o.failExecution(execCtx, in, StageAggregate, err, &metadata, &pricing, &authenticity)
	}
	aggTimer.RecordStage(StageAggregate, "")

	metrics.CardsProcessedTotal.Inc()
	exec.TerminalState = cardmodel.TerminalSuccess
	return aggOutcome.Value, nil
}

// fallbackAuthenticity is the VerifyAuthenticity stage's retries-exhausted
// substitution: score 0.0, unverified, but still carrying the required
// signal keys so AuthenticityResult.Validate continues to hold (spec.md
// §4.1's VerifyAuthenticity row, §3's AuthenticityResult invariant).
func fallbackAuthenticity(err error) cardmodel.AuthenticityResult {
	return cardmodel.AuthenticityResult{
		Score:        0,
		FakeDetected: false,
		VerifiedByAI: false,
		Signals: map[string]float64{
			cardmodel.SignalVisualHash:  0,
			cardmodel.SignalTextMatch:   0,
			cardmodel.SignalHoloPattern: 0,
		},
		Rationale: "authenticity verification unavailable: " + err.Error(),
	}
}

// failExecution builds the ErrorReport for the given stage and escalates it
// to the Error Persistor using a cancellation-detached context, so the
// persistor still runs even when execCtx itself has already expired
// (spec.md §5 "the orchestrator aborts and invokes ErrorPersistor").
func (o *Orchestrator) failExecution(execCtx context.Context, in Input, stage string, stageErr error, metadata *cardmodel.CardMetadata, pricing *cardmodel.PricingResult, authenticity *cardmodel.AuthenticityResult) (cardmodel.CardRecord, error) {
	report := cardmodel.ErrorReport{
		RequestID:    in.RequestID,
		OwnerID:      in.OwnerID,
		CardID:       in.CardID,
		FailedStage:  stage,
		ErrorKind:    string(appErrors.GetType(stageErr)),
		ErrorDetail:  stageErr.Error(),
		Metadata:     metadata,
		Pricing:      pricing,
		Authenticity: authenticity,
	}
	if o.errorPersistor != nil {
		persistCtx := context.WithoutCancel(execCtx)
		if perr := o.errorPersistor.Persist(persistCtx, report); perr != nil {
			o.logger.WithError(perr).WithField("stage", stage).Error("failed to persist error report")
		}
	}
	return cardmodel.CardRecord{}, stageErr
}
