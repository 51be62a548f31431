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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/circuitbreaker"
	"github.com/jordigilh/cardvault/pkg/llm"
	"github.com/jordigilh/cardvault/pkg/retry"
	sharedmath "github.com/jordigilh/cardvault/pkg/shared/math"
)

// adapterTimeout is the per-adapter call timeout of spec.md §4.4 step 2.
// adapterMaxAttempts is 1 initial call + 2 retries, per the same step; this
// is an adapter-level bound. The orchestrator calls the PriceCard stage once
// and does not retry it as a whole.
const (
	adapterTimeout      = 10 * time.Second
	adapterMaxAttempts  = 3
	adapterBaseDelay    = 2 * time.Second
	adapterMultiplier   = 2.0
	adapterJitterFrac   = 0.2
)

// Agent is the Pricing Agent (spec.md §4.4). It fans out to every
// configured market Adapter, normalizes and de-outliers the comparables
// returned, and produces a PricingResult with an LLM-or-statistics summary.
type Agent struct {
	adapters        []Adapter
	breakers        map[string]*circuitbreaker.CircuitBreaker
	retryPolicy     retry.Policy
	totalConfigured int
	llmClient       llm.Client
	logger          *logrus.Entry
}

// NewAgent wires one circuit breaker per adapter and the shared per-adapter
// retry policy of spec.md §4.4 step 2.
func NewAgent(adapters []Adapter, llmClient llm.Client, logger *logrus.Logger) *Agent {
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(adapters))
	for _, a := range adapters {
		breakers[a.Name()] = circuitbreaker.NewCircuitBreaker(a.Name(), 0.5, 30*time.Second)
	}
	return &Agent{
		adapters:        adapters,
		breakers:        breakers,
		retryPolicy:     retry.FromStagePolicy(adapterMaxAttempts, adapterBaseDelay, adapterMultiplier, adapterJitterFrac),
		totalConfigured: len(adapters),
		llmClient:       llmClient,
		logger:          logger.WithField("component", "pricing"),
	}
}

// ComposeQuery builds the query tuple of spec.md §4.4 step 1, preferring the
// single-value set and falling back to the top ambiguous candidate.
func ComposeQuery(features cardmodel.FeatureEnvelope, metadata cardmodel.CardMetadata) Query {
	setName, _ := metadata.Set.BestValue()
	return Query{
		Name:              valueOrEmpty(metadata.Name),
		Set:               setName,
		CollectorNumber:   valueOrEmpty(metadata.CollectorNumber),
		Rarity:            valueOrEmpty(metadata.Rarity),
		ConditionEstimate: string(estimateCondition(features)),
	}
}

func valueOrEmpty(f cardmodel.FieldResult[string]) string {
	if f.Value == nil {
		return ""
	}
	return *f.Value
}

// estimateCondition derives a condition band from image quality signals:
// spec.md composes the query tuple from CardMetadata alone, but no
// condition field exists there, so the Pricing Agent infers one from the
// FeatureEnvelope it was already handed (implementation freedom, mirroring
// §4.3's fuzzy-match note).
func estimateCondition(features cardmodel.FeatureEnvelope) conditionBand {
	switch {
	case features.Quality.GlareDetected || features.Quality.Blur > 0.6:
		return bandModeratePlay
	case features.Borders.SymmetryScore > 0.9 && features.Quality.Blur < 0.2:
		return bandNearMint
	default:
		return bandLightlyPlay
	}
}

// Price turns (features, metadata) into a PricingResult (spec.md §4.4's
// public operation). It never returns an error: every failure mode collapses
// into either an empty-adapter contribution or a statistics-only summary.
func (a *Agent) Price(ctx context.Context, features cardmodel.FeatureEnvelope, metadata cardmodel.CardMetadata) cardmodel.PricingResult {
	query := ComposeQuery(features, metadata)
	raw := a.fetchAll(ctx, query)
	band := estimateCondition(features)

	normalized := normalize(raw)
	filtered := filterByCondition(normalized, band)
	retained, prices := rejectOutliers(filtered)

	if len(retained) == 0 {
		return cardmodel.EmptyPricingResult("no comparable sales returned by any adapter")
	}

	low := int64(sharedmath.Percentile(prices, 10))
	median := int64(sharedmath.Percentile(prices, 50))
	high := int64(sharedmath.Percentile(prices, 90))
	compsCount := len(retained)
	srcs := sources(retained)

	diversity := float64(len(srcs)) / float64(maxInt(a.totalConfigured, 1))
	confidence := sharedmath.Clip(float64(compsCount)/20.0, 0, 1) * diversity

	summary := a.summarize(ctx, compsCount, low, median, high, prices)

	return cardmodel.PricingResult{
		ValueLowCents:    &low,
		ValueMedianCents: &median,
		ValueHighCents:   &high,
		CompsCount:       compsCount,
		Sources:          srcs,
		Confidence:       confidence,
		Summary:          summary,
	}
}

// fetchAll fans out to every adapter with bounded concurrency (at most
// len(adapters) in flight — spec.md §5 "bounded concurrency of at most N"),
// each call wrapped in its own circuit breaker and retry policy, and never
// propagating an adapter error: a hard failure yields an empty contribution.
func (a *Agent) fetchAll(ctx context.Context, query Query) []Comparable {
	var mu sync.Mutex
	var all []Comparable

	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range a.adapters {
		adapter := adapter
		g.Go(func() error {
			comps := a.fetchOne(gctx, adapter, query)
			mu.Lock()
			all = append(all, comps...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return all
}

func (a *Agent) fetchOne(ctx context.Context, adapter Adapter, query Query) []Comparable {
	breaker := a.breakers[adapter.Name()]
	result, err := retry.Do(ctx, a.retryPolicy, a.logger, func(attemptCtx context.Context, attempt int) ([]Comparable, error) {
		callCtx, cancel := context.WithTimeout(attemptCtx, adapterTimeout)
		defer cancel()

		var comps []Comparable
		cbErr := breaker.Call(func() error {
			var fetchErr error
			comps, fetchErr = adapter.FetchComparables(callCtx, query)
			return fetchErr
		})
		if cbErr != nil {
			return nil, cbErr
		}
		return comps, nil
	})
	if err != nil {
		a.logger.WithError(err).WithField("adapter", adapter.Name()).Warn("market adapter exhausted retries, contributing no comparables")
		return nil
	}
	return result
}

// summarize produces the LLM-or-statistics narrative of spec.md §4.4 step 6.
func (a *Agent) summarize(ctx context.Context, compsCount int, low, median, high int64, prices []float64) cardmodel.PricingSummary {
	trend := trendFromPrices(prices)
	if a.llmClient == nil {
		return statisticsOnlySummary(median, compsCount, trend)
	}

	prompt := buildSummaryPrompt(compsCount, low, median, high, trend)
	response, err := a.llmClient.Complete(ctx, llm.Request{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   prompt,
	})
	if err != nil {
		a.logger.WithError(err).Warn("pricing summary LLM call failed, falling back to statistics")
		return statisticsOnlySummary(median, compsCount, trend)
	}

	raw, err := llm.ExtractJSON(response)
	if err != nil {
		return statisticsOnlySummary(median, compsCount, trend)
	}
	summary, err := decodeSummary(raw)
	if err != nil {
		return statisticsOnlySummary(median, compsCount, trend)
	}
	return summary
}

func statisticsOnlySummary(median int64, compsCount int, trend cardmodel.Trend) cardmodel.PricingSummary {
	fairValue := median
	return cardmodel.PricingSummary{
		FairValueCents: &fairValue,
		Trend:          trend,
		Rationale:      fmt.Sprintf("statistics-only summary over %d retained comparables", compsCount),
	}
}

// trendFromPrices compares the median of the second half of the retained
// prices against the median of the first half, in the order the adapters
// returned them; stability is a relative change of at most 5%. Comparables
// carry no sale date, so the halves are not ordered by time.
func trendFromPrices(prices []float64) cardmodel.Trend {
	if len(prices) < 2 {
		return cardmodel.TrendStable
	}
	mid := len(prices) / 2
	older := sharedmath.Percentile(prices[:mid], 50)
	recent := sharedmath.Percentile(prices[mid:], 50)
	if older == 0 {
		return cardmodel.TrendStable
	}
	delta := (recent - older) / older
	switch {
	case delta > 0.05:
		return cardmodel.TrendUp
	case delta < -0.05:
		return cardmodel.TrendDown
	default:
		return cardmodel.TrendStable
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
