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

// Package metrics exposes the pipeline's Prometheus observability surface
// (spec.md §6): one counter/histogram pair per orchestrator stage, plus
// adapter, LLM and ingress call counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CardsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardvault_cards_processed_total",
		Help: "Total number of CardCreated events that completed an orchestrator run.",
	})

	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardvault_stage_duration_seconds",
		Help:    "Duration of each orchestrator stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	StageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardvault_stage_errors_total",
		Help: "Count of orchestrator stage failures, by stage and error type.",
	}, []string{"stage", "error_type"})

	StageFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardvault_stage_fallbacks_total",
		Help: "Count of orchestrator stages that substituted a fallback value instead of failing outright.",
	}, []string{"stage"})

	LLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardvault_llm_calls_total",
		Help: "Total LLM completion calls, by provider.",
	}, []string{"provider"})

	LLMCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardvault_llm_cache_hits_total",
		Help: "Total LLM response cache hits.",
	})

	PricingAdapterCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardvault_pricing_adapter_calls_total",
		Help: "Total market adapter calls, by adapter name and outcome.",
	}, []string{"adapter", "outcome"})

	EventTriggerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardvault_event_trigger_requests_total",
		Help: "Total CardCreated ingress requests, by outcome (accepted, duplicate, rejected).",
	}, []string{"outcome"})

	CardsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cardvault_cards_in_flight",
		Help: "Number of orchestrator executions currently running.",
	})
)

// RecordStage observes one stage's duration and, on failure, its error type.
func RecordStage(stage string, duration time.Duration, errType string) {
	StageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	if errType != "" {
		StageErrorsTotal.WithLabelValues(stage, errType).Inc()
	}
}

// RecordFallback marks a stage substitution (spec.md §4.1's "substitute ...,
// continue" policy), distinct from a hard failure.
func RecordFallback(stage string) {
	StageFallbacksTotal.WithLabelValues(stage).Inc()
}

// Timer measures one stage's wall-clock duration from construction to the
// RecordStage call.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordStage observes the elapsed time against stage, with errType empty on
// success.
func (t *Timer) RecordStage(stage, errType string) {
	RecordStage(stage, t.Elapsed(), errType)
}
