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

// Package pricing implements the Pricing Agent (spec.md §4.4): it composes a
// query tuple from CardMetadata, fans out to a configured set of market
// adapters, normalizes and de-outliers the returned comparables, and
// produces a PricingResult with an LLM-or-statistics narrative summary.
package pricing

import "context"

// Query is the tuple the Pricing Agent composes from CardMetadata and sends
// to every adapter (spec.md §4.4 step 1).
type Query struct {
	Name              string
	Set               string
	CollectorNumber   string
	Rarity            string
	ConditionEstimate string
}

// Comparable is one comparable sale as reported by a market adapter, prior
// to currency/condition normalization.
type Comparable struct {
	PriceCents int64
	Currency   string
	Condition  string
	Source     string
}

// Adapter is one market data source consulted by the Pricing Agent. An
// Adapter must never return an error for ordinary "no data" conditions; it
// returns an empty slice instead. Adapter implementations are responsible
// for their own wire format; FetchComparables returns the comparables found
// for Query, in whatever currency/condition vocabulary the adapter uses —
// normalization happens in the caller.
type Adapter interface {
	Name() string
	FetchComparables(ctx context.Context, query Query) ([]Comparable, error)
}
