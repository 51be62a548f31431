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
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	sharedmath "github.com/jordigilh/cardvault/pkg/shared/math"
)

// baseCurrency is the common currency every comparable is normalized to
// before percentile computation (spec.md §4.4 step 3).
const baseCurrency = "USD"

// conversionRates are fixed, design-default FX rates against baseCurrency.
// A production deployment would source these from a live feed; spec.md
// leaves the source unspecified (SPEC_FULL.md §13 Open Question), so a
// static table is the deterministic choice.
var conversionRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"EUR": decimal.NewFromFloat(1.08),
	"GBP": decimal.NewFromFloat(1.27),
	"JPY": decimal.NewFromFloat(0.0067),
}

// conditionBand collapses adapter-specific condition vocabularies onto a
// common five-point scale, matching PSA/BGS-style grading bands.
type conditionBand string

const (
	bandMint        conditionBand = "mint"
	bandNearMint    conditionBand = "near-mint"
	bandLightlyPlay conditionBand = "lightly-played"
	bandModeratePlay conditionBand = "moderately-played"
	bandDamaged     conditionBand = "damaged"
	bandUnknown     conditionBand = "unknown"
)

var conditionAliases = map[string]conditionBand{
	"mint":           bandMint,
	"gem mint":       bandMint,
	"psa 10":         bandMint,
	"near mint":      bandNearMint,
	"nm":             bandNearMint,
	"nm-mt":          bandNearMint,
	"lightly played": bandLightlyPlay,
	"excellent":      bandLightlyPlay,
	"lp":             bandLightlyPlay,
	"moderately played": bandModeratePlay,
	"played":          bandModeratePlay,
	"mp":              bandModeratePlay,
	"damaged":         bandDamaged,
	"poor":            bandDamaged,
	"heavily played":  bandDamaged,
	"hp":              bandDamaged,
}

func normalizeCondition(raw string) conditionBand {
	key := strings.ToLower(strings.TrimSpace(raw))
	if band, ok := conditionAliases[key]; ok {
		return band
	}
	return bandUnknown
}

// normalizedComparable is a Comparable after currency conversion, carrying
// its condition band and originating source for downstream grouping.
type normalizedComparable struct {
	priceCents decimal.Decimal
	condition  conditionBand
	source     string
}

// normalize converts every comparable to baseCurrency. Comparables in an
// unrecognized currency are dropped rather than guessed at.
func normalize(comparables []Comparable) []normalizedComparable {
	out := make([]normalizedComparable, 0, len(comparables))
	for _, c := range comparables {
		currency := strings.ToUpper(strings.TrimSpace(c.Currency))
		if currency == "" {
			currency = baseCurrency
		}
		rate, ok := conversionRates[currency]
		if !ok {
			continue
		}
		price := decimal.NewFromInt(c.PriceCents).Mul(rate)
		out = append(out, normalizedComparable{
			priceCents: price,
			condition:  normalizeCondition(c.Condition),
			source:     c.Source,
		})
	}
	return out
}

// filterByCondition retains only comparables matching the requested band,
// falling back to the full set when the band has no matches (a narrow
// condition filter should never manufacture a zero-comps result on its
// own — the IQR fence is the only intended source of rejection).
func filterByCondition(comparables []normalizedComparable, band conditionBand) []normalizedComparable {
	if band == bandUnknown || band == "" {
		return comparables
	}
	filtered := make([]normalizedComparable, 0, len(comparables))
	for _, c := range comparables {
		if c.condition == band {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return comparables
	}
	return filtered
}

// rejectOutliers drops comparables priced outside the 1.5x IQR fence
// (spec.md §4.4 step 3), returning the retained comparables alongside their
// float64 price-in-cents values for percentile computation.
func rejectOutliers(comparables []normalizedComparable) ([]normalizedComparable, []float64) {
	prices := make([]float64, len(comparables))
	for i, c := range comparables {
		f, _ := c.priceCents.Float64()
		prices[i] = f
	}
	lower, upper := sharedmath.IQRFence(prices)
	if len(comparables) < 4 {
		return comparables, prices
	}
	retained := make([]normalizedComparable, 0, len(comparables))
	retainedPrices := make([]float64, 0, len(prices))
	for i, p := range prices {
		if p >= lower && p <= upper {
			retained = append(retained, comparables[i])
			retainedPrices = append(retainedPrices, p)
		}
	}
	return retained, retainedPrices
}

// sources returns the distinct adapter names contributing at least one of
// the given comparables, sorted for deterministic output.
func sources(comparables []normalizedComparable) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range comparables {
		if c.source == "" || seen[c.source] {
			continue
		}
		seen[c.source] = true
		out = append(out, c.source)
	}
	sort.Strings(out)
	return out
}
