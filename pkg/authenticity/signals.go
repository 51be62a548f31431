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

package authenticity

import (
	"strings"

	"github.com/jordigilh/cardvault/pkg/cardmodel"
	sharedmath "github.com/jordigilh/cardvault/pkg/shared/math"
)

// fontSizeVarianceThreshold is the fixed design constant of spec.md §4.5's
// fontValidation signal. OCR box heights are normalized to [0,1] (§4.2), so
// a well-set card's same-size text clusters within a few thousandths of
// variance; 0.002 is chosen as the point past which size drift reads as
// forged/mismatched typesetting.
const fontSizeVarianceThreshold = 0.002

// holoVarianceLowThreshold/HighThreshold are the fixed bands of spec.md
// §4.5's holoPattern signal.
const (
	holoVarianceLowThreshold  = 0.2
	holoVarianceHighThreshold = 0.5
)

// holoRarities lists the rarity strings (case-insensitive, substring match)
// that imply a holographic finish, per card-game convention.
var holoRarities = []string{"holo", "foil", "rainbow", "secret", "shiny", "ex", "gx", "vmax"}

func impliesHolographic(rarity string) bool {
	lower := strings.ToLower(rarity)
	for _, r := range holoRarities {
		if strings.Contains(lower, r) {
			return true
		}
	}
	return false
}

// visualHashSignal implements spec.md §4.5's visualHash signal.
func visualHashSignal(table ReferenceTable, key ReferenceKey, hash uint64) float64 {
	score, _ := table.BestMatch(key, hash)
	return score
}

// textMatchSignal implements spec.md §4.5's textMatch signal: a
// 0.5/0.3/0.2-weighted sum of name/set/rarity confidences.
func textMatchSignal(metadata cardmodel.CardMetadata) float64 {
	nameConf := metadata.Name.Confidence
	setConf := setConfidence(metadata.Set)
	rarityConf := metadata.Rarity.Confidence
	return 0.5*nameConf + 0.3*setConf + 0.2*rarityConf
}

func setConfidence(set cardmodel.SetResult) float64 {
	if set.Single != nil {
		return set.Single.Confidence
	}
	if set.Multi != nil && len(set.Multi.Candidates) > 0 {
		return set.Multi.Candidates[0].Confidence
	}
	return 0
}

// holoPatternSignal implements spec.md §4.5's holoPattern signal.
func holoPatternSignal(holoVariance float64, rarity string) float64 {
	holo := impliesHolographic(rarity)
	switch {
	case holo && holoVariance < holoVarianceLowThreshold:
		return 0.2
	case !holo && holoVariance > holoVarianceHighThreshold:
		return 0.3
	case holo:
		// Linearly scale consistency between the low threshold (just
		// passing) and 1.0 (maximal holo variance observed).
		return sharedmath.Clip(holoVariance, 0, 1)
	default:
		// Non-holo card: consistency is highest when variance stays low.
		return sharedmath.Clip(1-holoVariance, 0, 1)
	}
}

// borderConsistencySignal implements spec.md §4.5's borderConsistency signal.
func borderConsistencySignal(borders cardmodel.BorderMetrics) float64 {
	return sharedmath.Clip(borders.SymmetryScore, 0, 1)
}

// fontValidationSignal implements spec.md §4.5's fontValidation signal.
func fontValidationSignal(font cardmodel.FontMetrics) float64 {
	return sharedmath.Clip(1-(font.SizeVariance/fontSizeVarianceThreshold), 0, 1)
}
