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

package reasoning

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// minFuzzyMatchSimilarity is the minimum normalized-Levenshtein similarity
// at which a candidate is accepted as a match (spec.md §4.3 "minimum
// acceptance threshold 0.7 similarity").
const minFuzzyMatchSimilarity = 0.7

// bestFuzzyMatch finds the known value closest to query, returning it with
// its similarity when that similarity clears the acceptance threshold.
// Used to correct an LLM-reported set name against a caller-supplied
// known-sets hint list (spec.md §4.3 "implementation freedom" note).
func bestFuzzyMatch(query string, known []string) (match string, similarity float64, ok bool) {
	normQuery := normalize(query)
	for _, candidate := range known {
		s := similarityScore(normQuery, normalize(candidate))
		if s > similarity {
			match, similarity = candidate, s
		}
	}
	return match, similarity, similarity >= minFuzzyMatchSimilarity
}

func similarityScore(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
