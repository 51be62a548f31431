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
	"fmt"
	"sort"
	"strings"
)

// rationaleSystemPrompt fixes the optional rationale generator to a short
// narrative over the already-computed signals (spec.md §4.5: "Deterministic
// LLM call (optional rationale generator)").
const rationaleSystemPrompt = `You are a trading-card authentication analyst.
You are given a composite authenticity score and its component signals, each
already computed. Do not recompute or second-guess the signals; write one or
two plain-text sentences explaining the composite score in terms of which
signals drove it. Respond with plain text only, no JSON, no markdown.`

func buildRationalePrompt(signals map[string]float64, score float64) string {
	keys := make([]string, 0, len(signals))
	for k := range signals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "compositeScore=%.3f\n", score)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%.3f\n", k, signals[k])
	}
	return b.String()
}
