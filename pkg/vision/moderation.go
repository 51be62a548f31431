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

package vision

import (
	"context"
	"encoding/json"

	"github.com/open-policy-agent/opa/v1/rego"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

// moderationPolicy encodes spec.md §4.2 steps 2-3 and §6's enumerated
// content-moderation blocklist as a Rego policy, so the acceptance rules
// live in one declarative place rather than scattered threshold checks.
const moderationPolicy = `
package moderation

default blocked := false
default not_a_card := false

blocklist := {
	"explicit nudity", "suggestive", "violence", "visually disturbing",
	"rude gestures", "drugs", "tobacco", "alcohol", "gambling",
	"hate symbols", "exposed body parts", "partial nudity",
}

not_card_labels := {
    "person", "human", "face", "portrait", "animal", "pet", "dog", "cat", "bird",
    "food", "meal", "dish", "vehicle", "car", "truck", "building", "architecture",
    "nature", "landscape", "screen", "monitor", "television", "furniture", "chair", "table",
}

card_labels := {
    "text", "document", "paper", "card", "poster", "flyer", "advertisement",
    "art", "drawing", "painting",
}

blocked if {
	some label in input.labels
	label.name in blocklist
	label.confidence > 0.6
}

strong_not_card if {
	some label in input.labels
	label.name in not_card_labels
	label.confidence > 0.8
}

positive_card if {
	some label in input.labels
	label.name in card_labels
	label.confidence > 0.7
}

not_a_card if {
	strong_not_card
	not positive_card
}
`

// moderationInput mirrors the Rego module's `input` document.
type moderationInput struct {
	Labels []Label `json:"labels"`
}

// moderationResult mirrors the module's two exported rules.
type moderationResult struct {
	Blocked  bool `json:"blocked"`
	NotACard bool `json:"not_a_card"`
}

// Moderator evaluates detected labels against the embedded content and
// card-type policy.
type Moderator struct {
	query rego.PreparedEvalQuery
}

// NewModerator prepares the embedded Rego policy for repeated evaluation.
func NewModerator(ctx context.Context) (*Moderator, error) {
	r := rego.New(
		rego.Query("data.moderation"),
		rego.Module("moderation.rego", moderationPolicy),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "preparing moderation policy")
	}
	return &Moderator{query: pq}, nil
}

// Evaluate runs labels through the policy. blocked reports a kid-safety
// moderation hit; notACard reports the "not a trading card" rejection.
func (m *Moderator) Evaluate(ctx context.Context, labels []Label) (blocked bool, notACard bool, err error) {
	rs, evalErr := m.query.Eval(ctx, rego.EvalInput(moderationInput{Labels: labels}))
	if evalErr != nil {
		return false, false, appErrors.Wrap(evalErr, appErrors.ErrorTypeTransient, "evaluating moderation policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, false, appErrors.New(appErrors.ErrorTypeTransient, "moderation policy produced no result")
	}

	// rego returns the evaluated document as map[string]interface{}; round-trip
	// through JSON into the typed result rather than hand-walking the map.
	raw, marshalErr := json.Marshal(rs[0].Expressions[0].Value)
	if marshalErr != nil {
		return false, false, appErrors.Wrap(marshalErr, appErrors.ErrorTypeInternal, "marshaling moderation result")
	}
	var result moderationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, false, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "decoding moderation result")
	}
	return result.Blocked, result.NotACard, nil
}
