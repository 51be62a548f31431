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

// Package phase provides the combinator the Workflow Orchestrator's
// ExtractFeatures, VerifyAuthenticity and Aggregate stages are built from
// (ReasonOCR and PriceCard call their agents directly, and those agents
// substitute their own fallbacks): bound a stage invocation by its deadline, retry it
// per its configured policy, and either propagate the exhausted error (for
// stages that fail the whole execution) or substitute a fallback value and
// continue (spec.md §4.1's per-stage policy table).
package phase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/cardvault/pkg/retry"
)

// Outcome carries a stage's value plus whether it came from the stage's
// own logic or was substituted after retries were exhausted.
type Outcome[T any] struct {
	Value       T
	Substituted bool
}

// Run executes operation within a per-stage deadline, retrying per policy.
// If fallback is nil, an exhausted retry's error propagates unchanged — the
// ExtractFeatures and Aggregate stages use this to fail the whole
// execution. If fallback is non-nil, it is invoked with the final error and
// Run never returns an error; the VerifyAuthenticity stage uses this to
// substitute a fallback and continue.
func Run[T any](ctx context.Context, deadline time.Duration, policy retry.Policy, logger *logrus.Entry, operation func(ctx context.Context) (T, error), fallback func(error) T) (Outcome[T], error) {
	stageCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	value, err := retry.Do(stageCtx, policy, logger, func(attemptCtx context.Context, attempt int) (T, error) {
		return operation(attemptCtx)
	})
	if err != nil {
		if fallback == nil {
			var zero T
			return Outcome[T]{Value: zero}, err
		}
		return Outcome[T]{Value: fallback(err), Substituted: true}, nil
	}
	return Outcome[T]{Value: value}, nil
}
