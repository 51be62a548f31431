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

// Package retry provides the single retry combinator referenced by
// spec.md §9: one implementation parameterized by (maxAttempts, baseDelay,
// multiplier, jitter, retryableKinds), reused by every market adapter, the
// LLM client, and every orchestrator stage invocation. It is a thin,
// typed wrapper over sethvargo/go-retry's backoff primitives.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

// Policy parameterizes one call site's retry behavior.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Multiplier is carried for observability/config-fidelity; go-retry's
	// exponential backoff doubles the delay each attempt, which matches
	// every stage policy in spec.md §4.1 (all specify multiplier 2.0).
	Multiplier float64
	// JitterFrac is the fraction (0..1) of the computed delay to randomize,
	// capped at 20% per spec.md §4.1/§4.3.
	JitterFrac float64
	// IsRetryable classifies an error as retryable; defaults to
	// internal/errors.IsRetryable when nil.
	IsRetryable func(error) bool
}

// retryable resolves the effective classifier for a Policy.
func (p Policy) retryable() func(error) bool {
	if p.IsRetryable != nil {
		return p.IsRetryable
	}
	return appErrors.IsRetryable
}

func (p Policy) backoff() (retry.Backoff, error) {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	b, err := retry.NewExponential(base)
	if err != nil {
		return nil, err
	}
	maxRetries := p.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	b = retry.WithMaxRetries(uint64(maxRetries), b)
	if p.JitterFrac > 0 {
		jitterPct := uint64(p.JitterFrac * 100)
		if jitterPct > 20 {
			jitterPct = 20
		}
		b = retry.WithJitterPercent(jitterPct, b)
	}
	return b, nil
}

// Do runs operation, retrying per policy when it returns a retryable error.
// attempt is 1-indexed. The final error, if any, is the last attempt's
// unwrapped error (not go-retry's internal RetryableError wrapper).
func Do[T any](ctx context.Context, policy Policy, logger *logrus.Entry, operation func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero, result T

	b, err := policy.backoff()
	if err != nil {
		return zero, err
	}
	isRetryable := policy.retryable()

	attempt := 0
	runErr := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		r, err := operation(ctx, attempt)
		if err != nil {
			if isRetryable(err) {
				if logger != nil {
					logger.WithFields(appErrors.LogFields(err)).WithField("attempt", attempt).
						Warn("retrying after transient failure")
				}
				return retry.RetryableError(err)
			}
			return err
		}
		result = r
		return nil
	})
	if runErr != nil {
		return zero, runErr
	}
	return result, nil
}

// FromStagePolicy builds a Policy from a stage's configured retry table
// entry (internal/config.RetryPolicy), carried as plain fields to avoid an
// import cycle between retry and config.
func FromStagePolicy(maxAttempts int, baseDelay time.Duration, multiplier, jitterFrac float64) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, Multiplier: multiplier, JitterFrac: jitterFrac}
}
