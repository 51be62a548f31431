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

// Package circuitbreaker guards the pipeline's external collaborators
// (market adapters, the object store, the LLM client) against cascading
// failure. It wraps sony/gobreaker behind a small, named-failure-rate API
// so call sites reason about a threshold and a reset timeout rather than
// gobreaker's generic counts.
package circuitbreaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitState mirrors gobreaker's three states under cardvault's own names.
type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"
	CircuitStateOpen     CircuitState = "open"
	CircuitStateHalfOpen CircuitState = "half-open"
)

// minRequestsForTrip is the minimum sample size before a failure rate is
// trusted to trip the breaker; below it, a single early failure would
// otherwise open the circuit on noise.
const minRequestsForTrip = 5

// CircuitBreaker protects one named external dependency.
type CircuitBreaker struct {
	name              string
	failureThreshold  float64
	resetTimeout      time.Duration
	inner             *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker that opens once at least
// minRequestsForTrip calls have been made and the failure rate reaches
// failureThreshold, then probes a single call after resetTimeout.
func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequestsForTrip {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureThreshold
		},
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		inner:            gobreaker.NewCircuitBreaker(settings),
	}
}

// Call executes fn through the breaker. When the breaker is open, fn is not
// invoked and an error mentioning "circuit breaker is open" is returned.
func (c *CircuitBreaker) Call(fn func() error) error {
	_, err := c.inner.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("circuit breaker %q: circuit breaker is open", c.name)
	}
	return err
}

// GetState returns the breaker's current state.
func (c *CircuitBreaker) GetState() CircuitState {
	switch c.inner.State() {
	case gobreaker.StateClosed:
		return CircuitStateClosed
	case gobreaker.StateOpen:
		return CircuitStateOpen
	default:
		return CircuitStateHalfOpen
	}
}

func (c *CircuitBreaker) GetName() string { return c.name }

func (c *CircuitBreaker) GetFailureThreshold() float64 { return c.failureThreshold }

func (c *CircuitBreaker) GetResetTimeout() time.Duration { return c.resetTimeout }

// GetFailureRate returns the failure rate over the current counting window.
func (c *CircuitBreaker) GetFailureRate() float64 {
	counts := c.inner.Counts()
	if counts.Requests == 0 {
		return 0
	}
	return float64(counts.TotalFailures) / float64(counts.Requests)
}

// GetFailures returns the total failure count in the current window.
func (c *CircuitBreaker) GetFailures() int64 {
	return int64(c.inner.Counts().TotalFailures)
}
