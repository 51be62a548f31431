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

// Package eventtrigger is the webhook-style HTTP ingress for CardCreated
// events: it claims the event's timestamp-based id against the idempotency
// ledger and, on first claim, starts an orchestrator execution in the
// background (spec.md §4.7).
package eventtrigger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/events"
	"github.com/jordigilh/cardvault/pkg/metrics"
)

// Ledger claims requestIds exactly once. Satisfied by *pkg/idempotency.Ledger.
type Ledger interface {
	Claim(ctx context.Context, requestID, ownerID, cardID string) (bool, error)
}

// Limiter enforces the bounded in-flight and per-owner rate backpressure
// controls of spec.md §5. Satisfied by *pkg/ratelimit.Limiter.
type Limiter interface {
	AllowInFlight(ctx context.Context, clientID string) (bool, error)
	Release(ctx context.Context, clientID string) error
	AllowOwnerRate(ctx context.Context, ownerID string) (bool, error)
}

// Executor starts one orchestrator run. Satisfied by the adapter over
// *pkg/orchestrator.Orchestrator in cmd/cardvault.
type Executor interface {
	Execute(ctx context.Context, in ExecutionInput) (cardmodel.CardRecord, error)
}

// ExecutionInput mirrors pkg/orchestrator.Input so this package carries no
// concrete dependency on the orchestrator package itself.
type ExecutionInput struct {
	RequestID string
	OwnerID   string
	CardID    string
	FrontKey  string
	BackKey   string
	CardHints map[string][]string
}

// Trigger wires incoming CardCreated events to orchestrator executions.
type Trigger struct {
	ledger      Ledger
	executor    Executor
	limiter     Limiter
	logger      *logrus.Logger
	diagnostics *diagnostics
}

// New builds a Trigger. logger defaults to a standard logrus.Logger if nil.
// limiter may be nil, in which case no backpressure is applied (used by
// tests that don't exercise the rate-limiting path). The embedded OpenAPI
// document is parsed and validated here so a malformed document is a
// construction-time error rather than a request-time one.
func New(ledger Ledger, executor Executor, limiter Limiter, logger *logrus.Logger) *Trigger {
	if logger == nil {
		logger = logrus.New()
	}
	diag, err := newDiagnostics()
	if err != nil {
		logger.WithError(err).Fatal("invalid embedded openapi document")
	}
	return &Trigger{ledger: ledger, executor: executor, limiter: limiter, logger: logger, diagnostics: diag}
}

// Router returns the chi router mounting the event ingress endpoint.
func (t *Trigger) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
	}))
	r.Post("/events/card-created", t.handleCardCreated)
	r.Get("/healthz", t.handleHealthz)
	r.Get("/diagnostics/openapi.json", t.diagnostics.handleOpenAPI)
	return r
}

func (t *Trigger) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (t *Trigger) handleCardCreated(w http.ResponseWriter, r *http.Request) {
	var evt events.CardCreated
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		metrics.EventTriggerRequestsTotal.WithLabelValues("rejected").Inc()
		writeProblem(w, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "decoding CardCreated event"))
		return
	}

	if err := validateDetail(evt.Detail); err != nil {
		metrics.EventTriggerRequestsTotal.WithLabelValues("rejected").Inc()
		writeProblem(w, err)
		return
	}

	requestID := requestIDFor(evt.Detail)
	logEntry := t.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"owner_id":   evt.Detail.OwnerID,
		"card_id":    evt.Detail.CardID,
	})

	claimedInFlightSlot := false
	if t.limiter != nil {
		allowedRate, err := t.limiter.AllowOwnerRate(r.Context(), evt.Detail.OwnerID)
		if err != nil {
			logEntry.WithError(err).Warn("rate limiter unavailable; allowing request")
		} else if !allowedRate {
			metrics.EventTriggerRequestsTotal.WithLabelValues("rejected").Inc()
			writeProblem(w, appErrors.New(appErrors.ErrorTypeRateLimit, "owner request rate exceeded"))
			return
		}

		allowedInFlight, err := t.limiter.AllowInFlight(r.Context(), evt.Detail.OwnerID)
		if err != nil {
			logEntry.WithError(err).Warn("in-flight limiter unavailable; allowing request")
		} else if !allowedInFlight {
			metrics.EventTriggerRequestsTotal.WithLabelValues("rejected").Inc()
			writeProblem(w, appErrors.New(appErrors.ErrorTypeRateLimit, "in-flight request bound exceeded"))
			return
		} else {
			claimedInFlightSlot = true
		}
	}
	releaseInFlight := func() {
		if claimedInFlightSlot {
			if err := t.limiter.Release(context.Background(), evt.Detail.OwnerID); err != nil {
				logEntry.WithError(err).Warn("failed to release in-flight slot")
			}
		}
	}

	claimed, err := t.ledger.Claim(r.Context(), requestID, evt.Detail.OwnerID, evt.Detail.CardID)
	if err != nil {
		releaseInFlight()
		metrics.EventTriggerRequestsTotal.WithLabelValues("rejected").Inc()
		logEntry.WithError(err).Error("failed to claim requestId")
		writeProblem(w, appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "claiming requestId"))
		return
	}
	if !claimed {
		releaseInFlight()
		metrics.EventTriggerRequestsTotal.WithLabelValues("duplicate").Inc()
		logEntry.Info("duplicate CardCreated event discarded")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"duplicate","requestId":"` + requestID + `"}`))
		return
	}

	in := ExecutionInput{
		RequestID: requestID,
		OwnerID:   evt.Detail.OwnerID,
		CardID:    evt.Detail.CardID,
		FrontKey:  evt.Detail.FrontKey,
		BackKey:   evt.Detail.BackKey,
		CardHints: hintsToMap(evt.Detail.Hints),
	}

	metrics.EventTriggerRequestsTotal.WithLabelValues("accepted").Inc()
	go func() {
		defer releaseInFlight()
		t.runInBackground(logEntry, in)
	}()

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted","requestId":"` + requestID + `"}`))
}

// runInBackground executes the orchestrator pipeline detached from the HTTP
// request's lifetime: the orchestrator's own 120s execution deadline is the
// bound, not the caller's connection.
func (t *Trigger) runInBackground(logEntry *logrus.Entry, in ExecutionInput) {
	ctx := context.Background()
	if _, err := t.executor.Execute(ctx, in); err != nil {
		logEntry.WithError(err).Warn("orchestrator execution did not complete successfully")
	}
}

func requestIDFor(detail events.CardCreatedDetail) string {
	return fmt.Sprintf("%s#%s#%d", detail.OwnerID, detail.CardID, detail.Timestamp.UnixNano())
}

func validateDetail(detail events.CardCreatedDetail) error {
	if detail.OwnerID == "" {
		return appErrors.NewValidationError("ownerId is required")
	}
	if detail.CardID == "" {
		return appErrors.NewValidationError("cardId is required")
	}
	if detail.FrontKey == "" {
		return appErrors.NewValidationError("frontKey is required")
	}
	if detail.Timestamp.IsZero() {
		return appErrors.NewValidationError("timestamp is required")
	}
	return nil
}

func hintsToMap(hints *events.CardCreatedHints) map[string][]string {
	if hints == nil {
		return nil
	}
	out := map[string][]string{}
	add := func(key, value string) {
		if value != "" {
			out[key] = []string{value}
		}
	}
	add("name", hints.Name)
	add("set", hints.Set)
	add("number", hints.Number)
	add("rarity", hints.Rarity)
	add("condition", hints.Condition)
	if len(out) == 0 {
		return nil
	}
	return out
}

// problem is an RFC7807-flavored error body, matching the teacher's
// datastorage handler convention of {type, title, detail}.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, err error) {
	status := appErrors.GetStatusCode(err)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{
		Type:   string(appErrors.GetType(err)),
		Title:  http.StatusText(status),
		Detail: err.Error(),
	})
}
