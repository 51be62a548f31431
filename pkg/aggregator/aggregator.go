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

// Package aggregator is the Aggregator: it merges the Reasoning, Pricing and
// Authenticity stage outputs into a CardRecord update, persists it through
// the Store Gateway, and emits CardValuationCompleted on success (spec.md
// §4.6).
package aggregator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/events"
)

// Gateway is the subset of pkg/store.Gateway the Aggregator drives: fetch
// the existing record (step 1), then a conditional write of the merged
// result (step 2-3).
type Gateway interface {
	Get(ctx context.Context, ownerID, cardID string) (*cardmodel.CardRecord, error)
	Update(ctx context.Context, ownerID, cardID string, metadata *cardmodel.CardMetadata, pricing *cardmodel.PricingResult, authenticity *cardmodel.AuthenticityResult) error
}

// Publisher emits the CardValuationCompleted event the Aggregator raises on
// successful persistence (spec.md §4.6 step 4). pkg/eventbus.Bus implements
// it over SQS, as it does pkg/store's own Publisher.
type Publisher interface {
	PublishCardValuationCompleted(ctx context.Context, evt events.CardValuationCompleted) error
}

// Aggregator is the Aggregator's public surface (spec.md §4.6).
type Aggregator struct {
	store     Gateway
	publisher Publisher
	logger    *logrus.Entry
}

// New builds an Aggregator over store, publishing completion events through
// publisher. publisher may be nil, in which case events are skipped.
func New(store Gateway, publisher Publisher, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Aggregator{
		store:     store,
		publisher: publisher,
		logger:    logger.WithField("component", "aggregator"),
	}
}

// Aggregate assembles {metadata, pricing, authenticity} into a CardRecord
// update and persists it (spec.md §4.6's five numbered behaviors).
//
// Behavior 1 (fetch-with-NotFound) and behavior 3/5 (conditional write,
// escalate rather than retry on conflict) are both enforced by Gateway
// itself; Aggregate's job is the merge (behavior 2), success accounting and
// event emission (behavior 4).
func (a *Aggregator) Aggregate(ctx context.Context, ownerID, cardID string, metadata cardmodel.CardMetadata, pricing cardmodel.PricingResult, authenticity cardmodel.AuthenticityResult) (cardmodel.CardRecord, error) {
	rec, err := a.store.Get(ctx, ownerID, cardID)
	if err != nil {
		// Behavior 1: NotFound here means the CardCreated event that should
		// have preceded this aggregation never landed — an invariant
		// violation, not something to paper over.
		return cardmodel.CardRecord{}, err
	}

	if err := a.store.Update(ctx, ownerID, cardID, &metadata, &pricing, &authenticity); err != nil {
		// Behavior 5: no retry on conditional-write failure. The caller
		// (the orchestrator's Aggregate catch arm) routes this to the Error
		// Persistor.
		return cardmodel.CardRecord{}, err
	}

	now := time.Now()
	rec.Metadata = &metadata
	rec.Pricing = &pricing
	rec.Authenticity = &authenticity
	rec.UpdatedAt = now

	if a.publisher != nil {
		evt := events.CardValuationCompleted{
			OwnerID:           ownerID,
			CardID:            cardID,
			Name:              nameOf(metadata),
			ValueMedianCents:  pricing.ValueMedianCents,
			AuthenticityScore: authenticity.Score,
			FakeDetected:      authenticity.FakeDetected,
			Timestamp:         now,
		}
		if err := a.publisher.PublishCardValuationCompleted(ctx, evt); err != nil {
			return *rec, appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "publishing CardValuationCompleted")
		}
	}

	return *rec, nil
}

func nameOf(metadata cardmodel.CardMetadata) string {
	if metadata.Name.Value != nil {
		return *metadata.Name.Value
	}
	return ""
}
