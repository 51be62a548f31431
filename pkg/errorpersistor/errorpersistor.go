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

// Package errorpersistor is invoked by the orchestrator's catch arms: it
// writes whatever partial outputs a failed execution produced, stamps
// lastError on the card record, and puts a structured dead-letter message
// for operator review. It also purges orphaned state when extraction
// itself rejected the content (spec.md §4.10).
package errorpersistor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/events"
)

// extractFeaturesStage mirrors pkg/orchestrator.StageExtractFeatures. Kept
// as a local literal rather than importing the orchestrator package, so
// this package stays a leaf the orchestrator depends on, not the reverse.
const extractFeaturesStage = "ExtractFeatures"

// DeleteMode is pkg/store.DeleteMode's underlying type (internal/config's
// DeleteMode, which pkg/store re-exports via a type alias).
type DeleteMode = config.DeleteMode

const DeleteModeHard = config.DeleteModeHard

// Gateway is the subset of pkg/store.Gateway the Error Persistor writes
// through: partial outputs, the lastError stamp, and the InvalidContent
// purge.
type Gateway interface {
	Update(ctx context.Context, ownerID, cardID string, metadata *cardmodel.CardMetadata, pricing *cardmodel.PricingResult, authenticity *cardmodel.AuthenticityResult) error
	RecordError(ctx context.Context, ownerID, cardID, errorDetail string) error
	Delete(ctx context.Context, ownerID, cardID string, mode DeleteMode) error
}

// QueuePublisher puts the structured dead-letter message on the durable
// queue replay tooling reads from. Satisfied by an adapter over
// github.com/aws/aws-sdk-go-v2/service/sqs.
type QueuePublisher interface {
	Publish(ctx context.Context, msg events.DeadLetterMessage) error
}

// Notifier posts a human-readable summary for operators. Optional: a nil
// Notifier is a valid Persistor configuration. Satisfied by an adapter over
// github.com/slack-go/slack.
type Notifier interface {
	Notify(ctx context.Context, msg events.DeadLetterMessage) error
}

// Persistor implements pkg/orchestrator.ErrorPersistor.
type Persistor struct {
	store    Gateway
	queue    QueuePublisher
	notifier Notifier
	logger   *logrus.Entry
}

// New builds a Persistor. notifier may be nil to skip Slack notification.
func New(store Gateway, queue QueuePublisher, notifier Notifier, logger *logrus.Logger) *Persistor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Persistor{store: store, queue: queue, notifier: notifier, logger: logger.WithField("component", "errorpersistor")}
}

// Persist writes report's partial outputs, stamps lastError, emits a
// dead-letter message, and purges the record entirely when extraction
// rejected the content outright.
func (p *Persistor) Persist(ctx context.Context, report cardmodel.ErrorReport) error {
	entry := p.logger.WithFields(logrus.Fields{
		"request_id":   report.RequestID,
		"owner_id":     report.OwnerID,
		"card_id":      report.CardID,
		"failed_stage": report.FailedStage,
		"error_kind":   report.ErrorKind,
	})

	if report.Metadata != nil || report.Pricing != nil || report.Authenticity != nil {
		if err := p.store.Update(ctx, report.OwnerID, report.CardID, report.Metadata, report.Pricing, report.Authenticity); err != nil {
			entry.WithError(err).Error("failed to persist partial outputs")
		}
	}

	if err := p.store.RecordError(ctx, report.OwnerID, report.CardID, report.ErrorDetail); err != nil {
		entry.WithError(err).Error("failed to record lastError on card record")
	}

	msg := events.DeadLetterMessage{
		RequestID:     report.RequestID,
		OwnerID:       report.OwnerID,
		CardID:        report.CardID,
		FailedStage:   report.FailedStage,
		ErrorKind:     report.ErrorKind,
		ErrorDetail:   report.ErrorDetail,
		PartialStages: partialStages(report),
		Timestamp:     time.Now(),
	}

	if p.queue != nil {
		if err := p.queue.Publish(ctx, msg); err != nil {
			entry.WithError(err).Error("failed to publish dead-letter message")
		}
	}
	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, msg); err != nil {
			entry.WithError(err).Warn("failed to notify operators via Slack")
		}
	}

	if report.ErrorKind == string(appErrors.ErrorTypeInvalidContent) && report.FailedStage == extractFeaturesStage {
		if err := p.store.Delete(ctx, report.OwnerID, report.CardID, DeleteModeHard); err != nil {
			entry.WithError(err).Error("failed to purge orphaned record after InvalidContent at Extract")
			return err
		}
		entry.Info("purged orphaned record after InvalidContent at Extract")
	}

	return nil
}

// partialStages derives which stages had already produced output before
// the failure, from whichever fields report carries.
func partialStages(report cardmodel.ErrorReport) []string {
	var stages []string
	if report.Metadata != nil {
		stages = append(stages, "ExtractFeatures", "ReasonOCR")
	}
	if report.Pricing != nil {
		stages = append(stages, "PriceCard")
	}
	if report.Authenticity != nil {
		stages = append(stages, "VerifyAuthenticity")
	}
	return stages
}
