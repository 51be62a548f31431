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

// Package eventbus puts the cardvault domain events — CardCreated, raised
// by the Store Gateway on create, and CardValuationCompleted, raised by the
// Aggregator on successful persistence — onto their SQS queues. It
// satisfies pkg/store.Publisher and pkg/aggregator.Publisher, and is
// grounded on the same SQS client idiom pkg/errorpersistor's dead-letter
// adapter uses.
package eventbus

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/events"
)

// Bus publishes both domain events onto their respective SQS queues.
type Bus struct {
	client                    *sqs.Client
	cardCreatedQueueURL       string
	valuationCompletedQueueURL string
}

// New builds a Bus over cfg's queues.
func New(ctx context.Context, cfg config.EventBusConfig) (*Bus, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "loading AWS config for event bus")
	}
	return &Bus{
		client:                     sqs.NewFromConfig(awsCfg),
		cardCreatedQueueURL:        cfg.CardCreatedQueueURL,
		valuationCompletedQueueURL: cfg.CardValuationCompletedQueueURL,
	}, nil
}

// PublishCardCreated satisfies pkg/store.Publisher.
func (b *Bus) PublishCardCreated(ctx context.Context, evt events.CardCreated) error {
	return b.send(ctx, b.cardCreatedQueueURL, evt)
}

// PublishCardValuationCompleted satisfies pkg/aggregator.Publisher.
func (b *Bus) PublishCardValuationCompleted(ctx context.Context, evt events.CardValuationCompleted) error {
	return b.send(ctx, b.valuationCompletedQueueURL, evt)
}

func (b *Bus) send(ctx context.Context, queueURL string, payload any) error {
	if queueURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "marshaling event payload")
	}
	_, err = b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "sending event to bus")
	}
	return nil
}
