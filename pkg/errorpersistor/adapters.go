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

package errorpersistor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/slack-go/slack"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/events"
	"github.com/jordigilh/cardvault/pkg/notification/sanitization"
)

// SQSQueuePublisher puts the dead-letter message JSON onto an SQS queue,
// the durable transport replay tooling reads from.
type SQSQueuePublisher struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueuePublisher builds a QueuePublisher over cfg's queue.
func NewSQSQueuePublisher(ctx context.Context, cfg config.DeadLetterConfig) (*SQSQueuePublisher, error) {
	if cfg.QueueURL == "" {
		return nil, appErrors.New(appErrors.ErrorTypeValidation, "dead-letter queue URL must not be empty")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "loading AWS config for dead-letter queue")
	}
	return &SQSQueuePublisher{client: sqs.NewFromConfig(awsCfg), queueURL: cfg.QueueURL}, nil
}

// Publish sends msg as a JSON body to the configured queue.
func (q *SQSQueuePublisher) Publish(ctx context.Context, msg events.DeadLetterMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "marshaling dead-letter message")
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "sending dead-letter message to SQS")
	}
	return nil
}

// SlackNotifier posts a human-readable summary of a dead-letter message to
// a Slack channel for operator review.
type SlackNotifier struct {
	client    *slack.Client
	channel   string
	sanitizer *sanitization.Sanitizer
}

// NewSlackNotifier builds a Notifier over cfg's channel and bot token.
func NewSlackNotifier(cfg config.DeadLetterConfig) (*SlackNotifier, error) {
	if cfg.SlackToken == "" || cfg.SlackChannel == "" {
		return nil, appErrors.New(appErrors.ErrorTypeValidation, "Slack channel and token must not be empty")
	}
	return &SlackNotifier{
		client:    slack.New(cfg.SlackToken),
		channel:   cfg.SlackChannel,
		sanitizer: sanitization.NewSanitizer(),
	}, nil
}

// Notify posts msg's summary to the configured Slack channel. errorDetail
// often wraps a third-party adapter's own error message, which may itself
// carry a leaked credential (an LLM provider's auth error, a market
// adapter's OAuth failure) — it is sanitized before leaving the process.
func (s *SlackNotifier) Notify(ctx context.Context, msg events.DeadLetterMessage) error {
	detail, _ := s.sanitizer.SanitizeWithFallback(msg.ErrorDetail)
	text := fmt.Sprintf(
		"card valuation failed: owner=%s card=%s stage=%s kind=%s detail=%q",
		msg.OwnerID, msg.CardID, msg.FailedStage, msg.ErrorKind, detail,
	)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "posting dead-letter notification to Slack")
	}
	return nil
}
