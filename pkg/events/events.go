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

// Package events defines the wire formats that cross process boundaries:
// the CardCreated event emitted by the Store Gateway and consumed by the
// Event Trigger, the CardValuationCompleted event emitted by the
// Aggregator, and the dead-letter message written by the Error Persistor
// (spec.md §6).
package events

import "time"

// CardCreatedHints carries optional preliminary metadata supplied by the
// uploader, consumed as cardHints by the OCR Reasoning Agent.
type CardCreatedHints struct {
	Name      string `json:"name,omitempty"`
	Set       string `json:"set,omitempty"`
	Number    string `json:"number,omitempty"`
	Rarity    string `json:"rarity,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// CardCreatedDetail is the payload of a CardCreated event.
type CardCreatedDetail struct {
	OwnerID   string            `json:"ownerId"`
	CardID    string            `json:"cardId"`
	FrontKey  string            `json:"frontKey"`
	BackKey   string            `json:"backKey,omitempty"`
	Hints     *CardCreatedHints `json:"hints,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// CardCreated is emitted by the Store Gateway on create and consumed by the
// Event Trigger (spec.md §6).
type CardCreated struct {
	Source     string             `json:"source"`
	DetailType string             `json:"detailType"`
	Detail     CardCreatedDetail  `json:"detail"`
}

// NewCardCreated wraps a detail payload in the envelope the Event Trigger
// expects.
func NewCardCreated(detail CardCreatedDetail) CardCreated {
	return CardCreated{Source: "cards", DetailType: "CardCreated", Detail: detail}
}

// CardValuationCompleted is emitted by the Aggregator on successful
// persistence (spec.md §6).
type CardValuationCompleted struct {
	OwnerID           string    `json:"ownerId"`
	CardID            string    `json:"cardId"`
	Name              string    `json:"name"`
	ValueMedianCents  *int64    `json:"valueMedian,omitempty"`
	AuthenticityScore float64   `json:"authenticityScore"`
	FakeDetected      bool      `json:"fakeDetected"`
	Timestamp         time.Time `json:"timestamp"`
}

// DeadLetterMessage is written by the Error Persistor for operator review
// (spec.md §6, §4.10).
type DeadLetterMessage struct {
	RequestID     string    `json:"requestId"`
	OwnerID       string    `json:"ownerId"`
	CardID        string    `json:"cardId"`
	FailedStage   string    `json:"failedStage"`
	ErrorKind     string    `json:"errorKind"`
	ErrorDetail   string    `json:"errorDetail"`
	PartialStages []string  `json:"partialStages"`
	Timestamp     time.Time `json:"timestamp"`
}
