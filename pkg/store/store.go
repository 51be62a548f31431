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

// Package store is the Store Gateway: a key-value store over
// PK=USER#{ownerId}, SK=CARD#{cardId}, with a secondary index on cardId
// for direct lookup (spec.md §4.8). It is the only pipeline component
// with write access to card records, and the sole place ownership checks
// are enforced on read.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/events"
	"github.com/jordigilh/cardvault/pkg/objectstore"
)

const (
	pkPrefix = "USER#"
	skPrefix = "CARD#"
)

// Page is one page of a List call: the records and an opaque cursor to
// fetch the next page, empty when there is none.
type Page struct {
	Records []cardmodel.CardRecord
	Cursor  string
}

// Publisher emits the CardCreated event the Store Gateway raises on create.
// pkg/eventbus.Bus implements it over SQS.
type Publisher interface {
	PublishCardCreated(ctx context.Context, evt events.CardCreated) error
}

// Gateway is the Store Gateway's public surface (spec.md §4.8).
type Gateway struct {
	ddb       *dynamodb.Client
	objects   objectstore.Reader
	publisher Publisher
	table     string
	cardIndex string
}

// NewGateway builds a Gateway over cfg's table, publishing CardCreated
// events through publisher and deleting image objects on hard delete
// through objects.
func NewGateway(ctx context.Context, cfg config.StoreConfig, objects objectstore.Reader, publisher Publisher) (*Gateway, error) {
	if cfg.TableName == "" {
		return nil, appErrors.New(appErrors.ErrorTypeValidation, "store table name must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "loading AWS config for store gateway")
	}
	ddb := dynamodb.NewFromConfig(awsCfg)

	return &Gateway{
		ddb:       ddb,
		objects:   objects,
		publisher: publisher,
		table:     cfg.TableName,
		cardIndex: cfg.CardIndexName,
	}, nil
}

func partitionKey(ownerID string) string { return pkPrefix + ownerID }
func sortKey(cardID string) string       { return skPrefix + cardID }

// item is the DynamoDB-attribute shape of a CardRecord (spec.md §6
// "Persistent state layout"), flattened for attributevalue marshaling.
type item struct {
	PK        string     `dynamodbav:"PK"`
	SK        string     `dynamodbav:"SK"`
	CardID    string     `dynamodbav:"cardId"`
	OwnerID   string      `dynamodbav:"ownerId"`
	FrontKey  string     `dynamodbav:"frontKey"`
	BackKey   *string    `dynamodbav:"backKey,omitempty"`
	CreatedAt time.Time  `dynamodbav:"createdAt"`
	UpdatedAt time.Time  `dynamodbav:"updatedAt"`
	DeletedAt *time.Time `dynamodbav:"deletedAt,omitempty"`
	LastError *string    `dynamodbav:"lastError,omitempty"`

	ValueLowCents    *int64   `dynamodbav:"valueLow,omitempty"`
	ValueMedianCents *int64   `dynamodbav:"valueMedian,omitempty"`
	ValueHighCents   *int64   `dynamodbav:"valueHigh,omitempty"`
	CompsCount       int      `dynamodbav:"compsCount"`
	Sources          []string `dynamodbav:"sources,omitempty"`
	PriceConfidence  float64  `dynamodbav:"priceConfidence,omitempty"`
	FairValueCents   *int64   `dynamodbav:"fairValue,omitempty"`
	Trend            string   `dynamodbav:"trend,omitempty"`
	PriceRationale   string   `dynamodbav:"priceRationale,omitempty"`

	AuthenticityScore float64            `dynamodbav:"authenticityScore"`
	FakeDetected      bool               `dynamodbav:"fakeDetected"`
	AuthVerifiedByAI  bool               `dynamodbav:"authVerifiedByAI,omitempty"`
	AuthSignals       map[string]float64 `dynamodbav:"authSignals,omitempty"`
	AuthRationale     string             `dynamodbav:"authRationale,omitempty"`

	OCRMetadata map[string]interface{} `dynamodbav:"ocrMetadata,omitempty"`
}

// marshalMetadata flattens a CardMetadata into the generic document shape
// the ocrMetadata attribute stores, so the Aggregator can overwrite it
// wholesale without the Store Gateway knowing its field-by-field layout
// (spec.md §4.6 step 2).
func marshalMetadata(metadata *cardmodel.CardMetadata) (map[string]interface{}, error) {
	if metadata == nil {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// unmarshalMetadata reverses marshalMetadata, used when rehydrating a
// CardRecord from its stored item.
func unmarshalMetadata(doc map[string]interface{}) (*cardmodel.CardMetadata, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var metadata cardmodel.CardMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, err
	}
	return &metadata, nil
}

// Create inserts a new card record and emits CardCreated on success.
func (g *Gateway) Create(ctx context.Context, rec cardmodel.CardRecord, hints *events.CardCreatedHints) error {
	it, err := toItem(rec)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "flattening card metadata")
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "marshaling card record")
	}

	cond := expression.AttributeNotExists(expression.Name("PK"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "building create condition")
	}

	_, err = g.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 &g.table,
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "creating card record")
	}

	if g.publisher != nil {
		evt := events.NewCardCreated(events.CardCreatedDetail{
			OwnerID:   rec.OwnerID,
			CardID:    rec.CardID,
			FrontKey:  rec.FrontKey,
			Hints:     hints,
			Timestamp: rec.CreatedAt,
		})
		if rec.BackKey != nil {
			evt.Detail.BackKey = *rec.BackKey
		}
		if err := g.publisher.PublishCardCreated(ctx, evt); err != nil {
			return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "publishing CardCreated")
		}
	}
	return nil
}

// Get fetches a record by (ownerId, cardId), enforcing the ownership check
// on every read.
func (g *Gateway) Get(ctx context.Context, ownerID, cardID string) (*cardmodel.CardRecord, error) {
	out, err := g.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &g.table,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(ownerID)},
			"SK": &types.AttributeValueMemberS{Value: sortKey(cardID)},
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "fetching card record")
	}
	if len(out.Item) == 0 {
		return nil, appErrors.NewNotFoundError(fmt.Sprintf("card %s for owner %s", cardID, ownerID))
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "unmarshaling card record")
	}
	rec, err := fromItem(it)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "reconstructing card metadata")
	}
	if !rec.BelongsTo(ownerID) {
		return nil, appErrors.NewPermissionDeniedError("card does not belong to the requesting owner")
	}
	return &rec, nil
}

// List pages through an owner's cards, newest first, by opaque cursor.
func (g *Gateway) List(ctx context.Context, ownerID string, cursor string, limit int32) (Page, error) {
	input := &dynamodb.QueryInput{
		TableName:              &g.table,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partitionKey(ownerID)},
		},
		ScanIndexForward: aws.Bool(false), // createdAt descending via SK ordering
		Limit:            aws.Int32(limit),
	}
	if cursor != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(ownerID)},
			"SK": &types.AttributeValueMemberS{Value: cursor},
		}
	}

	out, err := g.ddb.Query(ctx, input)
	if err != nil {
		return Page{}, appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "listing card records")
	}

	records := make([]cardmodel.CardRecord, 0, len(out.Items))
	for _, raw := range out.Items {
		var it item
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return Page{}, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "unmarshaling card record")
		}
		rec, err := fromItem(it)
		if err != nil {
			return Page{}, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "reconstructing card metadata")
		}
		records = append(records, rec)
	}

	page := Page{Records: records}
	if len(out.LastEvaluatedKey) > 0 {
		if sk, ok := out.LastEvaluatedKey["SK"].(*types.AttributeValueMemberS); ok {
			page.Cursor = sk.Value
		}
	}
	return page, nil
}

// Update applies an aggregation result, conditional on ownerId still
// matching the stored record (spec.md §4.6 step 3).
func (g *Gateway) Update(ctx context.Context, ownerID, cardID string, metadata *cardmodel.CardMetadata, pricing *cardmodel.PricingResult, authenticity *cardmodel.AuthenticityResult) error {
	now := time.Now()

	update := expression.Set(expression.Name("updatedAt"), expression.Value(now))
	if metadata != nil {
		doc, err := marshalMetadata(metadata)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "flattening card metadata")
		}
		update = update.Set(expression.Name("ocrMetadata"), expression.Value(doc))
	}
	if pricing != nil {
		update = update.
			Set(expression.Name("valueLow"), expression.Value(pricing.ValueLowCents)).
			Set(expression.Name("valueMedian"), expression.Value(pricing.ValueMedianCents)).
			Set(expression.Name("valueHigh"), expression.Value(pricing.ValueHighCents)).
			Set(expression.Name("compsCount"), expression.Value(pricing.CompsCount)).
			Set(expression.Name("sources"), expression.Value(pricing.Sources)).
			Set(expression.Name("priceConfidence"), expression.Value(pricing.Confidence)).
			Set(expression.Name("fairValue"), expression.Value(pricing.Summary.FairValueCents)).
			Set(expression.Name("trend"), expression.Value(string(pricing.Summary.Trend))).
			Set(expression.Name("priceRationale"), expression.Value(pricing.Summary.Rationale))
	}
	if authenticity != nil {
		update = update.
			Set(expression.Name("authenticityScore"), expression.Value(authenticity.Score)).
			Set(expression.Name("fakeDetected"), expression.Value(authenticity.FakeDetected)).
			Set(expression.Name("authVerifiedByAI"), expression.Value(authenticity.VerifiedByAI)).
			Set(expression.Name("authSignals"), expression.Value(authenticity.Signals)).
			Set(expression.Name("authRationale"), expression.Value(authenticity.Rationale))
	}

	cond := expression.Equal(expression.Name("ownerId"), expression.Value(ownerID))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "building update expression")
	}

	_, err = g.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &g.table,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(ownerID)},
			"SK": &types.AttributeValueMemberS{Value: sortKey(cardID)},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return appErrors.Wrap(err, appErrors.ErrorTypeConflict, "card record owner changed concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "updating card record")
	}
	return nil
}

// RecordError stamps lastError on a card record without touching any other
// field, for the Error Persistor's catch-arm writes (spec.md §4.10). Unlike
// Update it is not conditional on ownerId: by the time the orchestrator's
// catch arm runs, the owner is already known to be the one that started the
// execution, and the write must succeed even if a concurrent Update already
// changed other fields on the record.
func (g *Gateway) RecordError(ctx context.Context, ownerID, cardID, errorDetail string) error {
	update := expression.Set(expression.Name("updatedAt"), expression.Value(time.Now())).
		Set(expression.Name("lastError"), expression.Value(errorDetail))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "building error-record update expression")
	}

	_, err = g.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &g.table,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(ownerID)},
			"SK": &types.AttributeValueMemberS{Value: sortKey(cardID)},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "recording last error on card record")
	}
	return nil
}

// DeleteMode selects soft or hard deletion semantics (spec.md §4.8).
type DeleteMode = config.DeleteMode

// Delete removes or tombstones a card record. Hard delete also removes the
// referenced image objects.
func (g *Gateway) Delete(ctx context.Context, ownerID, cardID string, mode DeleteMode) error {
	rec, err := g.Get(ctx, ownerID, cardID)
	if err != nil {
		return err
	}

	if mode == config.DeleteModeHard {
		_, err := g.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &g.table,
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: partitionKey(ownerID)},
				"SK": &types.AttributeValueMemberS{Value: sortKey(cardID)},
			},
		})
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "hard-deleting card record")
		}
		if g.objects != nil {
			if err := g.objects.Delete(ctx, rec.FrontKey); err != nil {
				return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "deleting front image object")
			}
			if rec.BackKey != nil {
				if err := g.objects.Delete(ctx, *rec.BackKey); err != nil {
					return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "deleting back image object")
				}
			}
		}
		return nil
	}

	now := time.Now()
	update := expression.Set(expression.Name("deletedAt"), expression.Value(now))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "building soft-delete expression")
	}
	_, err = g.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &g.table,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(ownerID)},
			"SK": &types.AttributeValueMemberS{Value: sortKey(cardID)},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeDatabase, "soft-deleting card record")
	}
	return nil
}

func toItem(rec cardmodel.CardRecord) (item, error) {
	it := item{
		PK:        partitionKey(rec.OwnerID),
		SK:        sortKey(rec.CardID),
		CardID:    rec.CardID,
		OwnerID:   rec.OwnerID,
		FrontKey:  rec.FrontKey,
		BackKey:   rec.BackKey,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		DeletedAt: rec.DeletedAt,
		LastError: rec.LastError,
	}
	if rec.Metadata != nil {
		doc, err := marshalMetadata(rec.Metadata)
		if err != nil {
			return item{}, err
		}
		it.OCRMetadata = doc
	}
	if rec.Pricing != nil {
		it.ValueLowCents = rec.Pricing.ValueLowCents
		it.ValueMedianCents = rec.Pricing.ValueMedianCents
		it.ValueHighCents = rec.Pricing.ValueHighCents
		it.CompsCount = rec.Pricing.CompsCount
		it.Sources = rec.Pricing.Sources
		it.PriceConfidence = rec.Pricing.Confidence
		it.FairValueCents = rec.Pricing.Summary.FairValueCents
		it.Trend = string(rec.Pricing.Summary.Trend)
		it.PriceRationale = rec.Pricing.Summary.Rationale
	}
	if rec.Authenticity != nil {
		it.AuthenticityScore = rec.Authenticity.Score
		it.FakeDetected = rec.Authenticity.FakeDetected
		it.AuthVerifiedByAI = rec.Authenticity.VerifiedByAI
		it.AuthSignals = rec.Authenticity.Signals
		it.AuthRationale = rec.Authenticity.Rationale
	}
	return it, nil
}

func fromItem(it item) (cardmodel.CardRecord, error) {
	rec := cardmodel.CardRecord{
		OwnerID:   it.OwnerID,
		CardID:    it.CardID,
		FrontKey:  it.FrontKey,
		BackKey:   it.BackKey,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
		DeletedAt: it.DeletedAt,
		LastError: it.LastError,
	}
	metadata, err := unmarshalMetadata(it.OCRMetadata)
	if err != nil {
		return cardmodel.CardRecord{}, err
	}
	rec.Metadata = metadata
	if it.ValueLowCents != nil || it.ValueMedianCents != nil || it.ValueHighCents != nil || it.CompsCount > 0 {
		rec.Pricing = &cardmodel.PricingResult{
			ValueLowCents:    it.ValueLowCents,
			ValueMedianCents: it.ValueMedianCents,
			ValueHighCents:   it.ValueHighCents,
			CompsCount:       it.CompsCount,
			Sources:          it.Sources,
			Confidence:       it.PriceConfidence,
			Summary: cardmodel.PricingSummary{
				FairValueCents: it.FairValueCents,
				Trend:          cardmodel.Trend(it.Trend),
				Rationale:      it.PriceRationale,
			},
		}
	}
	if it.AuthenticityScore > 0 {
		rec.Authenticity = &cardmodel.AuthenticityResult{
			Score:        it.AuthenticityScore,
			FakeDetected: it.FakeDetected,
			VerifiedByAI: it.AuthVerifiedByAI,
			Signals:      it.AuthSignals,
			Rationale:    it.AuthRationale,
		}
	}
	return rec, nil
}
