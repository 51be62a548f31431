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

package reasoning

import (
	"encoding/json"

	"github.com/getkin/kin-openapi/openapi3"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

// fieldSchema is the {value, confidence, rationale} shape shared by every
// scalar CardMetadata field (spec.md §4.3 step 1's fixed output schema).
func fieldSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("value", openapi3.NewStringSchema().WithNullable()).
		WithProperty("confidence", openapi3.NewFloat64Schema().WithMin(0).WithMax(1)).
		WithProperty("rationale", openapi3.NewStringSchema())
}

// envelopeSchema is the complete CardMetadata wire envelope, built once at
// package init and reused for every response (no per-call allocation of the
// schema tree).
var envelopeSchema = buildEnvelopeSchema()

func buildEnvelopeSchema() *openapi3.Schema {
	schema := openapi3.NewObjectSchema().
		WithProperty("name", fieldSchema()).
		WithProperty("rarity", fieldSchema()).
		WithProperty("set", fieldSchema()).
		WithProperty("setSymbol", fieldSchema()).
		WithProperty("collectorNumber", fieldSchema()).
		WithProperty("copyrightRun", fieldSchema()).
		WithProperty("illustrator", fieldSchema()).
		WithProperty("overallConfidence", openapi3.NewFloat64Schema().WithMin(0).WithMax(1)).
		WithProperty("reasoningTrail", openapi3.NewStringSchema()).
		WithProperty("verifiedByAI", openapi3.NewBoolSchema())
	schema.Required = []string{
		"name", "rarity", "set", "setSymbol", "collectorNumber",
		"copyrightRun", "illustrator", "overallConfidence", "reasoningTrail", "verifiedByAI",
	}
	return schema
}

// validateEnvelope parses raw JSON and checks it against the fixed output
// schema before any typed decode is attempted (spec.md §4.3 step 5). A
// schema failure is non-retryable and routes the caller to the fallback.
func validateEnvelope(raw string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeSchemaViolation, "reasoning response is not a JSON object")
	}
	if err := envelopeSchema.VisitJSON(doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeSchemaViolation, "reasoning response failed schema validation")
	}
	return doc, nil
}
