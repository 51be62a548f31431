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

package llm

import (
	"encoding/json"

	"github.com/go-faster/jx"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

// Envelope captures a validated JSON object's top-level fields as raw JSON
// (spec.md §4.3 step 4/§4.4 step 6's fixed response envelopes shared by the
// OCR Reasoning Agent and Pricing summary). Each field is decoded lazily by
// the caller via Field, rather than this package walking the whole document
// into a generic interface{} tree up front.
type Envelope map[string]jx.Raw

// DecodeEnvelope parses raw — already validated and _thinking-stripped by
// ExtractJSON — into an Envelope.
func DecodeEnvelope(raw string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeSchemaViolation, "decoding response envelope")
	}
	return env, nil
}

// Field decodes the named key into out. A missing key leaves out at its
// zero value rather than erroring, since optional envelope fields are
// common across the reasoning and pricing schemas.
func (e Envelope) Field(key string, out interface{}) error {
	raw, ok := e[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeSchemaViolation, "decoding envelope field "+key)
	}
	return nil
}
