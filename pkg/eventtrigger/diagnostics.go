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

package eventtrigger

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-faster/jx"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

//go:embed openapi.yaml
var openapiDoc []byte

// diagnosticsEnvelope wraps the OpenAPI document as a jx.Raw passthrough, the
// same raw-JSON escape hatch ogen-generated clients use for additionalProperties
// payloads elsewhere in this pipeline's ecosystem, rather than encoding/json's
// RawMessage.
type diagnosticsEnvelope struct {
	OpenAPI jx.Raw `json:"openapi"`
}

// diagnostics re-serves the Event Trigger's own OpenAPI description,
// validated once at construction so a malformed document fails fast at
// startup rather than on the first /diagnostics/openapi.json request.
type diagnostics struct {
	body []byte
}

func newDiagnostics() (*diagnostics, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDoc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "parsing embedded openapi document")
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "validating embedded openapi document")
	}

	raw, err := doc.MarshalJSON()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "marshaling openapi document")
	}

	body, err := json.Marshal(diagnosticsEnvelope{OpenAPI: jx.Raw(raw)})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "wrapping openapi document")
	}
	return &diagnostics{body: body}, nil
}

func (d *diagnostics) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(d.body)
}
