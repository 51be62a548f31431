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

package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/itchyny/gojq"
	"golang.org/x/oauth2/clientcredentials"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/internal/config"
	"github.com/jordigilh/cardvault/pkg/metrics"
)

// httpAdapter is a market Adapter backed by a JSON-over-HTTP API. Response
// bodies are heterogeneous across adapters, so comparables are located and
// decoded with adapter-specific jq expressions (SPEC_FULL.md §11 domain
// stack: "Flexible per-adapter JSON extraction").
type httpAdapter struct {
	name           string
	endpoint       string
	httpClient     *http.Client
	compsQuery     *gojq.Query
	priceQuery     *gojq.Query
	currencyQuery  *gojq.Query
	conditionQuery *gojq.Query
}

// NewHTTPAdapter builds an Adapter from a MarketAdapterConfig. When
// TokenURL/ClientID are set, requests carry an OAuth2 client-credentials
// bearer token (SPEC_FULL.md §11: "OAuth2 client credentials to market
// adapters"); otherwise the adapter is called unauthenticated.
func NewHTTPAdapter(cfg config.MarketAdapterConfig) (Adapter, error) {
	compsQuery, err := gojq.Parse(orDefault(cfg.CompsPath, ".comparables[]"))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: parse comps_path: %w", cfg.Name, err)
	}
	priceQuery, err := gojq.Parse(orDefault(cfg.PriceCentsPath, ".priceCents"))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: parse price_cents_path: %w", cfg.Name, err)
	}
	currencyQuery, err := gojq.Parse(orDefault(cfg.CurrencyPath, ".currency"))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: parse currency_path: %w", cfg.Name, err)
	}
	conditionQuery, err := gojq.Parse(orDefault(cfg.ConditionPath, ".condition"))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: parse condition_path: %w", cfg.Name, err)
	}

	httpClient := http.DefaultClient
	if cfg.TokenURL != "" && cfg.ClientID != "" {
		ccCfg := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = ccCfg.Client(context.Background())
	}

	return &httpAdapter{
		name:           cfg.Name,
		endpoint:       cfg.Endpoint,
		httpClient:     httpClient,
		compsQuery:     compsQuery,
		priceQuery:     priceQuery,
		currencyQuery:  currencyQuery,
		conditionQuery: conditionQuery,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (a *httpAdapter) Name() string { return a.name }

func (a *httpAdapter) FetchComparables(ctx context.Context, query Query) ([]Comparable, error) {
	body, err := json.Marshal(map[string]string{
		"name":      query.Name,
		"set":       query.Set,
		"number":    query.CollectorNumber,
		"rarity":    query.Rarity,
		"condition": query.ConditionEstimate,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "marshal adapter query")
	}

	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "parse adapter endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "build adapter request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		metrics.PricingAdapterCallsTotal.WithLabelValues(a.name, "error").Inc()
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeNetwork, fmt.Sprintf("adapter %s request failed", a.name))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.PricingAdapterCallsTotal.WithLabelValues(a.name, "throttled").Inc()
		return nil, appErrors.New(appErrors.ErrorTypeRateLimit, fmt.Sprintf("adapter %s throttled", a.name))
	}
	if resp.StatusCode >= 500 {
		metrics.PricingAdapterCallsTotal.WithLabelValues(a.name, "error").Inc()
		return nil, appErrors.New(appErrors.ErrorTypeTransient, fmt.Sprintf("adapter %s returned %d", a.name, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		// Client errors are not transient: treat as a hard, non-retried empty
		// contribution rather than surfacing an error upstream (spec.md §4.4
		// step 2: "hard failure yields an empty contribution").
		metrics.PricingAdapterCallsTotal.WithLabelValues(a.name, "empty").Inc()
		return nil, nil
	}

	var decoded interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.PricingAdapterCallsTotal.WithLabelValues(a.name, "empty").Inc()
		return nil, nil
	}

	metrics.PricingAdapterCallsTotal.WithLabelValues(a.name, "success").Inc()
	return a.extractComparables(decoded), nil
}

func (a *httpAdapter) extractComparables(decoded interface{}) []Comparable {
	var comparables []Comparable
	iter := a.compsQuery.Run(decoded)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			_ = err
			continue
		}
		comp := Comparable{Source: a.name}
		if price, ok := runScalar(a.priceQuery, v); ok {
			comp.PriceCents = toInt64(price)
		} else {
			continue
		}
		if currency, ok := runScalar(a.currencyQuery, v); ok {
			comp.Currency, _ = currency.(string)
		}
		if condition, ok := runScalar(a.conditionQuery, v); ok {
			comp.Condition, _ = condition.(string)
		}
		comparables = append(comparables, comp)
	}
	return comparables
}

func runScalar(q *gojq.Query, input interface{}) (interface{}, bool) {
	iter := q.Run(input)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := v.(error); isErr {
		return nil, false
	}
	return v, true
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
