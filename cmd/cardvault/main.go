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

// Command cardvault is the pipeline's single binary: it wires every stage
// behind the Event Trigger's HTTP ingress and serves until terminated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/aggregator"
	"github.com/jordigilh/cardvault/pkg/authenticity"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/errorpersistor"
	"github.com/jordigilh/cardvault/pkg/eventbus"
	"github.com/jordigilh/cardvault/pkg/eventtrigger"
	"github.com/jordigilh/cardvault/pkg/idempotency"
	"github.com/jordigilh/cardvault/pkg/llm"
	"github.com/jordigilh/cardvault/pkg/metrics"
	"github.com/jordigilh/cardvault/pkg/objectstore"
	"github.com/jordigilh/cardvault/pkg/orchestrator"
	"github.com/jordigilh/cardvault/pkg/pricing"
	"github.com/jordigilh/cardvault/pkg/ratelimit"
	"github.com/jordigilh/cardvault/pkg/reasoning"
	"github.com/jordigilh/cardvault/pkg/store"
	"github.com/jordigilh/cardvault/pkg/vision"
)

func main() {
	configPath := flag.String("config", "/etc/cardvault/config.yaml", "path to the pipeline configuration file")
	flag.Parse()

	logger := newLogger()

	if err := run(*configPath, logger); err != nil {
		logger.WithError(err).Fatal("cardvault exited with an error")
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}

func run(configPath string, logger *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopWatch, err := config.Watch(configPath, func(reloaded *config.Config, reloadErr error) {
		if reloadErr != nil {
			return
		}
		logger.Info("configuration file changed on disk; restart cardvault to apply it")
	})
	if err != nil {
		logger.WithError(err).Warn("config hot-reload watcher unavailable")
	} else {
		defer stopWatch()
	}

	trigger, err := wire(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring pipeline components: %w", err)
	}

	metricsServer := metrics.NewServer(fmt.Sprintf("%d", cfg.Server.MetricsPort), logger)
	metricsServer.StartAsync()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Stop(shutdownCtx)
	}()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      trigger.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("cardvault listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// wire builds every pipeline stage over cfg and returns the Event Trigger
// that fronts them, following spec.md §4.1's dependency graph: Object
// Store Reader -> Store Gateway -> {Vision Feature Extractor, Pricing
// Agent, Authenticity Agent, Aggregator} -> Orchestrator -> Event Trigger.
func wire(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*eventtrigger.Trigger, error) {
	objects, err := objectstore.NewClient(ctx, cfg.ObjectStore, cfg.Upload)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	bus, err := eventbus.New(ctx, cfg.EventBus)
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}

	storeGateway, err := store.NewGateway(ctx, cfg.Store, objects, bus)
	if err != nil {
		return nil, fmt.Errorf("store gateway: %w", err)
	}

	ledger, err := idempotency.NewLedger(ctx, cfg.Idempotency)
	if err != nil {
		return nil, fmt.Errorf("idempotency ledger: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	moderator, err := vision.NewModerator(ctx)
	if err != nil {
		return nil, fmt.Errorf("vision moderator: %w", err)
	}
	detector := vision.NewLLMDetector(llmClient)
	extractor := vision.NewExtractor(objects, detector, moderator, logger)

	reasoningAgent := reasoning.NewAgent(llmClient, logger)

	adapters, err := marketAdapters(cfg)
	if err != nil {
		return nil, fmt.Errorf("market adapters: %w", err)
	}
	pricingAgent := pricing.NewAgent(adapters, llmClient, logger)

	referenceTable := authenticity.NewReferenceTable(nil)
	authenticityAgent := authenticity.NewAgent(objects, referenceTable, cfg.AuthWeights, llmClient, logger)

	agg := aggregator.New(storeGateway, bus, logger)

	persistorQueue, err := errorpersistor.NewSQSQueuePublisher(ctx, cfg.DeadLetter)
	if err != nil {
		return nil, fmt.Errorf("dead-letter queue: %w", err)
	}
	var notifier errorpersistor.Notifier
	if cfg.DeadLetter.SlackToken != "" {
		notifier, err = errorpersistor.NewSlackNotifier(cfg.DeadLetter)
		if err != nil {
			return nil, fmt.Errorf("slack notifier: %w", err)
		}
	}
	persistor := errorpersistor.New(storeGateway, persistorQueue, notifier, logger)

	orch := orchestrator.New(
		extractor,
		reasoningAgent,
		pricingAgent,
		authenticityAgent,
		agg,
		persistor,
		cfg.StagePolicies,
		cfg.StageDeadlines,
		cfg.ExecutionDeadline,
		logger,
	)

	limiter := ratelimit.New(cfg.Redis, cfg.RateLimit)

	return eventtrigger.New(ledger, &orchestratorExecutor{orch: orch}, limiter, logger), nil
}

// marketAdapters builds one pkg/pricing.Adapter per entry in
// cfg.AdaptersEnabled, in the order listed, looking each up by name in
// cfg.Adapters (spec.md §4.4 step 2).
func marketAdapters(cfg *config.Config) ([]pricing.Adapter, error) {
	byName := make(map[string]config.MarketAdapterConfig, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		byName[a.Name] = a
	}
	adapters := make([]pricing.Adapter, 0, len(cfg.AdaptersEnabled))
	for _, name := range cfg.AdaptersEnabled {
		adapterCfg, ok := byName[name]
		if !ok {
			return nil, appErrors.Newf(appErrors.ErrorTypeValidation, "adapter %q enabled but not configured", name)
		}
		adapter, err := pricing.NewHTTPAdapter(adapterCfg)
		if err != nil {
			return nil, fmt.Errorf("adapter %q: %w", name, err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

// orchestratorExecutor adapts *pkg/orchestrator.Orchestrator to
// pkg/eventtrigger.Executor: the two packages define structurally
// identical but distinctly named input types so neither package depends on
// the other's concrete type.
type orchestratorExecutor struct {
	orch *orchestrator.Orchestrator
}

func (e *orchestratorExecutor) Execute(ctx context.Context, in eventtrigger.ExecutionInput) (cardmodel.CardRecord, error) {
	return e.orch.Execute(ctx, orchestrator.Input{
		RequestID: in.RequestID,
		OwnerID:   in.OwnerID,
		CardID:    in.CardID,
		FrontKey:  in.FrontKey,
		BackKey:   in.BackKey,
		CardHints: in.CardHints,
	})
}
