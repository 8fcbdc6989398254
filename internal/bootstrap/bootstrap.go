package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/policy-copilot/internal/config"
	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/core/ports"
	"github.com/kirillkom/policy-copilot/internal/core/usecase"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/catalog"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/queue/nats"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/rerank"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/resilience"
	"github.com/kirillkom/policy-copilot/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Search  ports.PolicySearchService
	Store   ports.StoreHealthChecker
	Events  *nats.SearchEventBus
	Metrics *metrics.HTTPServerMetrics

	closeFn func()
}

// New wires the search pipeline for the serving processes (api, mcp).
// An unreachable store or event bus is logged; the process still starts and /readyz reports it.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	policy := cfg.Resilience()
	if adjusted := policy.Adjustments(); len(adjusted) > 0 {
		slog.Warn("resilience_config_adjusted", "fields", adjusted)
	}
	httpMetrics := metrics.NewHTTPServerMetrics(service)
	executor := resilience.NewExecutor(policy)
	executor.ObserveStateChanges(httpMetrics.ObserveBreakerState)
	rerankExecutor := resilience.NewExecutor(policy.WithRetryAttempts(1))
	rerankExecutor.ObserveStateChanges(httpMetrics.ObserveBreakerState)

	entities, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	router := usecase.NewQueryRouter(entities)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store, err := postgres.NewPassageStore(db, postgres.PassageStoreConfig{
		Table:            cfg.PassageTable,
		TextSearchConfig: cfg.PassageTextSearchConfig,
	}, executor)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init passage store: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		slog.Warn("passage_store_unreachable", "error", err.Error())
	}
	cancel()

	embedder := ollama.NewEmbedder(ollama.New(
		cfg.OllamaURL,
		cfg.OllamaEmbedModel,
		time.Duration(cfg.OllamaTimeoutSeconds)*time.Second,
		executor,
	))

	scorer, err := newScorer(cfg, rerankExecutor)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	pool, err := ants.NewPool(max(cfg.RAGFanoutConcurrency, 1))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init fan-out pool: %w", err)
	}

	options := []usecase.SearchOption{
		usecase.WithFanoutPool(pool),
		usecase.WithSearchMetrics(httpMetrics),
	}

	var events *nats.SearchEventBus
	if cfg.NATSEnabled {
		events, err = nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ClientName:         service,
			ResilienceExecutor: executor,
		})
		if err != nil {
			slog.Warn("search_event_bus_unavailable", "error", err.Error())
			events = nil
		} else {
			options = append(options, usecase.WithSearchEventPublisher(events))
		}
	}

	search := usecase.NewPolicySearchUseCase(router, store, embedder, scorer, usecase.SearchOptions{
		CandidateBudget:    cfg.RAGCandidateBudget,
		FinalK:             cfg.RAGFinalK,
		FanoutMinPerEntity: cfg.RAGFanoutMinPerEntity,
		RerankMaxChars:     cfg.RerankMaxChars,
	}, options...)

	slog.Info("search_pipeline_ready",
		"entities", len(entities.Entities),
		"rerank_provider", cfg.RerankProvider,
		"fanout_concurrency", pool.Cap(),
		"events_enabled", events != nil,
	)

	return &App{
		Config:  cfg,
		Search:  search,
		Store:   store,
		Events:  events,
		Metrics: httpMetrics,
		closeFn: func() {
			if events != nil {
				events.Close()
			}
			pool.Release()
			_ = db.Close()
		},
	}, nil
}

// NewSearchAuditWorker connects only the event bus for the audit consumer.
func NewSearchAuditWorker(cfg config.Config, service string) (*App, error) {
	executor := resilience.NewExecutor(cfg.Resilience())
	events, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ClientName:         service,
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init search event bus: %w", err)
	}
	return &App{
		Config:  cfg,
		Events:  events,
		closeFn: events.Close,
	}, nil
}

// newScorer returns nil when reranking is disabled; the pipeline then keeps composite order.
func newScorer(cfg config.Config, executor *resilience.Executor) (ports.CrossEncoder, error) {
	switch provider := strings.ToLower(strings.TrimSpace(cfg.RerankProvider)); provider {
	case "", "overlap":
		return rerank.NewOverlapScorer(), nil
	case "none", "off":
		return nil, nil
	case "http":
		timeout := time.Duration(cfg.RerankTimeoutSeconds) * time.Second
		return rerank.NewLazy(func() (ports.CrossEncoder, error) {
			encoder, err := rerank.NewHTTPCrossEncoder(cfg.RerankURL, cfg.RerankModel, timeout, executor)
			if err != nil {
				return nil, err
			}
			return encoder, nil
		}), nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "init reranker", fmt.Errorf("unknown rerank provider %q", provider))
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
