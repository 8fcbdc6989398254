package bootstrap

import (
	"context"
	"testing"

	"github.com/kirillkom/policy-copilot/internal/config"
	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/rerank"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/resilience"
)

func TestNewScorerSelectsProvider(t *testing.T) {
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	scorer, err := newScorer(config.Config{RerankProvider: "overlap"}, executor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := scorer.(*rerank.OverlapScorer); !ok {
		t.Fatalf("expected overlap scorer, got %T", scorer)
	}

	scorer, err = newScorer(config.Config{RerankProvider: "HTTP", RerankURL: "http://localhost:8081"}, executor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := scorer.(*rerank.Lazy); !ok {
		t.Fatalf("expected lazy http scorer, got %T", scorer)
	}

	scorer, err = newScorer(config.Config{RerankProvider: "none"}, executor)
	if err != nil || scorer != nil {
		t.Fatalf("expected disabled scorer, got %T %v", scorer, err)
	}
}

func TestNewScorerRejectsUnknownProvider(t *testing.T) {
	_, err := newScorer(config.Config{RerankProvider: "gpu"}, nil)
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewFailsOnInvalidCatalog(t *testing.T) {
	_, err := New(context.Background(), config.Config{CatalogPath: t.TempDir() + "/missing.yaml"}, "test")
	if err == nil {
		t.Fatalf("expected catalog load error")
	}
}
