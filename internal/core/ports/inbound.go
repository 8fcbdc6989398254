package ports

import (
	"context"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

// QueryRouter is the inbound contract for the pure routing decision.
type QueryRouter interface {
	Route(question string, explicit domain.FilterSet) domain.RoutingDecision
}

// PolicySearchService is the inbound contract for routed hybrid retrieval.
type PolicySearchService interface {
	QueryRouter
	RouteAndSearch(ctx context.Context, req domain.SearchRequest) (*domain.PipelineResult, error)
}

// StoreHealthChecker reports passage store readiness.
type StoreHealthChecker interface {
	Ping(ctx context.Context) error
}
