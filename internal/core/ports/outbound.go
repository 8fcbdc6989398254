package ports

import (
	"context"
	"time"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

// PassageStore runs filtered lexical and nearest-neighbor queries over policy chunks.
// Lexical scores are higher-is-better; vector distances are lower-is-better.
type PassageStore interface {
	SearchLexical(ctx context.Context, queryText string, limit int, filter domain.FilterSet) ([]domain.Candidate, error)
	SearchVector(ctx context.Context, queryVector []float32, limit int, filter domain.FilterSet) ([]domain.Candidate, error)
}

// Embedder builds the query vector passed to nearest-neighbor search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CrossEncoder scores (query, passage) pairs; one score per passage, higher is better.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// SearchEventPublisher emits audit events for routed questions.
type SearchEventPublisher interface {
	PublishSearchEvent(ctx context.Context, event domain.SearchEvent) error
}

// SearchEventSubscriber consumes audit events until ctx is done.
type SearchEventSubscriber interface {
	SubscribeSearchEvents(ctx context.Context, handler func(context.Context, domain.SearchEvent) error) error
}

// SearchMetrics records pipeline outcomes. Implementations must be safe for concurrent use.
type SearchMetrics interface {
	ObserveRoute(strategy domain.Strategy)
	ObserveRerankFallback()
	ObserveFanoutFailure()
	ObserveSearch(strategy domain.Strategy, results int, duration time.Duration)
}
