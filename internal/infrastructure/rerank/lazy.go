package rerank

import (
	"context"
	"sync"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/core/ports"
)

// Lazy builds the underlying scorer on first use and shares it process-wide.
// A construction failure is remembered and surfaces as ErrRerankUnavailable.
type Lazy struct {
	build func() (ports.CrossEncoder, error)

	once   sync.Once
	scorer ports.CrossEncoder
	err    error
}

func NewLazy(build func() (ports.CrossEncoder, error)) *Lazy {
	return &Lazy{build: build}
}

func (l *Lazy) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	scorer, err := l.get()
	if err != nil {
		return nil, err
	}
	return scorer.Score(ctx, query, passages)
}

func (l *Lazy) get() (ports.CrossEncoder, error) {
	l.once.Do(func() {
		if l.build == nil {
			l.err = domain.WrapError(domain.ErrRerankUnavailable, "build reranker", domain.ErrConfiguration)
			return
		}
		l.scorer, l.err = l.build()
		if l.err != nil {
			l.err = domain.WrapError(domain.ErrRerankUnavailable, "build reranker", l.err)
		}
	})
	return l.scorer, l.err
}
