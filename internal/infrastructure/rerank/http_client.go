package rerank

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/httpjson"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/resilience"
)

// HTTPCrossEncoder calls a text-embeddings-inference style /rerank endpoint.
type HTTPCrossEncoder struct {
	transport httpjson.Client
	model     string
	executor  *resilience.Executor
}

func NewHTTPCrossEncoder(baseURL, model string, timeout time.Duration, executor *resilience.Executor) (*HTTPCrossEncoder, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "new rerank client", errors.New("rerank url is required"))
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCrossEncoder{
		transport: httpjson.Client{
			Service:    "rerank",
			BaseURL:    baseURL,
			HTTPClient: &http.Client{Timeout: timeout},
		},
		model:    strings.TrimSpace(model),
		executor: executor,
	}, nil
}

type rerankRequest struct {
	Model    string   `json:"model,omitempty"`
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

type rerankHit struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score returns one score per passage in input order.
func (c *HTTPCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return []float64{}, nil
	}

	payload := rerankRequest{Model: c.model, Query: query, Texts: passages, Truncate: true}
	var hits []rerankHit
	err := c.executor.Execute(ctx, "rerank.score", func(callCtx context.Context) error {
		hits = nil
		return c.transport.PostJSON(callCtx, "/rerank", payload, &hits, "score")
	}, httpjson.Classify)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrRerankUnavailable, "rerank score", httpjson.WrapTemporary("rerank score", err))
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, hit := range hits {
		if hit.Index < 0 || hit.Index >= len(passages) {
			return nil, domain.WrapError(domain.ErrRerankUnavailable, "rerank score", fmt.Errorf("index %d out of range", hit.Index))
		}
		if seen[hit.Index] {
			return nil, domain.WrapError(domain.ErrRerankUnavailable, "rerank score", fmt.Errorf("duplicate index %d", hit.Index))
		}
		seen[hit.Index] = true
		scores[hit.Index] = hit.Score
	}
	if len(hits) != len(passages) {
		return nil, domain.WrapError(domain.ErrRerankUnavailable, "rerank score", fmt.Errorf("expected %d scores, got %d", len(passages), len(hits)))
	}
	return scores, nil
}
