package ollama

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

type Client struct {
	transport  httpjson.Client
	embedModel string
	executor   *resilience.Executor
}

func New(baseURL, embedModel string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		transport: httpjson.Client{
			Service:    "ollama",
			BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
			HTTPClient: &http.Client{Timeout: timeout},
		},
		embedModel: embedModel,
		executor:   executor,
	}
}

// Embedder turns a question into the query vector for nearest-neighbor search.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e == nil || e.client == nil || e.client.transport.BaseURL == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "ollama embed", errors.New("ollama url is not configured"))
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.executor.Execute(ctx, "ollama.embed", func(callCtx context.Context) error {
		return e.client.transport.PostJSON(callCtx, "/api/embed", request, &response, "embed")
	}, httpjson.Classify)
	if err != nil {
		return nil, httpjson.WrapTemporary("ollama embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d embeddings, got %d", len(texts), len(response.Embeddings))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}
