package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

func TestHTTPCrossEncoderMapsScoresToInputOrder(t *testing.T) {
	var got rerankRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`[{"index":2,"score":0.9},{"index":0,"score":0.4},{"index":1,"score":0.1}]`))
	}))
	defer server.Close()

	client, err := NewHTTPCrossEncoder(server.URL, "bge-reranker-base", time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPCrossEncoder() error = %v", err)
	}
	scores, err := client.Score(context.Background(), "hotel cap", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	want := []float64{0.4, 0.1, 0.9}
	for i := range want {
		if scores[i] != want[i] {
			t.Fatalf("expected scores %v, got %v", want, scores)
		}
	}
	if got.Query != "hotel cap" || len(got.Texts) != 3 || got.Model != "bge-reranker-base" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
}

func TestHTTPCrossEncoderRejectsIncompleteScores(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":0,"score":0.4}]`))
	}))
	defer server.Close()

	client, _ := NewHTTPCrossEncoder(server.URL, "", time.Second, nil)
	_, err := client.Score(context.Background(), "q", []string{"a", "b"})
	if !domain.IsKind(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected rerank unavailable, got %v", err)
	}
}

func TestHTTPCrossEncoderRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":5,"score":0.4}]`))
	}))
	defer server.Close()

	client, _ := NewHTTPCrossEncoder(server.URL, "", time.Second, nil)
	if _, err := client.Score(context.Background(), "q", []string{"a"}); !domain.IsKind(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected rerank unavailable, got %v", err)
	}
}

func TestHTTPCrossEncoderWrapsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewHTTPCrossEncoder(server.URL, "", time.Second, nil)
	_, err := client.Score(context.Background(), "q", []string{"a"})
	if !domain.IsKind(err, domain.ErrRerankUnavailable) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected unavailable and temporary kinds, got %v", err)
	}
}

func TestHTTPCrossEncoderKeepsContextErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client, _ := NewHTTPCrossEncoder(server.URL, "", time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Score(ctx, "q", []string{"a"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHTTPCrossEncoderClientTimeoutIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client, _ := NewHTTPCrossEncoder(server.URL, "m", 50*time.Millisecond, nil)
	_, err := client.Score(context.Background(), "q", []string{"a"})
	if !domain.IsKind(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected rerank unavailable for client timeout, got %v", err)
	}
}

func TestNewHTTPCrossEncoderRequiresURL(t *testing.T) {
	if _, err := NewHTTPCrossEncoder(" ", "", 0, nil); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
