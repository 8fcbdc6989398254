package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/core/ports"
)

const (
	defaultRerankMaxChars = 1024
	rerankFallbackWarning = "Reranker unavailable; results are in retrieval order."
)

type rankOutcome struct {
	results []domain.RankedResult
	applied bool
	warning string
}

// passageReranker orders merged candidates with a cross-encoder and degrades to
// composite order when the scorer cannot be used.
type passageReranker struct {
	scorer   ports.CrossEncoder
	maxChars int
	metrics  ports.SearchMetrics
}

// rank expects candidates already in composite order.
func (r *passageReranker) rank(ctx context.Context, query string, candidates []domain.Candidate, finalK int) (rankOutcome, error) {
	if len(candidates) == 0 {
		return rankOutcome{results: []domain.RankedResult{}}, nil
	}
	if r.scorer == nil {
		return rankOutcome{results: toRanked(trimCandidates(clearRerankScores(candidates), finalK))}, nil
	}

	maxChars := r.maxChars
	if maxChars <= 0 {
		maxChars = defaultRerankMaxChars
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = truncateRunes(c.Content, maxChars)
	}

	// A scorer timeout while the caller is still waiting takes the fallback path.
	scores, err := r.scorer.Score(ctx, query, texts)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return rankOutcome{}, ctxErr
	}
	if err == nil {
		err = validateScores(scores, len(candidates))
	}
	if err != nil {
		slog.Warn("rerank_fallback", "candidates", len(candidates), "error", err.Error())
		if r.metrics != nil {
			r.metrics.ObserveRerankFallback()
		}
		return rankOutcome{
			results: toRanked(trimCandidates(clearRerankScores(candidates), finalK)),
			warning: rerankFallbackWarning,
		}, nil
	}

	scored := make([]domain.Candidate, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		scored[i].RerankScore = float64Ptr(scores[i])
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].RerankScore > *scored[j].RerankScore
	})

	return rankOutcome{results: toRanked(trimCandidates(scored, finalK)), applied: true}, nil
}

func validateScores(scores []float64, want int) error {
	if len(scores) != want {
		return domain.WrapError(domain.ErrRerankUnavailable, "validate scores", fmt.Errorf("expected %d scores, got %d", want, len(scores)))
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return domain.WrapError(domain.ErrRerankUnavailable, "validate scores", fmt.Errorf("score %d is not finite", i))
		}
	}
	return nil
}

func clearRerankScores(candidates []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].RerankScore = nil
	}
	return out
}

func toRanked(candidates []domain.Candidate) []domain.RankedResult {
	out := make([]domain.RankedResult, 0, len(candidates))
	for i, c := range candidates {
		out = append(out, domain.RankedResult{Candidate: c, Rank: i + 1})
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
