package rerank

import (
	"context"
	"strings"
	"unicode"
)

// OverlapScorer is a dependency-free scorer for local runs: the share of query
// tokens found in the passage, plus a small bonus for matching bigrams.
type OverlapScorer struct{}

func NewOverlapScorer() *OverlapScorer {
	return &OverlapScorer{}
}

func (s *OverlapScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTokens := splitAlphaNumLower(query)
	querySet := toTokenSet(queryTokens)
	queryBigrams := toBigramSet(queryTokens)

	scores := make([]float64, len(passages))
	for i, passage := range passages {
		tokens := splitAlphaNumLower(passage)
		overlap := tokenOverlap(querySet, toTokenSet(tokens))
		bigrams := tokenOverlap(queryBigrams, toBigramSet(tokens))
		scores[i] = 0.8*overlap + 0.2*bigrams
	}
	return scores, nil
}

func tokenOverlap(query, passage map[string]struct{}) float64 {
	if len(query) == 0 || len(passage) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := passage[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func toBigramSet(tokens []string) map[string]struct{} {
	if len(tokens) < 2 {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(tokens)-1)
	for i := 1; i < len(tokens); i++ {
		out[tokens[i-1]+" "+tokens[i]] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
