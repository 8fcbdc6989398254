package usecase

import (
	"sort"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

const missingDistanceSentinel = 999.0

// mergeCandidates dedupes both lists by (document, chunk) and unions their scores.
// The merged set does not depend on input order; the result is composite-sorted.
func mergeCandidates(lexical, vector []domain.Candidate) []domain.Candidate {
	acc := make(map[domain.CandidateKey]*domain.Candidate, len(lexical)+len(vector))
	order := make([]domain.CandidateKey, 0, len(lexical)+len(vector))

	upsert := func(c domain.Candidate) *domain.Candidate {
		key := c.Key()
		current, ok := acc[key]
		if !ok {
			merged := domain.Candidate{Passage: c.Passage}
			acc[key] = &merged
			order = append(order, key)
			return &merged
		}
		current.Passage = preferRicherPassage(current.Passage, c.Passage)
		return current
	}

	for _, c := range lexical {
		merged := upsert(c)
		if c.LexicalScore != nil && (merged.LexicalScore == nil || *c.LexicalScore > *merged.LexicalScore) {
			merged.LexicalScore = float64Ptr(*c.LexicalScore)
		}
	}
	for _, c := range vector {
		merged := upsert(c)
		if c.VectorDistance != nil && (merged.VectorDistance == nil || *c.VectorDistance < *merged.VectorDistance) {
			merged.VectorDistance = float64Ptr(*c.VectorDistance)
		}
	}

	out := make([]domain.Candidate, 0, len(acc))
	for _, key := range order {
		c := *acc[key]
		c.Provenance = provenanceOf(c)
		c.RerankScore = nil
		out = append(out, c)
	}
	sortComposite(out)
	return out
}

func provenanceOf(c domain.Candidate) domain.Provenance {
	switch {
	case c.LexicalScore != nil && c.VectorDistance != nil:
		return domain.ProvenanceBoth
	case c.VectorDistance != nil:
		return domain.ProvenanceVector
	default:
		return domain.ProvenanceLexical
	}
}

// sortComposite orders candidates found by both signals first, then by lower
// vector distance, then by higher lexical score.
func sortComposite(candidates []domain.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return compositeLess(candidates[i], candidates[j])
	})
}

func compositeLess(a, b domain.Candidate) bool {
	aBoth := a.Provenance == domain.ProvenanceBoth
	bBoth := b.Provenance == domain.ProvenanceBoth
	if aBoth != bBoth {
		return aBoth
	}
	if da, db := distanceOrSentinel(a), distanceOrSentinel(b); da != db {
		return da < db
	}
	return lexicalOrZero(a) > lexicalOrZero(b)
}

func distanceOrSentinel(c domain.Candidate) float64 {
	if c.VectorDistance == nil {
		return missingDistanceSentinel
	}
	return *c.VectorDistance
}

func lexicalOrZero(c domain.Candidate) float64 {
	if c.LexicalScore == nil {
		return 0
	}
	return *c.LexicalScore
}

func trimCandidates(candidates []domain.Candidate, limit int) []domain.Candidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func preferRicherPassage(current, candidate domain.Passage) domain.Passage {
	if current.Content == "" && candidate.Content != "" {
		current.Content = candidate.Content
	}
	if current.Org == "" && candidate.Org != "" {
		current.Org = candidate.Org
	}
	if current.PolicyType == "" && candidate.PolicyType != "" {
		current.PolicyType = candidate.PolicyType
	}
	if current.Page == "" && candidate.Page != "" {
		current.Page = candidate.Page
	}
	return current
}

func float64Ptr(v float64) *float64 {
	return &v
}
