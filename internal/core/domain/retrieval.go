package domain

import (
	"fmt"
	"time"
)

type Provenance string

const (
	ProvenanceLexical Provenance = "lexical"
	ProvenanceVector  Provenance = "vector"
	ProvenanceBoth    Provenance = "both"
)

// Passage is a stored policy chunk as returned by the passage store.
type Passage struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Org        string `json:"org"`
	PolicyType string `json:"policy_type,omitempty"`
	Page       string `json:"page"`
	Content    string `json:"content"`
}

// Candidate is a passage with per-source scores, prior to final ranking.
type Candidate struct {
	Passage
	LexicalScore   *float64   `json:"lexical_score"`
	VectorDistance *float64   `json:"vector_distance"`
	Provenance     Provenance `json:"provenance"`
	RerankScore    *float64   `json:"rerank_score"`
}

// Key is the deduplication identity of a candidate.
func (c Candidate) Key() CandidateKey {
	return CandidateKey{DocumentID: c.DocumentID, ChunkIndex: c.ChunkIndex}
}

type CandidateKey struct {
	DocumentID string
	ChunkIndex int
}

func (k CandidateKey) String() string {
	return fmt.Sprintf("%s:%d", k.DocumentID, k.ChunkIndex)
}

type RankedResult struct {
	Candidate
	Rank int `json:"rank"`
}

type SearchRequest struct {
	RequestID       string
	Question        string
	Filters         FilterSet
	CandidateBudget int
	FinalK          int
	Debug           bool
}

type DebugInfo struct {
	CandidateCount int `json:"candidate_count"`
	LexicalCount   int `json:"lexical_count"`
	VectorCount    int `json:"vector_count"`
}

// EntityResults is one fan-out sub-list; an entity with no hits keeps an empty list.
type EntityResults struct {
	Org     string         `json:"org"`
	Results []RankedResult `json:"results"`
	Warning string         `json:"warning,omitempty"`
}

type PipelineResult struct {
	Decision      RoutingDecision `json:"decision"`
	Results       []RankedResult  `json:"results"`
	Groups        []EntityResults `json:"groups,omitempty"`
	Warning       string          `json:"warning,omitempty"`
	RerankApplied bool            `json:"rerank_applied"`
	Debug         *DebugInfo      `json:"debug,omitempty"`
}

// SearchEvent is the audit record published after every routed question.
type SearchEvent struct {
	RequestID     string    `json:"request_id,omitempty"`
	Question      string    `json:"question"`
	Strategy      Strategy  `json:"strategy"`
	Filters       FilterSet `json:"filters"`
	ResultCount   int       `json:"result_count"`
	RerankApplied bool      `json:"rerank_applied"`
	Warning       string    `json:"warning,omitempty"`
	DurationMS    float64   `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}
