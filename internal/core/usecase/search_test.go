package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

type passageStoreFake struct {
	mu            sync.Mutex
	lexicalLimits []int
	vectorLimits  []int
	filters       []domain.FilterSet
	lexicalByOrg  map[string][]domain.Candidate
	vectorByOrg   map[string][]domain.Candidate
	errByOrg      map[string]error
	lexicalErr    error
	vectorDelay   time.Duration
	vectorDone    atomic.Bool
}

func (f *passageStoreFake) SearchLexical(_ context.Context, _ string, limit int, filter domain.FilterSet) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.lexicalLimits = append(f.lexicalLimits, limit)
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	if err := f.errByOrg[filter.Org]; err != nil {
		return nil, err
	}
	return f.lexicalByOrg[filter.Org], nil
}

func (f *passageStoreFake) SearchVector(ctx context.Context, _ []float32, limit int, filter domain.FilterSet) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.vectorLimits = append(f.vectorLimits, limit)
	f.mu.Unlock()
	if f.vectorDelay > 0 {
		select {
		case <-time.After(f.vectorDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer f.vectorDone.Store(true)
	return f.vectorByOrg[filter.Org], nil
}

type searchEmbedderFake struct {
	calls atomic.Int32
	err   error
}

func (f *searchEmbedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type publisherFake struct {
	mu     sync.Mutex
	events []domain.SearchEvent
	err    error
}

func (f *publisherFake) PublishSearchEvent(_ context.Context, event domain.SearchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func orgHits(org string, n int) []domain.Candidate {
	out := make([]domain.Candidate, 0, n)
	for i := 0; i < n; i++ {
		c := lexicalHit(fmt.Sprintf("%s-doc", strings.ToLower(org)), i, 1.0-float64(i)*0.01)
		c.Org = org
		out = append(out, c)
	}
	return out
}

func newSearchUseCase(store *passageStoreFake, embedder *searchEmbedderFake, scorer *crossEncoderFake, options ...SearchOption) *PolicySearchUseCase {
	uc := NewPolicySearchUseCase(NewQueryRouter(domain.DefaultCatalog()), store, embedder, nil, SearchOptions{}, options...)
	if scorer != nil {
		uc.reranker.scorer = scorer
	}
	return uc
}

func TestRouteAndSearchRejectsBlankQuestion(t *testing.T) {
	uc := newSearchUseCase(&passageStoreFake{}, &searchEmbedderFake{}, nil)

	_, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "   "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestRouteAndSearchSkipsRetrievalForNonRetrievingStrategies(t *testing.T) {
	store := &passageStoreFake{}
	embedder := &searchEmbedderFake{}
	uc := newSearchUseCase(store, embedder, nil)

	for _, question := range []string{"What is my expense status for report 123?", "Is business class allowed?"} {
		res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: question})
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", question, err)
		}
		if res.Decision.Strategy.Retrieves() {
			t.Fatalf("expected non-retrieving strategy for %q, got %s", question, res.Decision.Strategy)
		}
		if len(res.Results) != 0 || res.Warning != "" {
			t.Fatalf("expected empty results without warning for %q, got %+v", question, res)
		}
	}
	if len(store.lexicalLimits) != 0 || embedder.calls.Load() != 0 {
		t.Fatalf("expected no store or embedder calls, got lexical=%d embed=%d", len(store.lexicalLimits), embedder.calls.Load())
	}
}

func TestRouteAndSearchFilteredUsesDefaults(t *testing.T) {
	store := &passageStoreFake{
		lexicalByOrg: map[string][]domain.Candidate{"Stanford": orgHits("Stanford", 8)},
		vectorByOrg:  map[string][]domain.Candidate{"Stanford": orgHits("Stanford", 2)},
	}
	scorer := &crossEncoderFake{scoreFn: func(_ string, passages []string) ([]float64, error) {
		out := make([]float64, len(passages))
		for i := range passages {
			out[i] = float64(len(passages) - i)
		}
		return out, nil
	}}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, scorer)

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{
		Question: "For Stanford, is business class allowed?",
		Debug:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision.Strategy != domain.StrategyFilteredRetrieval {
		t.Fatalf("expected filtered retrieval, got %s", res.Decision.Strategy)
	}
	if store.filters[0].Org != "Stanford" {
		t.Fatalf("expected org filter Stanford, got %+v", store.filters[0])
	}
	if store.lexicalLimits[0] != defaultCandidateBudget || store.vectorLimits[0] != defaultCandidateBudget {
		t.Fatalf("expected default candidate budget, got %v %v", store.lexicalLimits, store.vectorLimits)
	}
	if len(res.Results) != defaultFinalK {
		t.Fatalf("expected %d results, got %d", defaultFinalK, len(res.Results))
	}
	if !res.RerankApplied {
		t.Fatalf("expected rerank applied")
	}
	if res.Debug == nil || res.Debug.LexicalCount != 8 || res.Debug.VectorCount != 2 || res.Debug.CandidateCount != 8 {
		t.Fatalf("unexpected debug info: %+v", res.Debug)
	}
	if res.Results[0].Provenance != domain.ProvenanceBoth {
		t.Fatalf("expected top result found by both signals, got %s", res.Results[0].Provenance)
	}
}

func TestRouteAndSearchNoResultsWarning(t *testing.T) {
	uc := newSearchUseCase(&passageStoreFake{}, &searchEmbedderFake{}, nil)

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{
		Question: "lodging rules",
		Filters:  domain.FilterSet{Org: "Yale"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(res.Results))
	}
	if res.Warning != noResultsWarning {
		t.Fatalf("expected no-results warning, got %q", res.Warning)
	}
	if res.Debug != nil {
		t.Fatalf("expected no debug info unless requested")
	}
}

func TestRouteAndSearchRerankFallbackIsNotAnError(t *testing.T) {
	store := &passageStoreFake{lexicalByOrg: map[string][]domain.Candidate{"Yale": orgHits("Yale", 3)}}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, &crossEncoderFake{err: errors.New("scorer offline")})

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "hotel", Filters: domain.FilterSet{Org: "Yale"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RerankApplied || res.Warning != rerankFallbackWarning {
		t.Fatalf("expected fallback warning, got applied=%v warning=%q", res.RerankApplied, res.Warning)
	}
	if len(res.Results) != 3 || res.Results[0].RerankScore != nil {
		t.Fatalf("expected composite ordered results without rerank scores")
	}
}

func TestRouteAndSearchStoreFailureIsRetrievalError(t *testing.T) {
	store := &passageStoreFake{lexicalErr: errors.New("connection reset")}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, nil)

	_, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "hotel", Filters: domain.FilterSet{Org: "Yale"}})
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
	if !store.vectorDone.Load() {
		t.Fatalf("expected vector query to complete before returning")
	}
}

func TestRouteAndSearchEmbedFailureIsRetrievalError(t *testing.T) {
	uc := newSearchUseCase(&passageStoreFake{}, &searchEmbedderFake{err: errors.New("ollama down")}, nil)

	_, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "hotel", Filters: domain.FilterSet{Org: "Yale"}})
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
}

func TestRouteAndSearchMissingStoreIsConfigurationError(t *testing.T) {
	uc := NewPolicySearchUseCase(NewQueryRouter(domain.DefaultCatalog()), nil, &searchEmbedderFake{}, nil, SearchOptions{})

	_, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "hotel", Filters: domain.FilterSet{Org: "Yale"}})
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRouteAndSearchCancelled(t *testing.T) {
	store := &passageStoreFake{vectorDelay: time.Second}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := uc.RouteAndSearch(ctx, domain.SearchRequest{Question: "hotel", Filters: domain.FilterSet{Org: "Yale"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRouteAndSearchMultiEntityFanOut(t *testing.T) {
	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Release()

	store := &passageStoreFake{
		lexicalByOrg: map[string][]domain.Candidate{
			"ASU":  orgHits("ASU", 6),
			"Yale": orgHits("Yale", 6),
		},
	}
	embedder := &searchEmbedderFake{}
	metrics := &metricsFake{}
	uc := newSearchUseCase(store, embedder, nil, WithFanoutPool(pool), WithSearchMetrics(metrics))

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{
		Question:        "Compare ASU vs Yale meal per diem",
		CandidateBudget: 10,
		Debug:           true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision.Strategy != domain.StrategyMultiEntityRetrieval {
		t.Fatalf("expected multi-entity strategy, got %s", res.Decision.Strategy)
	}
	if embedder.calls.Load() != 1 {
		t.Fatalf("expected a single query embedding, got %d", embedder.calls.Load())
	}
	if len(res.Groups) != 2 || res.Groups[0].Org != "ASU" || res.Groups[1].Org != "Yale" {
		t.Fatalf("expected groups in entity order, got %+v", res.Groups)
	}
	for _, group := range res.Groups {
		if len(group.Results) != 3 {
			t.Fatalf("expected per-entity budget of 3 for %s, got %d", group.Org, len(group.Results))
		}
		for _, r := range group.Results {
			if r.Org != group.Org {
				t.Fatalf("expected only %s results in group, got %s", group.Org, r.Org)
			}
		}
	}
	if len(res.Results) != 6 {
		t.Fatalf("expected concatenated results, got %d", len(res.Results))
	}
	for _, limit := range store.lexicalLimits {
		if limit != defaultCandidateBudget {
			t.Fatalf("expected per-entity candidate budget raised to %d, got %d", defaultCandidateBudget, limit)
		}
	}
	for _, f := range store.filters {
		if len(f.Orgs) != 0 || f.Org == "" {
			t.Fatalf("expected narrowed single-org filter, got %+v", f)
		}
	}
	if !reflect.DeepEqual(res.Decision.Filters.Orgs, []string{"ASU", "Yale"}) {
		t.Fatalf("expected decision filters untouched by narrowing, got %+v", res.Decision.Filters)
	}
	if res.Debug == nil || res.Debug.LexicalCount != 12 {
		t.Fatalf("expected summed debug counts, got %+v", res.Debug)
	}
	if len(metrics.routes) != 1 || metrics.routes[0] != domain.StrategyMultiEntityRetrieval {
		t.Fatalf("expected route metric recorded, got %v", metrics.routes)
	}
}

func TestRouteAndSearchFanOutEntityFailureYieldsEmptyGroup(t *testing.T) {
	store := &passageStoreFake{
		lexicalByOrg: map[string][]domain.Candidate{"Yale": orgHits("Yale", 4)},
		errByOrg:     map[string]error{"ASU": errors.New("timeout")},
	}
	metrics := &metricsFake{}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, nil, WithSearchMetrics(metrics))

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "Compare ASU vs Yale lodging"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(res.Groups))
	}
	if len(res.Groups[0].Results) != 0 || res.Groups[0].Warning == "" {
		t.Fatalf("expected empty ASU group with warning, got %+v", res.Groups[0])
	}
	if len(res.Groups[1].Results) != 3 {
		t.Fatalf("expected Yale results, got %d", len(res.Groups[1].Results))
	}
	if !strings.Contains(res.Warning, "ASU") {
		t.Fatalf("expected aggregated warning to name ASU, got %q", res.Warning)
	}
	if metrics.fanoutFailures != 1 {
		t.Fatalf("expected fan-out failure metric, got %d", metrics.fanoutFailures)
	}
}

func TestRouteAndSearchFanOutEntityTimeoutKeepsSiblings(t *testing.T) {
	store := &passageStoreFake{
		lexicalByOrg: map[string][]domain.Candidate{"ASU": orgHits("ASU", 4)},
		errByOrg:     map[string]error{"Yale": fmt.Errorf("store call: %w", context.DeadlineExceeded)},
		vectorDelay:  20 * time.Millisecond,
	}
	metrics := &metricsFake{}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, nil, WithSearchMetrics(metrics))

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "Compare ASU vs Yale meal per diem"})
	if err != nil {
		t.Fatalf("expected degraded result, got error: %v", err)
	}
	if len(res.Groups) != 2 || res.Groups[0].Org != "ASU" || res.Groups[1].Org != "Yale" {
		t.Fatalf("expected groups in entity order, got %+v", res.Groups)
	}
	if len(res.Groups[0].Results) != 3 {
		t.Fatalf("expected ASU results kept, got %d", len(res.Groups[0].Results))
	}
	if len(res.Groups[1].Results) != 0 || res.Groups[1].Warning == "" {
		t.Fatalf("expected empty Yale group with warning, got %+v", res.Groups[1])
	}
	if metrics.fanoutFailures != 1 {
		t.Fatalf("expected one fan-out failure metric, got %d", metrics.fanoutFailures)
	}
}

func TestRouteAndSearchFanOutEmptyEntityIsNotAFailure(t *testing.T) {
	store := &passageStoreFake{
		lexicalByOrg: map[string][]domain.Candidate{"ASU": orgHits("ASU", 4)},
	}
	metrics := &metricsFake{}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, nil, WithSearchMetrics(metrics))

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "Compare ASU vs Yale lodging"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Groups) != 2 || res.Groups[0].Org != "ASU" || res.Groups[1].Org != "Yale" {
		t.Fatalf("expected groups in entity order, got %+v", res.Groups)
	}
	yale := res.Groups[1]
	if yale.Results == nil || len(yale.Results) != 0 {
		t.Fatalf("expected empty non-nil Yale results, got %#v", yale.Results)
	}
	if yale.Warning != "" || res.Warning != "" {
		t.Fatalf("expected no warnings for an empty entity, got group %q, overall %q", yale.Warning, res.Warning)
	}
	if metrics.fanoutFailures != 0 {
		t.Fatalf("expected no fan-out failure metric, got %d", metrics.fanoutFailures)
	}
}

func TestRouteAndSearchRerankTimeoutFallsBack(t *testing.T) {
	store := &passageStoreFake{lexicalByOrg: map[string][]domain.Candidate{"Yale": orgHits("Yale", 3)}}
	scorer := &crossEncoderFake{err: fmt.Errorf("rerank score request: %w", context.DeadlineExceeded)}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, scorer)

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "Yale hotel"})
	if err != nil {
		t.Fatalf("expected fallback, got error: %v", err)
	}
	if res.RerankApplied || !strings.Contains(res.Warning, rerankFallbackWarning) {
		t.Fatalf("expected rerank fallback warning, got applied=%v warning=%q", res.RerankApplied, res.Warning)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected retrieval-order results, got %d", len(res.Results))
	}
}

func TestRouteAndSearchFanOutConfigurationErrorAborts(t *testing.T) {
	store := &passageStoreFake{
		errByOrg: map[string]error{"Yale": domain.WrapError(domain.ErrConfiguration, "search lexical", errors.New("table missing"))},
	}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, nil)

	_, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{Question: "Compare ASU vs Yale lodging"})
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRouteAndSearchPublishesEvent(t *testing.T) {
	store := &passageStoreFake{lexicalByOrg: map[string][]domain.Candidate{"Yale": orgHits("Yale", 2)}}
	publisher := &publisherFake{err: errors.New("nats down")}
	uc := newSearchUseCase(store, &searchEmbedderFake{}, nil, WithSearchEventPublisher(publisher))

	res, err := uc.RouteAndSearch(context.Background(), domain.SearchRequest{
		RequestID: "req-1",
		Question:  "Yale hotel",
	})
	if err != nil {
		t.Fatalf("publish failure must not fail search: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.RequestID != "req-1" || event.Strategy != domain.StrategyFilteredRetrieval || event.ResultCount != len(res.Results) {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestPerEntityBudget(t *testing.T) {
	cases := []struct {
		finalK, entities, min, want int
	}{
		{finalK: 5, entities: 2, min: 3, want: 3},
		{finalK: 12, entities: 2, min: 3, want: 6},
		{finalK: 5, entities: 0, min: 3, want: 5},
	}
	for _, tc := range cases {
		if got := perEntityBudget(tc.finalK, tc.entities, tc.min); got != tc.want {
			t.Fatalf("perEntityBudget(%d,%d,%d): expected %d, got %d", tc.finalK, tc.entities, tc.min, tc.want, got)
		}
	}
}

func TestJoinWarningsDedupes(t *testing.T) {
	got := joinWarnings("a", "", "b", "a")
	if got != "a; b" {
		t.Fatalf("expected deduped warnings, got %q", got)
	}
}
