package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/core/ports"
)

const (
	defaultCandidateBudget    = 30
	defaultFinalK             = 5
	defaultFanoutMinPerEntity = 3
	noResultsWarning          = "No relevant policy content found for those filters. Try broader filters."
)

// SearchOptions tunes the retrieval pipeline. Zero values fall back to defaults.
type SearchOptions struct {
	CandidateBudget    int
	FinalK             int
	FanoutMinPerEntity int
	RerankMaxChars     int
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.CandidateBudget <= 0 {
		o.CandidateBudget = defaultCandidateBudget
	}
	if o.FinalK <= 0 {
		o.FinalK = defaultFinalK
	}
	if o.FanoutMinPerEntity <= 0 {
		o.FanoutMinPerEntity = defaultFanoutMinPerEntity
	}
	if o.RerankMaxChars <= 0 {
		o.RerankMaxChars = defaultRerankMaxChars
	}
	return o
}

type SearchOption func(*PolicySearchUseCase)

// WithFanoutPool runs per-entity sub-pipelines on a shared bounded pool.
// The caller owns the pool and releases it on shutdown.
func WithFanoutPool(pool *ants.Pool) SearchOption {
	return func(uc *PolicySearchUseCase) {
		uc.pool = pool
	}
}

func WithSearchEventPublisher(publisher ports.SearchEventPublisher) SearchOption {
	return func(uc *PolicySearchUseCase) {
		uc.publisher = publisher
	}
}

func WithSearchMetrics(metrics ports.SearchMetrics) SearchOption {
	return func(uc *PolicySearchUseCase) {
		uc.metrics = metrics
		uc.reranker.metrics = metrics
	}
}

type PolicySearchUseCase struct {
	router    *QueryRouter
	embedder  ports.Embedder
	retriever candidateRetriever
	reranker  passageReranker
	pool      *ants.Pool
	publisher ports.SearchEventPublisher
	metrics   ports.SearchMetrics
	opts      SearchOptions
	now       func() time.Time
}

func NewPolicySearchUseCase(
	router *QueryRouter,
	store ports.PassageStore,
	embedder ports.Embedder,
	scorer ports.CrossEncoder,
	opts SearchOptions,
	options ...SearchOption,
) *PolicySearchUseCase {
	opts = opts.withDefaults()
	uc := &PolicySearchUseCase{
		router:    router,
		embedder:  embedder,
		retriever: candidateRetriever{store: store},
		reranker:  passageReranker{scorer: scorer, maxChars: opts.RerankMaxChars},
		opts:      opts,
		now:       time.Now,
	}
	for _, option := range options {
		option(uc)
	}
	return uc
}

func (uc *PolicySearchUseCase) Route(question string, explicit domain.FilterSet) domain.RoutingDecision {
	return uc.router.Route(question, explicit)
}

// RouteAndSearch routes the question and, when the strategy retrieves, runs the
// hybrid pipeline once or once per entity. Ranking degradation and empty results
// surface as warnings, never as errors.
func (uc *PolicySearchUseCase) RouteAndSearch(ctx context.Context, req domain.SearchRequest) (*domain.PipelineResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "route and search", errors.New("question is required"))
	}
	if uc.router == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "route and search", errors.New("query router is not configured"))
	}
	if req.CandidateBudget <= 0 {
		req.CandidateBudget = uc.opts.CandidateBudget
	}
	if req.FinalK <= 0 {
		req.FinalK = uc.opts.FinalK
	}

	start := uc.now()
	decision := uc.router.Route(question, req.Filters)
	if uc.metrics != nil {
		uc.metrics.ObserveRoute(decision.Strategy)
	}

	result := &domain.PipelineResult{
		Decision: decision,
		Results:  []domain.RankedResult{},
	}
	if !decision.Strategy.Retrieves() {
		uc.finish(ctx, req, question, result, start)
		return result, nil
	}

	queryVector, err := uc.embedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	var debug domain.DebugInfo
	if decision.Strategy == domain.StrategyMultiEntityRetrieval && len(decision.Filters.Orgs) > 0 {
		fan, err := uc.fanOut(ctx, question, queryVector, decision.Filters, req.CandidateBudget, req.FinalK)
		if err != nil {
			return nil, err
		}
		result.Groups = fan.groups
		result.Results = fan.results
		result.RerankApplied = fan.applied
		result.Warning = joinWarnings(fan.warnings...)
		debug = fan.debug
	} else {
		outcome, err := uc.runPipeline(ctx, question, queryVector, decision.Filters.Normalized(), req.CandidateBudget, req.FinalK)
		if err != nil {
			return nil, err
		}
		result.Results = outcome.results
		result.RerankApplied = outcome.applied
		result.Warning = outcome.warning
		debug = outcome.debug
	}

	if len(result.Results) == 0 {
		result.Warning = joinWarnings(result.Warning, noResultsWarning)
	}
	if req.Debug {
		result.Debug = &debug
	}

	uc.finish(ctx, req, question, result, start)
	return result, nil
}

func (uc *PolicySearchUseCase) embedQuery(ctx context.Context, question string) ([]float32, error) {
	if uc.embedder == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "embed query", errors.New("embedder is not configured"))
	}
	vector, err := uc.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, wrapRetrievalError(ctx, "embed query", err)
	}
	return vector, nil
}

type pipelineOutcome struct {
	results []domain.RankedResult
	applied bool
	warning string
	debug   domain.DebugInfo
}

// runPipeline is Retriever, Merger and Reranker for one filter set.
func (uc *PolicySearchUseCase) runPipeline(
	ctx context.Context,
	question string,
	queryVector []float32,
	filter domain.FilterSet,
	candidateBudget int,
	finalK int,
) (pipelineOutcome, error) {
	retrieved, err := uc.retriever.retrieve(ctx, question, queryVector, filter, candidateBudget)
	if err != nil {
		return pipelineOutcome{}, err
	}

	merged := trimCandidates(mergeCandidates(retrieved.lexical, retrieved.vector), candidateBudget)
	ranked, err := uc.reranker.rank(ctx, question, merged, finalK)
	if err != nil {
		return pipelineOutcome{}, err
	}

	return pipelineOutcome{
		results: ranked.results,
		applied: ranked.applied,
		warning: ranked.warning,
		debug: domain.DebugInfo{
			CandidateCount: len(merged),
			LexicalCount:   len(retrieved.lexical),
			VectorCount:    len(retrieved.vector),
		},
	}, nil
}

func (uc *PolicySearchUseCase) finish(ctx context.Context, req domain.SearchRequest, question string, result *domain.PipelineResult, start time.Time) {
	elapsed := uc.now().Sub(start)
	if uc.metrics != nil {
		uc.metrics.ObserveSearch(result.Decision.Strategy, len(result.Results), elapsed)
	}
	if uc.publisher == nil {
		return
	}

	event := domain.SearchEvent{
		RequestID:     req.RequestID,
		Question:      question,
		Strategy:      result.Decision.Strategy,
		Filters:       result.Decision.Filters,
		ResultCount:   len(result.Results),
		RerankApplied: result.RerankApplied,
		Warning:       result.Warning,
		DurationMS:    float64(elapsed.Microseconds()) / 1000.0,
		CreatedAt:     uc.now().UTC(),
	}
	if err := uc.publisher.PublishSearchEvent(ctx, event); err != nil {
		slog.Warn("search_event_publish_failed",
			"request_id", req.RequestID,
			"strategy", string(result.Decision.Strategy),
			"error", err.Error(),
		)
	}
}

func joinWarnings(warnings ...string) string {
	seen := make(map[string]struct{}, len(warnings))
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return strings.Join(out, "; ")
}
