package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/policy-copilot/internal/config"
	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/core/ports"
	"github.com/kirillkom/policy-copilot/internal/observability/metrics"
)

const (
	maxRequestBodyBytes = 1 << 20
	snippetMaxRunes     = 300

	statusOK                  = "ok"
	statusNoResults           = "no_results"
	statusNeedsClarification  = "needs_clarification"
	statusNeedsStructuredData = "needs_structured_data"
)

type Router struct {
	search        ports.PolicySearchService
	health        ports.StoreHealthChecker
	metrics       *metrics.HTTPServerMetrics
	searchTimeout time.Duration

	rateLimitRPS     float64
	rateLimitBurst   int
	maxInFlight      int
	backpressureWait time.Duration
}

func NewRouter(
	cfg config.Config,
	search ports.PolicySearchService,
	health ports.StoreHealthChecker,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		search:           search,
		health:           health,
		metrics:          httpMetrics,
		searchTimeout:    time.Duration(cfg.RAGSearchTimeoutSeconds) * time.Second,
		rateLimitRPS:     cfg.APIRateLimitRPS,
		rateLimitBurst:   cfg.APIRateLimitBurst,
		maxInFlight:      cfg.APIMaxInFlight,
		backpressureWait: time.Duration(cfg.APIBackpressureWaitMS) * time.Millisecond,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/policy/search", rt.searchPolicy)
	api.HandleFunc("/v1/policy/route", rt.routeQuestion)

	var onReject rejectRecorder
	if rt.metrics != nil {
		onReject = rt.metrics.RecordRejected
	}
	guarded := rateLimitMiddleware(api, rt.rateLimitRPS, rt.rateLimitBurst, onReject)
	guarded = backpressureMiddleware(guarded, rt.maxInFlight, rt.backpressureWait, onReject)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/readyz", rt.readyz)
	mux.Handle("/v1/", guarded)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	if rt.health == nil {
		writeError(w, http.StatusServiceUnavailable, "configuration_error", "passage store is not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := rt.health.Ping(ctx); err != nil {
		slog.Warn("readiness_check_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err.Error(),
		)
		writeError(w, http.StatusServiceUnavailable, "not_ready", "passage store is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type filtersPayload struct {
	Org        string   `json:"org,omitempty"`
	Orgs       []string `json:"orgs,omitempty"`
	PolicyType string   `json:"policy_type,omitempty"`
	DocName    string   `json:"doc_name,omitempty"`
}

func (f *filtersPayload) toDomain() domain.FilterSet {
	if f == nil {
		return domain.FilterSet{}
	}
	return domain.FilterSet{
		Org:        strings.TrimSpace(f.Org),
		Orgs:       f.Orgs,
		PolicyType: strings.TrimSpace(f.PolicyType),
		DocName:    strings.TrimSpace(f.DocName),
	}
}

type searchRequestPayload struct {
	Question        string          `json:"question"`
	Filters         *filtersPayload `json:"filters,omitempty"`
	CandidateBudget int             `json:"candidate_budget,omitempty"`
	FinalK          int             `json:"final_k,omitempty"`
	Debug           bool            `json:"debug,omitempty"`
}

type sourcePayload struct {
	Rank           int               `json:"rank"`
	DocumentID     string            `json:"document_id"`
	ChunkIndex     int               `json:"chunk_index"`
	Org            string            `json:"org"`
	PolicyType     string            `json:"policy_type,omitempty"`
	Page           string            `json:"page"`
	Snippet        string            `json:"snippet"`
	Provenance     domain.Provenance `json:"provenance"`
	LexicalScore   *float64          `json:"lexical_score"`
	VectorDistance *float64          `json:"vector_distance"`
	RerankScore    *float64          `json:"rerank_score"`
}

type groupPayload struct {
	Org     string          `json:"org"`
	Sources []sourcePayload `json:"sources"`
	Warning string          `json:"warning,omitempty"`
}

type searchResponsePayload struct {
	RequestID     string            `json:"request_id"`
	Status        string            `json:"status"`
	Strategy      domain.Strategy   `json:"strategy"`
	Filters       domain.FilterSet  `json:"filters"`
	Reason        string            `json:"reason"`
	ClarifyPrompt string            `json:"clarify_prompt,omitempty"`
	Warning       string            `json:"warning,omitempty"`
	RerankApplied bool              `json:"rerank_applied"`
	Sources       []sourcePayload   `json:"sources"`
	Groups        []groupPayload    `json:"groups,omitempty"`
	Debug         *domain.DebugInfo `json:"debug,omitempty"`
}

func (rt *Router) searchPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if rt.search == nil {
		writeError(w, http.StatusServiceUnavailable, "configuration_error", "search service is not configured")
		return
	}

	var req searchRequestPayload
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "question is required")
		return
	}

	ctx := r.Context()
	if rt.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.searchTimeout)
		defer cancel()
	}

	requestID := requestIDFromContext(r.Context())
	result, err := rt.search.RouteAndSearch(ctx, domain.SearchRequest{
		RequestID:       requestID,
		Question:        req.Question,
		Filters:         req.Filters.toDomain(),
		CandidateBudget: req.CandidateBudget,
		FinalK:          req.FinalK,
		Debug:           req.Debug,
	})
	if err != nil {
		rt.writeSearchError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(requestID, result))
}

func (rt *Router) routeQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if rt.search == nil {
		writeError(w, http.StatusServiceUnavailable, "configuration_error", "search service is not configured")
		return
	}

	var req searchRequestPayload
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "question is required")
		return
	}

	writeJSON(w, http.StatusOK, rt.search.Route(req.Question, req.Filters.toDomain()))
}

func (rt *Router) writeSearchError(w http.ResponseWriter, requestID string, err error) {
	status := mapErrorToHTTPStatus(err)
	attrs := []any{
		"request_id", requestID,
		"status", status,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		slog.Error("policy_search_failed", attrs...)
	} else {
		slog.Warn("policy_search_failed", attrs...)
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, errorCode(err), message)
}

func toSearchResponse(requestID string, result *domain.PipelineResult) searchResponsePayload {
	out := searchResponsePayload{
		RequestID:     requestID,
		Status:        responseStatus(result),
		Strategy:      result.Decision.Strategy,
		Filters:       result.Decision.Filters,
		Reason:        result.Decision.Reason,
		ClarifyPrompt: result.Decision.ClarifyPrompt,
		Warning:       result.Warning,
		RerankApplied: result.RerankApplied,
		Sources:       toSources(result.Results),
		Debug:         result.Debug,
	}
	for _, group := range result.Groups {
		out.Groups = append(out.Groups, groupPayload{
			Org:     group.Org,
			Sources: toSources(group.Results),
			Warning: group.Warning,
		})
	}
	return out
}

func responseStatus(result *domain.PipelineResult) string {
	switch result.Decision.Strategy {
	case domain.StrategyClarify:
		return statusNeedsClarification
	case domain.StrategyStructuredDataIntent:
		return statusNeedsStructuredData
	}
	if len(result.Results) == 0 {
		return statusNoResults
	}
	return statusOK
}

func toSources(results []domain.RankedResult) []sourcePayload {
	out := make([]sourcePayload, 0, len(results))
	for _, r := range results {
		out = append(out, sourcePayload{
			Rank:           r.Rank,
			DocumentID:     r.DocumentID,
			ChunkIndex:     r.ChunkIndex,
			Org:            r.Org,
			PolicyType:     r.PolicyType,
			Page:           r.Page,
			Snippet:        snippet(r.Content, snippetMaxRunes),
			Provenance:     r.Provenance,
			LexicalScore:   r.LexicalScore,
			VectorDistance: r.VectorDistance,
			RerankScore:    r.RerankScore,
		})
	}
	return out
}

func snippet(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_input", "request body is too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json")
		return false
	}
	return true
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorPayload{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
