package mcpadapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

type searchServiceFake struct {
	result  *domain.PipelineResult
	err     error
	lastReq domain.SearchRequest
}

func (f *searchServiceFake) Route(question string, explicit domain.FilterSet) domain.RoutingDecision {
	if explicit.Org == "" {
		return domain.RoutingDecision{Strategy: domain.StrategyClarify, ClarifyPrompt: "Which university?", Reason: "ambiguous"}
	}
	return domain.RoutingDecision{Strategy: domain.StrategyFilteredRetrieval, Filters: explicit, Reason: "explicit org"}
}

func (f *searchServiceFake) RouteAndSearch(_ context.Context, req domain.SearchRequest) (*domain.PipelineResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("expected tool result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestPolicySearchToolFormatsCitations(t *testing.T) {
	svc := &searchServiceFake{result: &domain.PipelineResult{
		Decision: domain.RoutingDecision{Strategy: domain.StrategyFilteredRetrieval, Filters: domain.FilterSet{Org: "ASU"}},
		Results: []domain.RankedResult{{
			Candidate: domain.Candidate{Passage: domain.Passage{DocumentID: "asu-travel.pdf", ChunkIndex: 2, Org: "ASU", Page: "4", Content: "Per diem is\n capped."}},
			Rank:      1,
		}},
	}}

	result, err := handlePolicySearch(svc)(context.Background(), callRequest("policy_search", map[string]any{
		"question": "ASU per diem?",
		"org":      "ASU",
		"final_k":  float64(50),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success result")
	}
	text := resultText(t, result)
	if !strings.Contains(text, "1. [asu-travel.pdf #2, p. 4] (ASU) Per diem is capped.") {
		t.Fatalf("unexpected formatted output:\n%s", text)
	}
	if svc.lastReq.FinalK != maxToolFinalK || svc.lastReq.Filters.Org != "ASU" {
		t.Fatalf("expected capped final_k and org filter, got %+v", svc.lastReq)
	}
}

func TestPolicySearchToolRendersGroups(t *testing.T) {
	svc := &searchServiceFake{result: &domain.PipelineResult{
		Decision: domain.RoutingDecision{Strategy: domain.StrategyMultiEntityRetrieval, Filters: domain.FilterSet{Orgs: []string{"ASU", "UA"}}},
		Groups: []domain.EntityResults{
			{Org: "ASU", Results: []domain.RankedResult{{Candidate: domain.Candidate{Passage: domain.Passage{DocumentID: "a.pdf", Org: "ASU", Content: "x"}}, Rank: 1}}},
			{Org: "UA", Results: []domain.RankedResult{}},
		},
	}}

	result, _ := handlePolicySearch(svc)(context.Background(), callRequest("policy_search", map[string]any{
		"question": "Compare ASU and UA",
		"orgs":     []any{"ASU", "UA"},
	}))
	text := resultText(t, result)
	asu := strings.Index(text, "## ASU")
	ua := strings.Index(text, "## UA")
	if asu < 0 || ua < 0 || asu > ua {
		t.Fatalf("expected groups in entity order:\n%s", text)
	}
	if !strings.Contains(text[ua:], "No passages found.") {
		t.Fatalf("expected empty group marker:\n%s", text)
	}
	if len(svc.lastReq.Filters.Orgs) != 2 {
		t.Fatalf("expected orgs to be passed through, got %+v", svc.lastReq.Filters)
	}
}

func TestPolicySearchToolReportsErrors(t *testing.T) {
	result, err := handlePolicySearch(&searchServiceFake{})(context.Background(), callRequest("policy_search", map[string]any{}))
	if err != nil || !result.IsError {
		t.Fatalf("expected tool error result for missing question, got %v %+v", err, result)
	}

	svc := &searchServiceFake{err: domain.WrapError(domain.ErrRetrieval, "search", errors.New("db down"))}
	result, err = handlePolicySearch(svc)(context.Background(), callRequest("policy_search", map[string]any{"question": "q"}))
	if err != nil || !result.IsError || !strings.Contains(resultText(t, result), "db down") {
		t.Fatalf("expected search error surfaced as tool error, got %v %+v", err, result)
	}
}

func TestRouteQuestionToolShowsClarifyPrompt(t *testing.T) {
	result, err := handleRouteQuestion(&searchServiceFake{})(context.Background(), callRequest("route_question", map[string]any{
		"question": "What is the travel policy?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Strategy: clarify") || !strings.Contains(text, "Clarify: Which university?") {
		t.Fatalf("unexpected route output:\n%s", text)
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	if s := NewServer("policy-copilot", "test", &searchServiceFake{}); s == nil {
		t.Fatalf("expected server")
	}
}
