package mcpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/core/ports"
)

const (
	maxToolFinalK   = 20
	toolSnippetRune = 500
)

// NewServer exposes routed policy search as MCP tools.
func NewServer(name, version string, search ports.PolicySearchService) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(true))
	s.AddTool(policySearchTool(), handlePolicySearch(search))
	s.AddTool(routeQuestionTool(), handleRouteQuestion(search))
	return s
}

func policySearchTool() mcp.Tool {
	return mcp.NewTool("policy_search",
		mcp.WithDescription("Search university policy documents. Routes the question, retrieves passages and returns cited sources."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language policy question"),
		),
		mcp.WithString("org",
			mcp.Description("Restrict to one organization (canonical name or alias)"),
		),
		mcp.WithArray("orgs",
			mcp.WithStringItems(),
			mcp.Description("Search several organizations and group results per organization"),
		),
		mcp.WithString("policy_type",
			mcp.Description("Restrict to one policy type, for example travel or procurement"),
		),
		mcp.WithString("doc_name",
			mcp.Description("Restrict to one document"),
		),
		mcp.WithNumber("final_k",
			mcp.Description("Number of passages to return (default 5, max 20)"),
		),
	)
}

func routeQuestionTool() mcp.Tool {
	return mcp.NewTool("route_question",
		mcp.WithDescription("Explain how a policy question would be routed without running retrieval"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language policy question"),
		),
		mcp.WithString("org",
			mcp.Description("Explicit organization filter"),
		),
	)
}

func handlePolicySearch(search ports.PolicySearchService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := request.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return errorResult("Error: question parameter is required"), nil
		}

		finalK := request.GetInt("final_k", 0)
		if finalK > maxToolFinalK {
			finalK = maxToolFinalK
		}

		result, err := search.RouteAndSearch(ctx, domain.SearchRequest{
			Question: question,
			Filters:  filtersFromRequest(request),
			FinalK:   finalK,
		})
		if err != nil {
			slog.Warn("mcp_policy_search_failed", "error", err.Error())
			return errorResult(fmt.Sprintf("Search error: %v", err)), nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatSearchResult(result)),
			},
		}, nil
	}
}

func handleRouteQuestion(router ports.QueryRouter) server.ToolHandlerFunc {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := request.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return errorResult("Error: question parameter is required"), nil
		}

		decision := router.Route(question, domain.FilterSet{Org: strings.TrimSpace(request.GetString("org", ""))})

		var sb strings.Builder
		fmt.Fprintf(&sb, "Strategy: %s\n", decision.Strategy)
		fmt.Fprintf(&sb, "Reason: %s\n", decision.Reason)
		if filters := formatFilters(decision.Filters); filters != "" {
			fmt.Fprintf(&sb, "Filters: %s\n", filters)
		}
		if decision.ClarifyPrompt != "" {
			fmt.Fprintf(&sb, "Clarify: %s\n", decision.ClarifyPrompt)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(strings.TrimRight(sb.String(), "\n")),
			},
		}, nil
	}
}

func filtersFromRequest(request mcp.CallToolRequest) domain.FilterSet {
	return domain.FilterSet{
		Org:        strings.TrimSpace(request.GetString("org", "")),
		Orgs:       request.GetStringSlice("orgs", nil),
		PolicyType: strings.TrimSpace(request.GetString("policy_type", "")),
		DocName:    strings.TrimSpace(request.GetString("doc_name", "")),
	}
}

func formatSearchResult(result *domain.PipelineResult) string {
	var sb strings.Builder
	decision := result.Decision

	switch decision.Strategy {
	case domain.StrategyClarify:
		fmt.Fprintf(&sb, "Clarification needed: %s", decision.ClarifyPrompt)
		return sb.String()
	case domain.StrategyStructuredDataIntent:
		sb.WriteString("This question asks about personal expense records, not policy text; no policy passages were retrieved.")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Strategy: %s\n", decision.Strategy)
	if filters := formatFilters(decision.Filters); filters != "" {
		fmt.Fprintf(&sb, "Filters: %s\n", filters)
	}
	if result.Warning != "" {
		fmt.Fprintf(&sb, "Warning: %s\n", result.Warning)
	}

	if len(result.Groups) > 0 {
		for _, group := range result.Groups {
			fmt.Fprintf(&sb, "\n## %s\n", group.Org)
			if group.Warning != "" {
				fmt.Fprintf(&sb, "_%s_\n", group.Warning)
			}
			writeSources(&sb, group.Results)
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	sb.WriteString("\n")
	writeSources(&sb, result.Results)
	return strings.TrimRight(sb.String(), "\n")
}

func writeSources(sb *strings.Builder, results []domain.RankedResult) {
	if len(results) == 0 {
		sb.WriteString("No passages found.\n")
		return
	}
	for _, r := range results {
		citation := fmt.Sprintf("%s #%d", r.DocumentID, r.ChunkIndex)
		if r.Page != "" {
			citation += ", p. " + r.Page
		}
		fmt.Fprintf(sb, "%d. [%s] (%s) %s\n", r.Rank, citation, r.Org, clip(r.Content, toolSnippetRune))
	}
}

func formatFilters(f domain.FilterSet) string {
	parts := make([]string, 0, 4)
	if f.Org != "" {
		parts = append(parts, "org="+f.Org)
	}
	if len(f.Orgs) > 0 {
		parts = append(parts, "orgs="+strings.Join(f.Orgs, ","))
	}
	if f.PolicyType != "" {
		parts = append(parts, "policy_type="+f.PolicyType)
	}
	if f.DocName != "" {
		parts = append(parts, "doc_name="+f.DocName)
	}
	return strings.Join(parts, " ")
}

func clip(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	return string([]rune(text)[:maxRunes]) + "..."
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}
