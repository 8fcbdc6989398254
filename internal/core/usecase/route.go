package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

// QueryRouter decides how a question is answered before any retrieval runs.
// It only reads its tables after construction and is safe for concurrent use.
type QueryRouter struct {
	extractor            *entityExtractor
	entityNames          []string
	structuredKeywords   []string
	singleAnswerTriggers []string
	comparisonMarkers    []string
}

func NewQueryRouter(catalog domain.Catalog) *QueryRouter {
	return &QueryRouter{
		extractor:            newEntityExtractor(catalog),
		entityNames:          catalog.EntityNames(),
		structuredKeywords:   normalizePhrases(catalog.StructuredKeywords),
		singleAnswerTriggers: normalizePhrases(catalog.SingleAnswerTriggers),
		comparisonMarkers:    normalizePhrases(catalog.ComparisonMarkers),
	}
}

// ExtractEntities returns canonical entities mentioned in text, in order of first mention.
func (r *QueryRouter) ExtractEntities(text string) []string {
	return r.extractor.extract(normalizeText(text))
}

// InferPolicyType returns the dominant policy category, or "" when none is hinted.
func (r *QueryRouter) InferPolicyType(text string) string {
	return r.extractor.inferPolicyType(normalizeText(text))
}

func (r *QueryRouter) StructuredDataIntent(text string) bool {
	return containsAny(normalizeText(text), r.structuredKeywords)
}

// ExpectsSingleDefinitiveAnswer is false for comparisons even when a trigger is present.
func (r *QueryRouter) ExpectsSingleDefinitiveAnswer(text string) bool {
	q := normalizeText(text)
	if containsAny(q, r.comparisonMarkers) {
		return false
	}
	return containsAny(q, r.singleAnswerTriggers)
}

func (r *QueryRouter) IsComparisonQuery(text string) bool {
	return len(r.ExtractEntities(text)) >= 2
}

// CanonicalEntity maps a canonical name or alias onto the canonical name.
// Unknown names come back trimmed.
func (r *QueryRouter) CanonicalEntity(name string) string {
	return r.extractor.canonicalEntity(name)
}

// Route is deterministic: the same question and filters always yield the same decision.
func (r *QueryRouter) Route(question string, explicit domain.FilterSet) domain.RoutingDecision {
	q := normalizeText(question)
	explicit = r.canonicalizeExplicit(explicit)

	if containsAny(q, r.structuredKeywords) {
		return domain.RoutingDecision{
			Strategy: domain.StrategyStructuredDataIntent,
			Filters:  explicit,
			Reason:   "Detected user-specific expense data intent; answer from the structured expense subsystem.",
		}
	}

	filters := domain.FilterSet{
		Org:        explicit.Org,
		PolicyType: explicit.PolicyType,
		DocName:    explicit.DocName,
	}
	if filters.PolicyType == "" {
		filters.PolicyType = r.extractor.inferPolicyType(q)
	}

	var detected []string
	if explicit.Org == "" {
		if len(explicit.Orgs) > 0 {
			detected = explicit.Orgs
		} else {
			detected = r.extractor.extract(q)
		}
	}

	if len(detected) >= 2 {
		filters.Org = ""
		filters.Orgs = append([]string(nil), detected...)
		return domain.RoutingDecision{
			Strategy: domain.StrategyMultiEntityRetrieval,
			Filters:  filters,
			Reason:   fmt.Sprintf("Multiple orgs detected [%s]; retrieve per org and answer grouped by org.", strings.Join(detected, ", ")),
		}
	}
	if len(detected) == 1 {
		filters.Org = detected[0]
	}

	if filters.Org != "" {
		return domain.RoutingDecision{
			Strategy: domain.StrategyFilteredRetrieval,
			Filters:  filters,
			Reason:   fmt.Sprintf("Org %s available; use filtered retrieval.", filters.Org),
		}
	}

	if r.ExpectsSingleDefinitiveAnswer(q) {
		return domain.RoutingDecision{
			Strategy:      domain.StrategyClarify,
			Filters:       filters,
			ClarifyPrompt: r.clarifyPrompt(),
			Reason:        "No org provided but the question expects one definitive policy answer.",
		}
	}

	return domain.RoutingDecision{
		Strategy: domain.StrategyUnfilteredRetrieval,
		Filters:  filters,
		Reason:   "No org provided; answer across all orgs grouped by org.",
	}
}

func (r *QueryRouter) clarifyPrompt() string {
	return fmt.Sprintf("Which university policy should I use? (%s)", strings.Join(r.entityNames, ", "))
}

func (r *QueryRouter) canonicalizeExplicit(explicit domain.FilterSet) domain.FilterSet {
	out := domain.FilterSet{
		Org:        r.extractor.canonicalEntity(explicit.Org),
		PolicyType: strings.TrimSpace(explicit.PolicyType),
		DocName:    strings.TrimSpace(explicit.DocName),
	}
	if out.Org != "" {
		return out
	}

	seen := make(map[string]struct{}, len(explicit.Orgs))
	for _, org := range explicit.Orgs {
		canonical := r.extractor.canonicalEntity(org)
		if canonical == "" {
			continue
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		out.Orgs = append(out.Orgs, canonical)
	}
	return out
}
