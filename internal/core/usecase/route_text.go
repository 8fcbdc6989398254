package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizePhrases(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		// Leading/trailing spaces are significant for markers like " vs ".
		lowered := strings.ToLower(p)
		if strings.TrimSpace(lowered) == "" {
			continue
		}
		out = append(out, lowered)
	}
	return out
}

type entityMatcher struct {
	name     string
	patterns []*regexp.Regexp
}

type entityExtractor struct {
	entities    []entityMatcher
	canonical   map[string]string
	policyTypes []domain.KeywordCategory
}

func newEntityExtractor(catalog domain.Catalog) *entityExtractor {
	ex := &entityExtractor{
		entities:    make([]entityMatcher, 0, len(catalog.Entities)),
		canonical:   make(map[string]string, len(catalog.Entities)*3),
		policyTypes: make([]domain.KeywordCategory, 0, len(catalog.PolicyTypes)),
	}

	for _, entity := range catalog.Entities {
		name := strings.TrimSpace(entity.Name)
		if name == "" {
			continue
		}
		matcher := entityMatcher{name: name}
		ex.canonical[normalizeText(name)] = name
		for _, alias := range entity.Aliases {
			alias = normalizeText(alias)
			if alias == "" {
				continue
			}
			ex.canonical[alias] = name
			matcher.patterns = append(matcher.patterns, aliasPattern(alias))
		}
		ex.entities = append(ex.entities, matcher)
	}

	for _, category := range catalog.PolicyTypes {
		name := strings.TrimSpace(category.Name)
		if name == "" {
			continue
		}
		ex.policyTypes = append(ex.policyTypes, domain.KeywordCategory{
			Name:     name,
			Keywords: normalizePhrases(category.Keywords),
		})
	}
	return ex
}

func aliasPattern(alias string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^a-z0-9])(` + regexp.QuoteMeta(alias) + `)(?:[^a-z0-9]|$)`)
}

// extract returns canonical entities found in normalized text, ordered by first occurrence.
func (ex *entityExtractor) extract(normalized string) []string {
	if normalized == "" {
		return nil
	}

	type hit struct {
		name  string
		first int
	}
	hits := make([]hit, 0, 2)
	for _, entity := range ex.entities {
		first := -1
		for _, pattern := range entity.patterns {
			loc := pattern.FindStringSubmatchIndex(normalized)
			if loc == nil {
				continue
			}
			if first < 0 || loc[2] < first {
				first = loc[2]
			}
		}
		if first >= 0 {
			hits = append(hits, hit{name: entity.name, first: first})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].first < hits[j].first
	})

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.name)
	}
	return out
}

// inferPolicyType picks the category with the most keyword hits; ties go to the
// earlier declared category. Empty when nothing matches.
func (ex *entityExtractor) inferPolicyType(normalized string) string {
	best := ""
	bestHits := 0
	for _, category := range ex.policyTypes {
		hits := 0
		for _, kw := range category.Keywords {
			if strings.Contains(normalized, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = category.Name
			bestHits = hits
		}
	}
	return best
}

// canonicalEntity maps a known name or alias onto its canonical spelling.
func (ex *entityExtractor) canonicalEntity(name string) string {
	trimmed := strings.TrimSpace(name)
	if canonical, ok := ex.canonical[normalizeText(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

func containsAny(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
