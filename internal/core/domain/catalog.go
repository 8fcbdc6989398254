package domain

// Entity is a canonical organization with the surface forms that refer to it.
type Entity struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// KeywordCategory is a policy-type label inferred from keyword hits.
type KeywordCategory struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// Catalog holds the read-only static tables used by routing.
// Slices keep declaration order, which breaks policy-type ties.
type Catalog struct {
	Entities             []Entity          `json:"entities"`
	PolicyTypes          []KeywordCategory `json:"policy_types"`
	StructuredKeywords   []string          `json:"structured_keywords"`
	SingleAnswerTriggers []string          `json:"single_answer_triggers"`
	ComparisonMarkers    []string          `json:"comparison_markers"`
}

// EntityNames lists canonical entity names in catalog order.
func (c Catalog) EntityNames() []string {
	out := make([]string, 0, len(c.Entities))
	for _, e := range c.Entities {
		out = append(out, e.Name)
	}
	return out
}

// DefaultCatalog is the built-in table used when no catalog file is configured.
func DefaultCatalog() Catalog {
	return Catalog{
		Entities: []Entity{
			{Name: "ASU", Aliases: []string{"asu", "arizona state", "arizona state university"}},
			{Name: "Columbia", Aliases: []string{"columbia", "columbia university"}},
			{Name: "Michigan", Aliases: []string{"michigan", "university of michigan", "umich"}},
			{Name: "Yale", Aliases: []string{"yale", "yale university"}},
			{Name: "Princeton", Aliases: []string{"princeton", "princeton university"}},
			{Name: "NYU", Aliases: []string{"nyu", "new york university"}},
			{Name: "Stanford", Aliases: []string{"stanford", "stanford university"}},
			{Name: "Rutgers", Aliases: []string{"rutgers", "rutgers university"}},
		},
		PolicyTypes: []KeywordCategory{
			{Name: "travel", Keywords: []string{"travel", "lodging", "hotel", "flight", "airfare", "rental car", "mileage", "per diem"}},
			{Name: "procurement", Keywords: []string{"procurement", "p-card", "p card", "purchase", "vendor", "invoice"}},
		},
		StructuredKeywords: []string{
			"my expense", "my expenses", "expense status", "status of", "report id", "expense report",
			"submitted", "approved", "rejected", "reimbursement status", "timeline", "how much did i spend",
			"total spend", "show my", "list my",
		},
		SingleAnswerTriggers: []string{
			"is it allowed", "is it reimbursable", "can i", "can we", "allowed", "reimbursable", "proof of payment",
		},
		ComparisonMarkers: []string{" vs ", "compare", "difference"},
	}
}
