package domain

type Strategy string

const (
	StrategyFilteredRetrieval    Strategy = "filtered_retrieval"
	StrategyUnfilteredRetrieval  Strategy = "unfiltered_retrieval"
	StrategyMultiEntityRetrieval Strategy = "multi_entity_retrieval"
	StrategyClarify              Strategy = "clarify"
	StrategyStructuredDataIntent Strategy = "structured_data_intent"
)

// Retrieves reports whether the strategy runs the retrieval pipeline at all.
func (s Strategy) Retrieves() bool {
	switch s {
	case StrategyFilteredRetrieval, StrategyUnfilteredRetrieval, StrategyMultiEntityRetrieval:
		return true
	default:
		return false
	}
}

// FilterSet narrows retrieval. Org and Orgs are mutually exclusive; Org wins.
type FilterSet struct {
	Org        string   `json:"org,omitempty"`
	Orgs       []string `json:"orgs,omitempty"`
	PolicyType string   `json:"policy_type,omitempty"`
	DocName    string   `json:"doc_name,omitempty"`
}

// Normalized returns a copy that satisfies the org/orgs exclusion.
func (f FilterSet) Normalized() FilterSet {
	out := f
	if out.Org != "" {
		out.Orgs = nil
		return out
	}
	if len(out.Orgs) > 0 {
		out.Orgs = append([]string(nil), out.Orgs...)
	} else {
		out.Orgs = nil
	}
	return out
}

// ForOrg narrows a copy of the filter set to a single entity.
func (f FilterSet) ForOrg(org string) FilterSet {
	out := f
	out.Org = org
	out.Orgs = nil
	return out
}

func (f FilterSet) IsEmpty() bool {
	return f.Org == "" && len(f.Orgs) == 0 && f.PolicyType == "" && f.DocName == ""
}

type RoutingDecision struct {
	Strategy      Strategy  `json:"strategy"`
	Filters       FilterSet `json:"filters"`
	ClarifyPrompt string    `json:"clarify_prompt,omitempty"`
	Reason        string    `json:"reason"`
}
