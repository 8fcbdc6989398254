// Package catalog loads the routing tables (entities, policy types, intent keywords) from YAML.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

type fileEntity struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type fileCategory struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type file struct {
	Entities             []fileEntity   `yaml:"entities"`
	PolicyTypes          []fileCategory `yaml:"policy_types"`
	StructuredKeywords   []string       `yaml:"structured_keywords"`
	SingleAnswerTriggers []string       `yaml:"single_answer_triggers"`
	ComparisonMarkers    []string       `yaml:"comparison_markers"`
}

// Load returns the built-in catalog when path is empty.
func Load(path string) (domain.Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Catalog{}, domain.WrapError(domain.ErrConfiguration, "read catalog", err)
	}
	return Parse(raw)
}

// Parse decodes a catalog document. Sections left out keep their built-in values.
func Parse(raw []byte) (domain.Catalog, error) {
	var doc file
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return domain.Catalog{}, domain.WrapError(domain.ErrConfiguration, "decode catalog", err)
	}

	out := domain.DefaultCatalog()
	if len(doc.Entities) > 0 {
		out.Entities = make([]domain.Entity, 0, len(doc.Entities))
		for _, e := range doc.Entities {
			out.Entities = append(out.Entities, domain.Entity{Name: strings.TrimSpace(e.Name), Aliases: e.Aliases})
		}
	}
	if len(doc.PolicyTypes) > 0 {
		out.PolicyTypes = make([]domain.KeywordCategory, 0, len(doc.PolicyTypes))
		for _, c := range doc.PolicyTypes {
			out.PolicyTypes = append(out.PolicyTypes, domain.KeywordCategory{Name: strings.TrimSpace(c.Name), Keywords: c.Keywords})
		}
	}
	if len(doc.StructuredKeywords) > 0 {
		out.StructuredKeywords = doc.StructuredKeywords
	}
	if len(doc.SingleAnswerTriggers) > 0 {
		out.SingleAnswerTriggers = doc.SingleAnswerTriggers
	}
	if len(doc.ComparisonMarkers) > 0 {
		out.ComparisonMarkers = doc.ComparisonMarkers
	}

	if err := validate(out); err != nil {
		return domain.Catalog{}, domain.WrapError(domain.ErrConfiguration, "validate catalog", err)
	}
	return out, nil
}

func validate(c domain.Catalog) error {
	names := make(map[string]struct{}, len(c.Entities))
	aliases := make(map[string]string, len(c.Entities)*3)
	for i, e := range c.Entities {
		if e.Name == "" {
			return fmt.Errorf("entity %d has no name", i)
		}
		key := strings.ToLower(e.Name)
		if _, ok := names[key]; ok {
			return fmt.Errorf("duplicate entity %q", e.Name)
		}
		names[key] = struct{}{}
		if len(e.Aliases) == 0 {
			return fmt.Errorf("entity %q has no aliases", e.Name)
		}
		for _, alias := range e.Aliases {
			a := strings.ToLower(strings.Join(strings.Fields(alias), " "))
			if a == "" {
				return fmt.Errorf("entity %q has a blank alias", e.Name)
			}
			if owner, ok := aliases[a]; ok && owner != e.Name {
				return fmt.Errorf("alias %q is shared by %q and %q", a, owner, e.Name)
			}
			aliases[a] = e.Name
		}
	}
	for i, p := range c.PolicyTypes {
		if p.Name == "" {
			return fmt.Errorf("policy type %d has no name", i)
		}
		if len(p.Keywords) == 0 {
			return fmt.Errorf("policy type %q has no keywords", p.Name)
		}
	}
	return nil
}
