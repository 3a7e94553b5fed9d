package labeling

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Taxonomy is the product feature catalogue the external labeler picks
// categories from.
type Taxonomy struct {
	Features []Feature `yaml:"features"`
}

type Feature struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description,omitempty"`
	PotentialIssues []string `yaml:"potential_issues"`
}

func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse taxonomy yaml: %w", err)
	}
	for i, f := range t.Features {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("taxonomy feature %d has no name", i)
		}
	}
	return &t, nil
}

// Describe renders the taxonomy for a prompt.
func (t *Taxonomy) Describe() string {
	if t == nil || len(t.Features) == 0 {
		return "(no features defined)"
	}
	var b strings.Builder
	for _, f := range t.Features {
		fmt.Fprintf(&b, "- %s", f.Name)
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteByte('\n')
		for _, issue := range f.PotentialIssues {
			fmt.Fprintf(&b, "  * %s\n", issue)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
