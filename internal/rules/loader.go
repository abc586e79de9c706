package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/compliancebot/internal/compliance"
)

// File is a rules file loaded with --rules or from configuration. JSON files
// are accepted as well since every JSON document is valid YAML.
type File struct {
	Focus             []string          `yaml:"focus,omitempty"`
	SeverityOverrides map[string]string `yaml:"severityOverrides,omitempty"`
	Rules             []RuleSpec        `yaml:"rules,omitempty"`
	Disable           []string          `yaml:"disable,omitempty"`
	Advisories        []Advisory        `yaml:"advisories,omitempty"`
}

// RuleSpec is the on-disk form of a custom rule.
type RuleSpec struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Enabled     *bool  `json:"enabled" yaml:"enabled"`
	Kind        string `json:"kind" yaml:"kind"`
	Pattern     string `json:"pattern" yaml:"pattern"`
	Severity    string `json:"severity" yaml:"severity"`
	Category    string `json:"category" yaml:"category"`
	FixTemplate string `json:"fixTemplate" yaml:"fixTemplate"`
}

// Rule converts the spec. Kind defaults to pattern, category to custom and
// enabled to true.
func (s RuleSpec) Rule() (Rule, error) {
	r := Rule{
		ID:          strings.TrimSpace(s.ID),
		Name:        s.Name,
		Description: s.Description,
		Enabled:     s.Enabled == nil || *s.Enabled,
		Pattern:     s.Pattern,
		FixTemplate: s.FixTemplate,
		Kind:        KindPattern,
		Category:    compliance.CategoryCustom,
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	if s.Kind != "" {
		k, err := ParseKind(s.Kind)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.Kind = k
	}
	sev, err := compliance.ParseSeverity(s.Severity)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.Severity = sev
	if s.Category != "" {
		cat, err := compliance.ParseCategory(s.Category)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.Category = cat
	}
	return r, r.Validate()
}

// LoadFile reads a rules file from disk. Returns nil File and nil error if
// path is empty.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a rules document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	if _, err := f.CustomRules(); err != nil {
		return nil, err
	}
	if _, err := f.Overrides(); err != nil {
		return nil, err
	}
	return &f, nil
}

// CustomRules converts every rule spec in the file.
func (f *File) CustomRules() ([]Rule, error) {
	out := make([]Rule, 0, len(f.Rules))
	for _, s := range f.Rules {
		r, err := s.Rule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Overrides returns the severity overrides keyed by category.
func (f *File) Overrides() (map[compliance.Category]compliance.Severity, error) {
	out := make(map[compliance.Category]compliance.Severity, len(f.SeverityOverrides))
	for cat, sev := range f.SeverityOverrides {
		c, err := compliance.ParseCategory(cat)
		if err != nil {
			return nil, fmt.Errorf("severity override: %w", err)
		}
		s, err := compliance.ParseSeverity(sev)
		if err != nil {
			return nil, fmt.Errorf("severity override for %s: %w", cat, err)
		}
		out[c] = s
	}
	return out, nil
}

// PromptSection returns instructions for the AI analyzer listing the focus
// areas and custom rules. Empty when there is nothing to add.
func PromptSection(focus []string, custom []Rule) string {
	var b strings.Builder
	if len(focus) > 0 {
		fmt.Fprintf(&b, "\nFocus areas: %s. Prioritize findings in these areas.\n", strings.Join(focus, ", "))
	}
	if len(custom) > 0 {
		b.WriteString("\nCustom Rules to check:\n")
		for _, r := range custom {
			fmt.Fprintf(&b, "- %s: %s\n", r.Name, r.Description)
		}
	}
	return b.String()
}
