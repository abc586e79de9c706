package rules

import (
	"fmt"
	"strings"

	"github.com/dshills/compliancebot/internal/compliance"
)

// Kind selects how a rule is evaluated.
type Kind string

const (
	KindPattern    Kind = "pattern"
	KindDependency Kind = "dependency"
	KindLicense    Kind = "license"
)

// ParseKind accepts the canonical kind names and their long forms.
func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pattern", "regex":
		return KindPattern, nil
	case "dependency", "dependency-check":
		return KindDependency, nil
	case "license", "license-check":
		return KindLicense, nil
	default:
		return "", fmt.Errorf("unknown rule kind %q", v)
	}
}

// Rule is a named detection policy.
type Rule struct {
	ID          string              `json:"id" yaml:"id"`
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description" yaml:"description"`
	Enabled     bool                `json:"enabled" yaml:"enabled"`
	Kind        Kind                `json:"kind" yaml:"kind"`
	Pattern     string              `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Severity    compliance.Severity `json:"severity" yaml:"severity"`
	Category    compliance.Category `json:"category" yaml:"category"`
	FixTemplate string              `json:"fixTemplate,omitempty" yaml:"fixTemplate,omitempty"`
}

// Validate checks that the rule is complete. It does not compile patterns.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name is required", r.ID)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity", r.ID)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("rule %s: invalid category %q", r.ID, r.Category)
	}
	switch r.Kind {
	case KindPattern:
		if r.Pattern == "" {
			return fmt.Errorf("rule %s: pattern rules need a pattern", r.ID)
		}
	case KindDependency, KindLicense:
	default:
		return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

// Evaluator applies one compiled rule to a file.
type Evaluator interface {
	Rule() Rule
	Evaluate(filename, content string) ([]compliance.Finding, error)
}

// Compile builds the evaluator for r. A nil db uses the built-in advisories.
func Compile(r Rule, db *AdvisoryDB) (Evaluator, error) {
	switch r.Kind {
	case KindPattern:
		return NewPatternRule(r)
	case KindDependency:
		if db == nil {
			db = DefaultAdvisories()
		}
		return NewDependencyRule(r, db), nil
	case KindLicense:
		return NewLicenseRule(r), nil
	default:
		return nil, &compliance.RuleError{RuleID: r.ID, Err: fmt.Errorf("unknown kind %q", r.Kind)}
	}
}

func (r Rule) finding(file string) compliance.Finding {
	return compliance.Finding{
		ID:            compliance.NewID(),
		Type:          r.Category,
		Severity:      r.Severity,
		File:          file,
		FixSuggestion: r.FixTemplate,
		RuleID:        r.ID,
		RuleName:      r.Name,
		Source:        "rules",
	}
}
