package compliance

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Severity is the ranked severity of a finding. Higher values are more severe.
// The zero value is not a valid severity.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists every valid severity, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Valid reports whether s is one of the five defined severities.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// AtLeast reports whether s is as severe as threshold or more.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Valid() && s >= threshold
}

// ParseSeverity converts a case-insensitive severity name.
func ParseSeverity(v string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	case "info":
		return SeverityInfo, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", v)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MeetsThreshold reports whether s reaches a fail-on threshold such as "high".
// "none" and "" never match.
func MeetsThreshold(s Severity, threshold string) bool {
	if threshold == "" || threshold == "none" {
		return false
	}
	t, err := ParseSeverity(threshold)
	if err != nil {
		return false
	}
	return s.AtLeast(t)
}

// Category classifies a rule and the findings it produces.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryLicense  Category = "license"
	CategoryQuality  Category = "quality"
	CategoryCustom   Category = "custom"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySecurity, CategoryLicense, CategoryQuality, CategoryCustom:
		return true
	}
	return false
}

// ParseCategory converts a case-insensitive category name.
func ParseCategory(v string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(v)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", v)
	}
	return c, nil
}

// Finding is a single compliance issue.
type Finding struct {
	ID            string   `json:"id"`
	Type          Category `json:"type"`
	Severity      Severity `json:"severity"`
	Message       string   `json:"message"`
	File          string   `json:"file"`
	Line          int      `json:"line,omitempty"`
	Column        *int     `json:"column,omitempty"`
	Code          string   `json:"code,omitempty"`
	FixSuggestion string   `json:"fixSuggestion,omitempty"`
	RuleID        string   `json:"ruleId"`
	RuleName      string   `json:"ruleName"`
	Source        string   `json:"source,omitempty"`
}

// HasLine reports whether the finding points at a specific line.
func (f Finding) HasLine() bool { return f.Line > 0 }

// NewID returns a fresh finding or run identifier.
func NewID() string { return uuid.NewString() }

// ColumnOf returns a pointer to a 0-based column offset.
func ColumnOf(n int) *int { return &n }

// FileStatus is the change status of a file in a review request.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
)

// ChangedFile is one file of a review request.
type ChangedFile struct {
	Filename  string     `json:"filename"`
	Status    FileStatus `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Content   string     `json:"content,omitempty"`
	Patch     string     `json:"patch,omitempty"`
}

// Analyzable reports whether the file takes part in content-based analysis.
func (f ChangedFile) Analyzable() bool { return f.Status != FileRemoved }

// Text returns the full content when present, otherwise the diff patch.
func (f ChangedFile) Text() string {
	if f.Content != "" {
		return f.Content
	}
	return f.Patch
}

// Target identifies the review request being analyzed.
type Target struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Number      int    `json:"number"`
	HeadSHA     string `json:"headSha,omitempty"`
	Branch      string `json:"branch,omitempty"`
	BaseBranch  string `json:"baseBranch,omitempty"`
	Author      string `json:"author,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// FullName returns "owner/repo".
func (t Target) FullName() string { return t.Owner + "/" + t.Repo }

func (t Target) String() string {
	return fmt.Sprintf("%s#%d", t.FullName(), t.Number)
}
