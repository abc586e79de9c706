package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/compliancebot/internal/compliance"
)

// PatternRule matches a regular expression against each line of a file.
type PatternRule struct {
	rule Rule
	re   *regexp.Regexp
}

// NewPatternRule compiles the rule pattern as case-insensitive and multi-line.
func NewPatternRule(r Rule) (*PatternRule, error) {
	re, err := regexp.Compile("(?im)" + r.Pattern)
	if err != nil {
		return nil, &compliance.RuleError{RuleID: r.ID, Err: fmt.Errorf("compiling pattern: %w", err)}
	}
	return &PatternRule{rule: r, re: re}, nil
}

func (p *PatternRule) Rule() Rule { return p.rule }

// Evaluate emits one finding per non-empty match. Line is 1-based and column
// is the byte offset of the match within its line.
func (p *PatternRule) Evaluate(filename, content string) ([]compliance.Finding, error) {
	var findings []compliance.Finding
	message := fmt.Sprintf("%s: %s", p.rule.Name, p.rule.Description)
	for i, line := range strings.Split(content, "\n") {
		for _, loc := range p.re.FindAllStringIndex(line, -1) {
			if loc[0] == loc[1] {
				continue
			}
			f := p.rule.finding(filename)
			f.Message = message
			f.Line = i + 1
			f.Column = compliance.ColumnOf(loc[0])
			f.Code = strings.TrimSpace(line)
			findings = append(findings, f)
		}
	}
	return findings, nil
}
