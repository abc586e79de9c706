package rules

import (
	"path"
	"strings"

	"github.com/dshills/compliancebot/internal/compliance"
)

const licenseHeaderWindow = 500

var sourceExtensions = map[string]bool{
	".js": true, ".ts": true, ".py": true, ".java": true, ".go": true,
	".rs": true, ".cpp": true, ".c": true, ".h": true,
}

// LicenseRule flags source files without a license or copyright header.
type LicenseRule struct {
	rule Rule
}

// NewLicenseRule returns a license header check for r.
func NewLicenseRule(r Rule) *LicenseRule { return &LicenseRule{rule: r} }

func (l *LicenseRule) Rule() Rule { return l.rule }

func (l *LicenseRule) Evaluate(filename, content string) ([]compliance.Finding, error) {
	base := strings.ToLower(path.Base(filename))
	if base == "license" || base == "license.md" {
		return nil, nil
	}
	if !sourceExtensions[strings.ToLower(path.Ext(filename))] {
		return nil, nil
	}

	head := content
	if len(head) > licenseHeaderWindow {
		head = head[:licenseHeaderWindow]
	}
	head = strings.ToLower(head)
	if strings.Contains(head, "copyright") || strings.Contains(head, "license") {
		return nil, nil
	}

	f := l.rule.finding(filename)
	f.Message = "Missing license header in source file"
	f.Line = 1
	return []compliance.Finding{f}, nil
}
