package analyzer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/rules"
)

const analysisSystemPrompt = `You are an expert security and compliance analyzer specializing in code review.
Your task is to identify security vulnerabilities, license compliance issues, code quality problems, and custom rule violations.

Focus on these categories:
1. SECURITY: SQL injection, XSS, hardcoded secrets, weak cryptography, command injection, authentication issues
2. LICENSE: GPL violations, missing license headers, incompatible licenses
3. QUALITY: Code complexity, code smells, maintainability issues, best practice violations
4. CUSTOM: Company-specific rules and policies

For each issue found, provide:
- Exact file path and line number
- Severity level (critical, high, medium, low, info)
- Clear description of the issue
- Actionable fix suggestion with code example if possible

Return ONLY valid JSON in this exact format:
{
  "findings": [
    {
      "file": "path/to/file.js",
      "line": 42,
      "type": "security",
      "severity": "high",
      "message": "SQL injection vulnerability detected",
      "code": "execute('SELECT * FROM users WHERE id = ' + userId)",
      "fixSuggestion": "Use parameterized query: execute('SELECT * FROM users WHERE id = ?', [userId])",
      "ruleName": "SQL Injection"
    }
  ]
}`

const enhancementSystemPrompt = "You are a code remediation expert. Provide specific, actionable fix suggestions for security and compliance issues."

// AnalysisSystemPrompt returns the system prompt for batch analysis.
func AnalysisSystemPrompt() string { return analysisSystemPrompt }

// BuildAnalysisPrompt describes one batch of files. Content is truncated to
// maxChars per file.
func BuildAnalysisPrompt(files []compliance.ChangedFile, custom []rules.Rule, focus []string, maxChars int) string {
	var b strings.Builder
	b.WriteString("Analyze the following code changes for compliance issues:\n\n")

	for _, f := range files {
		content := f.Text()
		content = truncate(content, maxChars)
		fmt.Fprintf(&b, "\n## File: %s\n", f.Filename)
		fmt.Fprintf(&b, "Status: %s\n", f.Status)
		fmt.Fprintf(&b, "```\n%s\n```\n", content)
	}

	if section := rules.PromptSection(focus, custom); section != "" {
		b.WriteString(section)
	}

	b.WriteString("\n\nProvide detailed analysis in JSON format.")
	return b.String()
}

// BuildEnhancementPrompt lists findings that need fix suggestions. Each entry
// carries its id so that replies can be matched back.
func BuildEnhancementPrompt(findings []compliance.Finding) string {
	var b strings.Builder
	b.WriteString("Provide fix suggestions for these compliance issues:\n\n")
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. [%s] %s in %s", i+1, f.ID, f.RuleName, f.File)
		if f.HasLine() {
			fmt.Fprintf(&b, ":%d", f.Line)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "   Issue: %s\n", f.Message)
		if f.Code != "" {
			fmt.Fprintf(&b, "   Code: %s\n", f.Code)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Return JSON: {"suggestions": [{"id": "finding-id", "fix": "specific fix description with code example"}]}`)
	return b.String()
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
