package rules

import (
	"sync"

	"github.com/dshills/compliancebot/internal/compliance"
)

// Builtin returns the default rule set. Each call returns a fresh slice.
func Builtin() []Rule {
	return enableAll([]Rule{
		{
			ID:          "secret-api-key",
			Name:        "Hardcoded API Key",
			Description: "Detects hardcoded API keys in source code",
			Kind:        KindPattern,
			Pattern:     `(api[_-]?key|apikey)\s*[=:]\s*["']([A-Za-z0-9_\-]{20,})["']`,
			Severity:    compliance.SeverityCritical,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Move API key to environment variables",
		},
		{
			ID:          "secret-aws-key",
			Name:        "AWS Access Key",
			Description: "Detects AWS access keys",
			Kind:        KindPattern,
			Pattern:     `(AKIA[0-9A-Z]{16})`,
			Severity:    compliance.SeverityCritical,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Use AWS Secrets Manager or IAM roles",
		},
		{
			ID:          "secret-private-key",
			Name:        "Private Key",
			Description: "Detects private keys in source code",
			Kind:        KindPattern,
			Pattern:     `-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
			Severity:    compliance.SeverityCritical,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Remove private key and use secure key management",
		},
		{
			ID:          "secret-password",
			Name:        "Hardcoded Password",
			Description: "Detects hardcoded passwords",
			Kind:        KindPattern,
			// Values of eight or more characters that are not a "${...}" placeholder.
			Pattern:     `(password|passwd|pwd)\s*[=:]\s*["']([^"'$][^"']{7,}|\$[^{"'][^"']{6,})["']`,
			Severity:    compliance.SeverityHigh,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Use environment variables or secure vaults",
		},
		{
			ID:          "secret-token",
			Name:        "Authentication Token",
			Description: "Detects hardcoded auth tokens",
			Kind:        KindPattern,
			Pattern:     `(token|bearer|auth)\s*[=:]\s*["']([A-Za-z0-9_\-]{32,})["']`,
			Severity:    compliance.SeverityHigh,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Store tokens in secure configuration",
		},
		{
			ID:          "security-sql-injection",
			Name:        "Potential SQL Injection",
			Description: "Detects string concatenation in SQL queries",
			Kind:        KindPattern,
			Pattern:     `(execute|query|exec)\s*\([^)]*\+[^)]*\)`,
			Severity:    compliance.SeverityHigh,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Use parameterized queries or prepared statements",
		},
		{
			ID:          "security-eval",
			Name:        "Dangerous eval() Usage",
			Description: "Detects use of eval() which can execute arbitrary code",
			Kind:        KindPattern,
			Pattern:     `\beval\s*\(`,
			Severity:    compliance.SeverityHigh,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Avoid eval() and use safer alternatives",
		},
		{
			ID:          "security-exec",
			Name:        "Command Injection Risk",
			Description: "Detects shell command execution with user input",
			Kind:        KindPattern,
			Pattern:     `(exec|system|spawn|execSync)\s*\([^)]*\$`,
			Severity:    compliance.SeverityHigh,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Validate and sanitize all inputs, use safe APIs",
		},
		{
			ID:          "security-weak-crypto",
			Name:        "Weak Cryptography",
			Description: "Detects use of weak cryptographic algorithms",
			Kind:        KindPattern,
			Pattern:     `(MD5|SHA1|DES)\s*\(`,
			Severity:    compliance.SeverityMedium,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Use strong algorithms like SHA-256 or bcrypt",
		},
		{
			ID:          "dependency-vulnerability",
			Name:        "Vulnerable Dependency",
			Description: "Detects dependencies with known vulnerabilities",
			Kind:        KindDependency,
			Severity:    compliance.SeverityHigh,
			Category:    compliance.CategorySecurity,
			FixTemplate: "Update the dependency to a patched version",
		},
		{
			ID:          "license-missing-header",
			Name:        "Missing License Header",
			Description: "Source files should contain license headers",
			Kind:        KindLicense,
			Severity:    compliance.SeverityLow,
			Category:    compliance.CategoryLicense,
			FixTemplate: "Add appropriate license header to file",
		},
		{
			ID:          "license-gpl-violation",
			Name:        "GPL License Violation",
			Description: "Detects GPL library usage in proprietary code",
			Kind:        KindPattern,
			Pattern:     `(gpl|gnu general public license)`,
			Severity:    compliance.SeverityHigh,
			Category:    compliance.CategoryLicense,
			FixTemplate: "Replace with MIT/Apache licensed alternative or open source your code",
		},
		{
			ID:          "quality-long-function",
			Name:        "Long Function",
			Description: "Functions should be concise and focused",
			Kind:        KindPattern,
			Pattern:     `function\s+\w+\s*\([^)]*\)\s*\{[\s\S]{1000,}\}`,
			Severity:    compliance.SeverityLow,
			Category:    compliance.CategoryQuality,
			FixTemplate: "Break down into smaller, focused functions",
		},
		{
			ID:          "quality-console-log",
			Name:        "Console Log Statement",
			Description: "Remove debug console.log statements",
			Kind:        KindPattern,
			Pattern:     `console\.(log|debug|info)\s*\(`,
			Severity:    compliance.SeverityInfo,
			Category:    compliance.CategoryQuality,
			FixTemplate: "Use proper logging framework",
		},
		{
			ID:          "quality-todo-comment",
			Name:        "TODO Comment",
			Description: "Unresolved TODO comments",
			Kind:        KindPattern,
			Pattern:     `(TODO|FIXME|HACK|XXX):`,
			Severity:    compliance.SeverityInfo,
			Category:    compliance.CategoryQuality,
			FixTemplate: "Create issue or resolve TODO",
		},
	})
}

func enableAll(rs []Rule) []Rule {
	for i := range rs {
		rs[i].Enabled = true
	}
	return rs
}

var builtinIDs = sync.OnceValue(func() map[string]bool {
	ids := make(map[string]bool)
	for _, r := range Builtin() {
		ids[r.ID] = true
	}
	return ids
})

// IsBuiltin reports whether id names a built-in rule.
func IsBuiltin(id string) bool { return builtinIDs()[id] }
