package redact

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dshills/compliancebot/internal/compliance"
)

const placeholder = "[REDACTED]"

// secretPatterns are regex heuristics for common secret types.
var secretPatterns = []*regexp.Regexp{
	// Generic API keys (long hex/base64 strings after common key patterns)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[:=]\s*["']?([A-Za-z0-9/+=_-]{20,})["']?`),
	// AWS access key IDs
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// AWS secret access keys
	regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`),
	// Generic secrets/tokens/passwords in assignments
	regexp.MustCompile(`(?i)(secret|token|password|passwd|pwd|credential)\s*[:=]\s*["']([^"']{8,})["']`),
	// Bearer tokens
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._-]{20,}`),
	// JWTs
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
	// Private key blocks
	regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE KEY-----`),
	// GitHub tokens
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
	// Slack tokens
	regexp.MustCompile(`xox[bporas]-[A-Za-z0-9-]{10,}`),
	// Groq API keys
	regexp.MustCompile(`gsk_[A-Za-z0-9]{20,}`),
	// Anthropic API keys
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
	// OpenAI API keys
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
}

// Redactor scrubs file content. The zero value redacts secrets only.
type Redactor struct {
	// Paths are glob patterns of files whose whole content is withheld.
	Paths []string
}

// New returns a Redactor that also withholds files matching paths.
func New(paths []string) *Redactor {
	return &Redactor{Paths: paths}
}

// Files returns copies of files with content and patch redacted, plus the
// number of files that changed. The input slice is not modified.
func (r *Redactor) Files(files []compliance.ChangedFile) ([]compliance.ChangedFile, int) {
	out := make([]compliance.ChangedFile, len(files))
	changed := 0
	for i, f := range files {
		content := r.Content(f.Content, f.Filename)
		patch := r.Content(f.Patch, f.Filename)
		if content != f.Content || patch != f.Patch {
			changed++
		}
		f.Content, f.Patch = content, patch
		out[i] = f
	}
	return out, changed
}

// Content redacts secrets from content, or withholds it entirely when path
// matches a redaction pattern. Empty content stays empty.
func (r *Redactor) Content(content, path string) string {
	if content == "" {
		return ""
	}
	if r != nil && ShouldRedactPath(path, r.Paths) {
		return placeholder + " (file content redacted by path policy)\n"
	}
	return Secrets(content)
}

// Secrets replaces detected secrets in text with [REDACTED].
func Secrets(text string) string {
	result := text
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllLiteralString(result, placeholder)
	}
	return result
}

// ShouldRedactPath checks if a file path matches any of the redaction path patterns.
func ShouldRedactPath(path string, patterns []string) bool {
	for _, pattern := range patterns {
		matched, err := filepath.Match(pattern, path)
		if err == nil && matched {
			return true
		}
		// "**/" prefixes match the base name at any depth
		cleanPattern := strings.TrimPrefix(pattern, "**/")
		if cleanPattern != pattern {
			matched, err = filepath.Match(cleanPattern, filepath.Base(path))
			if err == nil && matched {
				return true
			}
		}
	}
	return false
}
