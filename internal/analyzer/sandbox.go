package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/compliance"
)

// Scanner is an external tool run inside the sandbox.
type Scanner struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	// Command is the argv to run. "{workspace}" is replaced with the
	// workspace root.
	Command []string `mapstructure:"command" yaml:"command" json:"command"`
	// Format selects the output parser: "semgrep" or "findings".
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// DefaultScanners returns the scanners run on backend when none are
// configured. semgrep's auto config downloads rules, and docker workspaces
// have no network, so the docker backend gets no default scanner.
func DefaultScanners(backend string) []Scanner {
	if backend != "local" {
		return nil
	}
	return []Scanner{{
		Name:    "semgrep",
		Command: []string{"semgrep", "scan", "--json", "--config=auto", "--quiet", "{workspace}"},
		Format:  "semgrep",
	}}
}

const maxScanBytes = 1 << 20

type secretPattern struct {
	name string
	re   *regexp.Regexp
}

var sandboxSecretPatterns = []secretPattern{
	{"api_key", regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[=:]\s*["']([A-Za-z0-9_\-]{20,})["']`)},
	{"aws_key", regexp.MustCompile(`(?i)(AKIA[0-9A-Z]{16})`)},
	{"private_key", regexp.MustCompile(`(?i)-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
	{"password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*["'][^"']{8,}["']`)},
}

// SandboxAnalyzer scans changed files inside a disposable environment.
type SandboxAnalyzer struct {
	backend  Backend
	scanners []Scanner
	logger   *zap.Logger
}

// NewSandbox returns a sandbox analyzer on backend. scanners may be empty, in
// which case only the built-in secret scan runs.
func NewSandbox(backend Backend, scanners []Scanner, logger *zap.Logger) *SandboxAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SandboxAnalyzer{backend: backend, scanners: scanners, logger: logger.Named("sandbox")}
}

func (s *SandboxAnalyzer) Name() string { return "sandbox" }

func (s *SandboxAnalyzer) Initialize(ctx context.Context) (Session, error) {
	env, err := s.backend.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", s.backend.Name(), err)
	}
	return &sandboxSession{s: s, env: env}, nil
}

type sandboxSession struct {
	s   *SandboxAnalyzer
	env Environment
}

func (ss *sandboxSession) Cleanup() error { return ss.env.Close() }

func (ss *sandboxSession) Analyze(ctx context.Context, req Request) ([]compliance.Finding, error) {
	logger := ss.s.logger
	n, err := Materialize(ss.env.Fs(), req.Files, logger)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	findings, err := ScanSecrets(ss.env.Fs())
	if err != nil {
		return nil, fmt.Errorf("secret scan: %w", err)
	}

	for _, sc := range ss.s.scanners {
		if len(sc.Command) == 0 {
			continue
		}
		argv := make([]string, len(sc.Command))
		for i, a := range sc.Command {
			argv[i] = strings.ReplaceAll(a, "{workspace}", ss.env.Root())
		}
		res, err := ss.env.Exec(ctx, argv[0], argv[1:]...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("scanner failed to run",
				zap.String("scanner", sc.Name),
				zap.Error(err))
			continue
		}

		var got []compliance.Finding
		switch sc.Format {
		case "semgrep":
			got, err = ParseSemgrep(res.Stdout, ss.env.Root())
		default:
			got, err = ParseFindingsOutput(res.Stdout)
		}
		if err != nil {
			logger.Warn("unparseable scanner output",
				zap.String("scanner", sc.Name),
				zap.Int("exit_code", res.ExitCode),
				zap.Error(err))
			continue
		}
		findings = append(findings, got...)
	}
	return findings, nil
}

// Materialize writes analyzable files into fs and returns how many were
// written. Paths that would escape the workspace are skipped.
func Materialize(fs afero.Fs, files []compliance.ChangedFile, logger *zap.Logger) (int, error) {
	written := 0
	for _, f := range files {
		if !f.Analyzable() || f.Text() == "" {
			continue
		}
		rel, ok := workspacePath(f.Filename)
		if !ok {
			if logger != nil {
				logger.Warn("skipping file outside workspace", zap.String("file", f.Filename))
			}
			continue
		}
		name := "/" + rel
		if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
			return written, fmt.Errorf("creating %s: %w", path.Dir(name), err)
		}
		if err := afero.WriteFile(fs, name, []byte(f.Text()), 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", rel, err)
		}
		written++
	}
	return written, nil
}

// workspacePath returns the cleaned relative path for name, or false if it
// is absolute or climbs out of the workspace.
func workspacePath(name string) (string, bool) {
	name = filepath.ToSlash(name)
	if name == "" || path.IsAbs(name) {
		return "", false
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// ScanSecrets walks fs and reports hardcoded secrets. Lines are counted from
// the start of each file.
func ScanSecrets(fs afero.Fs) ([]compliance.Finding, error) {
	var findings []compliance.Finding
	err := afero.Walk(fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Size() > maxScanBytes {
			return nil
		}
		data, err := afero.ReadFile(fs, p)
		if err != nil {
			return err
		}
		content := string(data)
		rel := strings.TrimPrefix(filepath.ToSlash(p), "/")
		for _, sp := range sandboxSecretPatterns {
			for _, loc := range sp.re.FindAllStringIndex(content, -1) {
				findings = append(findings, compliance.Finding{
					ID:       compliance.NewID(),
					Type:     compliance.CategorySecurity,
					Severity: compliance.SeverityCritical,
					Message:  "Hardcoded secret detected: " + sp.name,
					File:     rel,
					Line:     strings.Count(content[:loc[0]], "\n") + 1,
					Code:     content[loc[0]:loc[1]],
					RuleID:   "sandbox-security",
					RuleName: "Secret Detection",
					Source:   "sandbox",
				})
			}
		}
		return nil
	})
	return findings, err
}

type semgrepOutput struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
			Col  int `json:"col"`
		} `json:"start"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"` // INFO|WARNING|ERROR
			Lines    string `json:"lines"`
		} `json:"extra"`
	} `json:"results"`
}

// ParseSemgrep converts semgrep --json output. Paths are made relative to
// root.
func ParseSemgrep(out []byte, root string) ([]compliance.Finding, error) {
	var doc semgrepOutput
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("invalid semgrep JSON: %w", err)
	}
	prefix := strings.TrimSuffix(filepath.ToSlash(root), "/") + "/"
	findings := make([]compliance.Finding, 0, len(doc.Results))
	for _, r := range doc.Results {
		file := strings.TrimPrefix(filepath.ToSlash(r.Path), prefix)
		file = strings.TrimPrefix(file, "./")
		f := compliance.Finding{
			ID:       compliance.NewID(),
			Type:     compliance.CategorySecurity,
			Severity: semgrepSeverity(r.Extra.Severity),
			Message:  firstNonEmpty(r.Extra.Message, "Security issue detected"),
			File:     file,
			Code:     strings.TrimSpace(r.Extra.Lines),
			RuleID:   r.CheckID,
			RuleName: "Semgrep",
			Source:   "sandbox",
		}
		if r.Start.Line > 0 {
			f.Line = r.Start.Line
			if r.Start.Col > 0 {
				f.Column = compliance.ColumnOf(r.Start.Col - 1)
			}
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func semgrepSeverity(s string) compliance.Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return compliance.SeverityHigh
	case "WARNING":
		return compliance.SeverityMedium
	default:
		return compliance.SeverityInfo
	}
}

type rawSandboxFinding struct {
	Type          string `json:"type"`
	Severity      string `json:"severity"`
	Message       string `json:"message"`
	File          string `json:"file"`
	Line          int    `json:"line"`
	Column        *int   `json:"column"`
	Code          string `json:"code"`
	FixSuggestion string `json:"fixSuggestion"`
	RuleName      string `json:"ruleName"`
}

// ParseFindingsOutput extracts a {"findings": [...]} document from tool
// output that may carry other text around it. Type defaults to security and
// severity to medium.
func ParseFindingsOutput(out []byte) ([]compliance.Finding, error) {
	text := string(out)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start || !strings.Contains(text[start:end+1], `"findings"`) {
		return nil, errors.New("no findings JSON found in output")
	}

	var doc struct {
		Findings *[]rawSandboxFinding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("invalid findings JSON: %w", err)
	}
	if doc.Findings == nil {
		return nil, errors.New(`missing "findings" array`)
	}

	findings := make([]compliance.Finding, 0, len(*doc.Findings))
	for _, r := range *doc.Findings {
		if r.File == "" {
			continue
		}
		cat, err := compliance.ParseCategory(r.Type)
		if err != nil {
			cat = compliance.CategorySecurity
		}
		sev, err := compliance.ParseSeverity(r.Severity)
		if err != nil {
			sev = compliance.SeverityMedium
		}
		f := compliance.Finding{
			ID:            compliance.NewID(),
			Type:          cat,
			Severity:      sev,
			Message:       firstNonEmpty(r.Message, "Issue detected"),
			File:          r.File,
			Code:          r.Code,
			FixSuggestion: r.FixSuggestion,
			RuleID:        "sandbox-" + string(cat),
			RuleName:      firstNonEmpty(r.RuleName, "Sandbox Analysis"),
			Source:        "sandbox",
		}
		if r.Line > 0 {
			f.Line = r.Line
			if r.Column != nil && *r.Column >= 0 {
				f.Column = compliance.ColumnOf(*r.Column)
			}
		}
		findings = append(findings, f)
	}
	return findings, nil
}
