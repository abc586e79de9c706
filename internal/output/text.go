package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dshills/compliancebot/internal/compliance"
)

// TextWriter outputs a human-readable text report.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, run *compliance.AnalysisRun) error {
	ew := &errWriter{w: w}

	ew.printf("Compliance Analysis: %s\n", targetLabel(run.Target))
	ew.println(strings.Repeat("─", 60))

	if run.Status == compliance.RunFailed {
		ew.printf("Analysis failed: %s\n", run.Error)
		return ew.err
	}

	s := run.Stats
	ew.printf("Files: %d | Findings: %d", s.TotalFiles, s.TotalFindings)
	if s.TotalFindings > 0 {
		ew.printf(" (%d critical, %d high, %d medium, %d low, %d info)",
			s.Critical, s.High, s.Medium, s.Low, s.Info)
	}
	ew.println("")
	ew.println(strings.Repeat("─", 60))

	if s.TotalFindings == 0 {
		ew.println("\nNo issues found. Looks good!")
		writeStages(ew, run)
		return ew.err
	}

	sorted := append([]compliance.Finding(nil), run.Findings...)
	compliance.SortFindings(sorted)

	grouped := groupBySeverity(sorted)
	for _, sev := range compliance.Severities {
		findings := grouped[sev]
		if len(findings) == 0 {
			continue
		}

		ew.printf("\n%s %s\n", severityIcon(sev), strings.ToUpper(sev.String()))
		ew.println(strings.Repeat("─", 40))

		for _, f := range findings {
			ew.printf("\n  %s  %s [%s]\n", location(f), f.RuleName, f.RuleID)
			for _, line := range wrapText(f.Message, 70) {
				ew.printf("    %s\n", line)
			}
			if f.Code != "" {
				ew.printf("    > %s\n", f.Code)
			}
			if f.FixSuggestion != "" {
				ew.println("  Fix:")
				for _, line := range wrapText(f.FixSuggestion, 70) {
					ew.printf("    %s\n", line)
				}
			}
		}
	}

	writeStages(ew, run)
	return ew.err
}

func writeStages(ew *errWriter, run *compliance.AnalysisRun) {
	ew.printf("\n%s\n", strings.Repeat("─", 60))
	for _, st := range run.Stages {
		ew.printf("%-8s %-7s %3d findings  %dms", st.Name, st.Status, st.Findings, st.DurationMs)
		if st.Error != "" {
			ew.printf("  (%s)", st.Error)
		}
		ew.println("")
	}
	ew.printf("Completed in %dms\n", run.DurationMs)
}

func targetLabel(t compliance.Target) string {
	if t.Owner == "" && t.Repo == "" {
		if t.Branch != "" {
			return "local changes on " + t.Branch
		}
		return "local changes"
	}
	return t.String()
}

func location(f compliance.Finding) string {
	switch {
	case !f.HasLine():
		return f.File
	case f.Column != nil:
		return fmt.Sprintf("%s:%d:%d", f.File, f.Line, *f.Column+1)
	default:
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
}

func groupBySeverity(findings []compliance.Finding) map[compliance.Severity][]compliance.Finding {
	m := make(map[compliance.Severity][]compliance.Finding)
	for _, f := range findings {
		m[f.Severity] = append(m[f.Severity], f)
	}
	return m
}

func severityIcon(s compliance.Severity) string {
	switch s {
	case compliance.SeverityCritical:
		return "[!!!]"
	case compliance.SeverityHigh:
		return "[!!]"
	case compliance.SeverityMedium:
		return "[!]"
	case compliance.SeverityLow:
		return "[-]"
	default:
		return "[i]"
	}
}

func wrapText(text string, width int) []string {
	if len(text) <= width {
		return []string{text}
	}
	var lines []string
	words := strings.Fields(text)
	var current strings.Builder
	for _, word := range words {
		if current.Len()+len(word)+1 > width && current.Len() > 0 {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
