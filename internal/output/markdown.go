package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dshills/compliancebot/internal/compliance"
)

// TopFindingsLimit is how many findings the summary comment lists.
const TopFindingsLimit = 5

// MarkdownWriter outputs the pull-request summary comment.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, run *compliance.AnalysisRun) error {
	_, err := io.WriteString(w, Summary(run))
	return err
}

var severityEmoji = map[compliance.Severity]string{
	compliance.SeverityCritical: "🔴",
	compliance.SeverityHigh:     "🟠",
	compliance.SeverityMedium:   "🟡",
	compliance.SeverityLow:      "🔵",
	compliance.SeverityInfo:     "⚪",
}

// SeverityEmoji returns the colored marker for s.
func SeverityEmoji(s compliance.Severity) string {
	if e, ok := severityEmoji[s]; ok {
		return e
	}
	return "⚪"
}

var severityLabels = map[compliance.Severity]string{
	compliance.SeverityCritical: "Critical",
	compliance.SeverityHigh:     "High",
	compliance.SeverityMedium:   "Medium",
	compliance.SeverityLow:      "Low",
	compliance.SeverityInfo:     "Info",
}

// StatusLine summarizes the outcome in one line.
func StatusLine(run *compliance.AnalysisRun) string {
	switch {
	case run.Status == compliance.RunFailed:
		return "❌ Analysis failed"
	case run.Stats.Critical > 0:
		return "❌ Critical issues found"
	case run.Stats.High > 0:
		return "⚠️  Issues found"
	default:
		return "✅ No critical issues"
	}
}

// Summary renders the summary comment posted on a pull request.
func Summary(run *compliance.AnalysisRun) string {
	var b strings.Builder
	b.WriteString("## 🛡️ Compliance Analysis Results\n\n")
	fmt.Fprintf(&b, "**Status:** %s\n\n", StatusLine(run))

	if run.Status == compliance.RunFailed {
		if run.Error != "" {
			fmt.Fprintf(&b, "The analysis could not be completed:\n\n```\n%s\n```\n\n", run.Error)
		}
		writeCommands(&b)
		return b.String()
	}

	s := run.Stats
	b.WriteString("### 📊 Summary\n")
	fmt.Fprintf(&b, "- **Total Findings:** %d\n", s.TotalFindings)
	fmt.Fprintf(&b, "- **Files Analyzed:** %d\n", s.TotalFiles)
	fmt.Fprintf(&b, "- **Duration:** %.2fs\n\n", run.Duration().Seconds())

	b.WriteString("### 🎯 Findings by Severity\n")
	b.WriteString("| Severity | Count |\n")
	b.WriteString("|----------|-------|\n")
	for _, sev := range compliance.Severities {
		fmt.Fprintf(&b, "| %s %s | %d |\n", SeverityEmoji(sev), severityLabels[sev], s.Count(sev))
	}
	b.WriteString("\n")

	if top := compliance.TopFindings(run.Findings, TopFindingsLimit); len(top) > 0 {
		b.WriteString("### 🔍 Top Findings\n\n")
		for i, f := range top {
			fmt.Fprintf(&b, "%d. %s **%s** in `%s`", i+1, SeverityEmoji(f.Severity), f.RuleName, f.File)
			if f.HasLine() {
				fmt.Fprintf(&b, ":%d", f.Line)
			}
			b.WriteString("\n")
			fmt.Fprintf(&b, "   %s\n\n", f.Message)
		}
	}

	writeCommands(&b)
	return b.String()
}

func writeCommands(b *strings.Builder) {
	b.WriteString("\n---\n")
	b.WriteString("💡 **Commands:**\n")
	b.WriteString("- `@compliance-bot scan` - Re-run analysis\n")
	b.WriteString("- `@compliance-bot fix` - Create PR with automated fixes\n")
}

// InlineComment renders the review comment for a single finding.
func InlineComment(f compliance.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** (%s)\n\n", SeverityEmoji(f.Severity), f.RuleName, f.Severity)
	fmt.Fprintf(&b, "%s\n\n", f.Message)
	if f.FixSuggestion != "" {
		fmt.Fprintf(&b, "**💡 Suggested Fix:**\n%s\n\n", f.FixSuggestion)
	}
	return b.String()
}

// CheckTitle is the title of the completed check run.
func CheckTitle(run *compliance.AnalysisRun) string {
	if run.Status == compliance.RunFailed {
		return "Compliance Analysis Failed"
	}
	return "Compliance Analysis Complete"
}

// CheckSummary renders the check run summary text.
func CheckSummary(run *compliance.AnalysisRun) string {
	if run.Status == compliance.RunFailed {
		return "Analysis failed: " + run.Error + "\n"
	}
	s := run.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d files and found %d issues.\n\n", s.TotalFiles, s.TotalFindings)
	for _, sev := range compliance.Severities {
		fmt.Fprintf(&b, "- %s: %d\n", severityLabels[sev], s.Count(sev))
	}
	return b.String()
}
