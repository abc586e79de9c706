// Package output formats analysis runs for display or machine consumption.
//
// Four formats are supported:
//   - text     - human-readable terminal output (default)
//   - json     - the full run as JSON
//   - markdown - the pull-request summary comment
//   - sarif    - SARIF v2.1.0 for upload to GitHub code scanning and other CI tools
//
// Use [GetWriter] to obtain a [Writer] for a given format string, then call
// [Writer.Write] with an [io.Writer] and a [*compliance.AnalysisRun]. The
// markdown helpers ([Summary], [InlineComment], [CheckSummary]) are also
// used directly when publishing to GitHub.
package output
