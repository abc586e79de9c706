// Package compliance defines the shared data model of the compliance pipeline.
//
// A [Finding] is one reported issue tied to a file, with a ranked [Severity]
// (critical > high > medium > low > info) and a [Category] that mirrors the
// category of the rule that produced it. Findings are produced by the pattern
// matcher, the sandbox analyzer and the AI analyzer, then merged by
// [Deduplicate] and summarized by [ComputeStats].
//
// An [AnalysisRun] is the terminal record of one pipeline execution for one
// [Target]. It starts pending, moves to running, and is frozen as completed or
// failed. Once terminal, its state transition methods return [ErrRunTerminal].
//
// The dedup key is (file, line, type, message). Two matches on the same line
// that differ only in column collapse into one finding.
package compliance
