// Package analyzer wraps the external analysis backends behind a common
// lifecycle.
//
// A [Capability] is initialized into a [Session], the session analyzes one
// request, and the session is always cleaned up. [Use] enforces that scope.
//
// Two capabilities exist. [SandboxAnalyzer] copies the changed files into a
// disposable workspace from a [Backend] (a local temp directory or a locked
// down docker container) and scans them there: an in-process secret scan plus
// any configured external scanners such as semgrep. [AIAnalyzer] sends files
// in batches to an LLM and parses its JSON reply. Its session also implements
// [Enhancer], which asks the LLM for fix suggestions on the most severe
// findings that lack one.
//
// Malformed backend output never fails a session. It is logged and treated as
// no findings.
package analyzer
