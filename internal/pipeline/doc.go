// Package pipeline runs compliance analysis for one review request.
//
// An Orchestrator resolves the changed files of a target and passes them
// through three stages in a fixed order: the pattern matcher, the sandbox
// analyzer and the AI analyzer. A stage that errors, panics or exceeds its
// timeout is recorded as failed and contributes no findings; the run still
// completes. Only a failure to resolve the target fails the run.
//
// After the stages the findings are deduplicated and the run is frozen with
// its statistics. A Service wraps the orchestrator with persistence and
// notification for callers that analyze GitHub pull requests.
package pipeline
