package compliance

import (
	"time"
)

// RunStatus is the lifecycle status of an AnalysisRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StageStatus records how a single pipeline stage ended.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// StageReport summarizes one stage of a run.
type StageReport struct {
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	Findings   int         `json:"findings"`
	DurationMs int64       `json:"durationMs"`
	Error      string      `json:"error,omitempty"`
}

// Stats is the per-severity summary of a run's findings.
type Stats struct {
	TotalFiles    int `json:"totalFiles"`
	TotalFindings int `json:"totalFindings"`
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	Info          int `json:"info"`
}

// Count returns the number of findings with the given severity.
func (s Stats) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	case SeverityInfo:
		return s.Info
	}
	return 0
}

// Sum adds up the per-severity counts.
func (s Stats) Sum() int {
	return s.Critical + s.High + s.Medium + s.Low + s.Info
}

// Conclusion is the terminal status attached to a review request.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionNeutral Conclusion = "neutral"
	ConclusionFailure Conclusion = "failure"
)

// Conclusion maps the stats to a check conclusion: any critical finding fails,
// any high finding is neutral, everything else succeeds.
func (s Stats) Conclusion() Conclusion {
	switch {
	case s.Critical > 0:
		return ConclusionFailure
	case s.High > 0:
		return ConclusionNeutral
	default:
		return ConclusionSuccess
	}
}

// AnalysisRun is the record of one pipeline execution.
type AnalysisRun struct {
	ID         string        `json:"id"`
	Target     Target        `json:"target"`
	Status     RunStatus     `json:"status"`
	Findings   []Finding     `json:"findings"`
	StartedAt  time.Time     `json:"startedAt"`
	DurationMs int64         `json:"durationMs"`
	Stats      Stats         `json:"stats"`
	Stages     []StageReport `json:"stages,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// NewRun creates a pending run for target.
func NewRun(target Target, now time.Time) *AnalysisRun {
	return &AnalysisRun{
		ID:        NewID(),
		Target:    target,
		Status:    RunPending,
		Findings:  []Finding{},
		StartedAt: now,
	}
}

// Start moves a pending run to running.
func (r *AnalysisRun) Start() error {
	if r.Status.Terminal() {
		return ErrRunTerminal
	}
	r.Status = RunRunning
	return nil
}

// AddStage appends a stage report to a non-terminal run.
func (r *AnalysisRun) AddStage(report StageReport) error {
	if r.Status.Terminal() {
		return ErrRunTerminal
	}
	r.Stages = append(r.Stages, report)
	return nil
}

// Complete freezes the run with its final findings.
func (r *AnalysisRun) Complete(findings []Finding, totalFiles int, now time.Time) error {
	if r.Status.Terminal() {
		return ErrRunTerminal
	}
	r.Findings = append([]Finding{}, findings...)
	r.Stats = ComputeStats(r.Findings, totalFiles)
	r.Status = RunCompleted
	r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
	return nil
}

// Fail freezes the run as failed with no findings and zero stats.
func (r *AnalysisRun) Fail(cause error, now time.Time) error {
	if r.Status.Terminal() {
		return ErrRunTerminal
	}
	r.Findings = []Finding{}
	r.Stats = Stats{}
	r.Status = RunFailed
	if cause != nil {
		r.Error = cause.Error()
	}
	r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
	return nil
}

// Duration returns the recorded run duration.
func (r *AnalysisRun) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// Conclusion returns the check conclusion for the run. Failed runs always fail.
func (r *AnalysisRun) Conclusion() Conclusion {
	if r.Status == RunFailed {
		return ConclusionFailure
	}
	return r.Stats.Conclusion()
}
