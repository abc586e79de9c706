package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/compliancebot/internal/compliance"
)

// DefaultListLimit is used when ListRuns is called without a limit.
const DefaultListLimit = 50

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("analysis not found")

// Store persists terminal analysis runs.
type Store interface {
	// Save records a terminal run and its findings atomically.
	Save(ctx context.Context, run *compliance.AnalysisRun) error
	GetRun(ctx context.Context, id string) (*compliance.AnalysisRun, error)
	// ListRuns returns the most recent runs first. An empty repo lists every
	// repository.
	ListRuns(ctx context.Context, repo string, limit int) ([]*compliance.AnalysisRun, error)
	Stats(ctx context.Context) (Summary, error)
	Health(ctx context.Context) error
	Close() error
}

// Summary aggregates every completed run.
type Summary struct {
	TotalAnalyses int     `json:"totalAnalyses"`
	TotalFindings int     `json:"totalFindings"`
	Critical      int     `json:"critical"`
	High          int     `json:"high"`
	Medium        int     `json:"medium"`
	Low           int     `json:"low"`
	Info          int     `json:"info"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

func (s *Summary) add(run *compliance.AnalysisRun) {
	s.TotalAnalyses++
	s.TotalFindings += run.Stats.TotalFindings
	s.Critical += run.Stats.Critical
	s.High += run.Stats.High
	s.Medium += run.Stats.Medium
	s.Low += run.Stats.Low
	s.Info += run.Stats.Info
}

// NewStore opens a Postgres store for dsn, or a memory store when dsn is
// empty.
func NewStore(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, dsn)
}

func checkSavable(run *compliance.AnalysisRun) error {
	if run == nil {
		return fmt.Errorf("saving run: nil run")
	}
	if !run.Status.Terminal() {
		return fmt.Errorf("saving run %s: status %s is not terminal", run.ID, run.Status)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
