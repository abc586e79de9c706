package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/compliancebot/internal/compliance"
)

// MemoryStore keeps runs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*compliance.AnalysisRun
	seq  map[string]int
	next int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*compliance.AnalysisRun),
		seq:  make(map[string]int),
	}
}

func (m *MemoryStore) Save(ctx context.Context, run *compliance.AnalysisRun) error {
	if err := checkSavable(run); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("saving run %s: already exists", run.ID)
	}
	m.runs[run.ID] = cloneRun(run)
	m.seq[run.ID] = m.next
	m.next++
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id string) (*compliance.AnalysisRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, repo string, limit int) ([]*compliance.AnalysisRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*compliance.AnalysisRun
	for _, run := range m.runs {
		if repo != "" && run.Target.FullName() != repo {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	for i, run := range out {
		out[i] = cloneRun(run)
	}
	return out, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Summary
	var totalMs int64
	for _, run := range m.runs {
		if run.Status != compliance.RunCompleted {
			continue
		}
		s.add(run)
		totalMs += run.DurationMs
	}
	if s.TotalAnalyses > 0 {
		s.AvgDurationMs = float64(totalMs) / float64(s.TotalAnalyses)
	}
	return s, nil
}

func (m *MemoryStore) Health(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func cloneRun(run *compliance.AnalysisRun) *compliance.AnalysisRun {
	c := *run
	c.Findings = make([]compliance.Finding, len(run.Findings))
	for i, f := range run.Findings {
		if f.Column != nil {
			f.Column = compliance.ColumnOf(*f.Column)
		}
		c.Findings[i] = f
	}
	c.Stages = append([]compliance.StageReport(nil), run.Stages...)
	return &c
}
