package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/compliancebot/internal/compliance"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func finishedRun(t *testing.T, repo string, number int, started time.Time, findings ...compliance.Finding) *compliance.AnalysisRun {
	t.Helper()
	owner, name := "acme", repo
	run := compliance.NewRun(compliance.Target{Owner: owner, Repo: name, Number: number, HeadSHA: "abc"}, started)
	require.NoError(t, run.Start())
	require.NoError(t, run.AddStage(compliance.StageReport{Name: "rules", Status: compliance.StageOK, Findings: len(findings)}))
	require.NoError(t, run.Complete(findings, 2, started.Add(1500*time.Millisecond)))
	return run
}

func failedRun(t *testing.T, started time.Time) *compliance.AnalysisRun {
	t.Helper()
	run := compliance.NewRun(compliance.Target{Owner: "acme", Repo: "api", Number: 9}, started)
	require.NoError(t, run.Fail(assert.AnError, started.Add(time.Second)))
	return run
}

func sampleFinding(sev compliance.Severity, line int) compliance.Finding {
	f := compliance.Finding{
		ID:       compliance.NewID(),
		Type:     compliance.CategorySecurity,
		Severity: sev,
		Message:  "Hardcoded API key detected",
		File:     "config.js",
		Line:     line,
		RuleID:   "secret-api-key",
		RuleName: "Hardcoded API Key",
		Source:   "rules",
	}
	if line > 0 {
		f.Column = compliance.ColumnOf(4)
	}
	return f
}

// exerciseStore runs the shared contract against s.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	first := finishedRun(t, "api", 1, base,
		sampleFinding(compliance.SeverityCritical, 3),
		sampleFinding(compliance.SeverityLow, 0))
	second := finishedRun(t, "api", 2, base.Add(time.Minute), sampleFinding(compliance.SeverityHigh, 7))
	other := finishedRun(t, "web", 1, base.Add(2*time.Minute))
	failed := failedRun(t, base.Add(3*time.Minute))

	for _, r := range []*compliance.AnalysisRun{first, second, other, failed} {
		require.NoError(t, s.Save(ctx, r))
	}

	got, err := s.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "acme/api", got.Target.FullName())
	assert.Equal(t, compliance.RunCompleted, got.Status)
	assert.Equal(t, first.Stats, got.Stats)
	assert.Equal(t, int64(1500), got.DurationMs)
	require.Len(t, got.Findings, 2)
	assert.Equal(t, first.Findings[0].ID, got.Findings[0].ID)
	assert.Equal(t, compliance.SeverityCritical, got.Findings[0].Severity)
	require.NotNil(t, got.Findings[0].Column)
	assert.Equal(t, 4, *got.Findings[0].Column)
	assert.Nil(t, got.Findings[1].Column)
	assert.Equal(t, 0, got.Findings[1].Line)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "rules", got.Stages[0].Name)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, failed.ID, all[0].ID)
	assert.Equal(t, first.ID, all[3].ID)

	apiRuns, err := s.ListRuns(ctx, "acme/api", 1)
	require.NoError(t, err)
	require.Len(t, apiRuns, 1)
	assert.Equal(t, second.ID, apiRuns[0].ID)
	assert.Len(t, apiRuns[0].Findings, 1)

	failedGot, err := s.GetRun(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, compliance.RunFailed, failedGot.Status)
	assert.Equal(t, assert.AnError.Error(), failedGot.Error)
	assert.Empty(t, failedGot.Findings)

	sum, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalAnalyses)
	assert.Equal(t, 3, sum.TotalFindings)
	assert.Equal(t, 1, sum.Critical)
	assert.Equal(t, 1, sum.High)
	assert.Equal(t, 1, sum.Low)
	assert.InDelta(t, 1500, sum.AvgDurationMs, 0.001)

	require.NoError(t, s.Health(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_RejectsNonTerminalAndDuplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pending := compliance.NewRun(compliance.Target{Owner: "acme", Repo: "api", Number: 1}, base)
	assert.Error(t, s.Save(ctx, pending))
	assert.Error(t, s.Save(ctx, nil))

	run := finishedRun(t, "api", 1, base)
	require.NoError(t, s.Save(ctx, run))
	assert.Error(t, s.Save(ctx, run))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	run := finishedRun(t, "api", 1, base, sampleFinding(compliance.SeverityHigh, 2))
	require.NoError(t, s.Save(ctx, run))

	run.Findings[0].Message = "mutated after save"
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hardcoded API key detected", got.Findings[0].Message)

	*got.Findings[0].Column = 99
	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, *again.Findings[0].Column)
}

func TestMemoryStore_EmptyStats(t *testing.T) {
	sum, err := NewMemoryStore().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestNewStore_EmptyDSNIsMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, s.Close())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("COMPLIANCEBOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("COMPLIANCEBOT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.db.ExecContext(ctx, `TRUNCATE analyses CASCADE`)
	require.NoError(t, err)

	exerciseStore(t, s)
}
