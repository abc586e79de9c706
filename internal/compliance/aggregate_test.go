package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDeduplicateFirstWins(t *testing.T) {
	findings := []Finding{
		{ID: "pattern", File: "a.js", Line: 1, Type: CategorySecurity, Message: "m", Severity: SeverityCritical},
		{ID: "sandbox", File: "a.js", Line: 1, Type: CategorySecurity, Message: "m", Severity: SeverityHigh},
		{ID: "other-line", File: "a.js", Line: 2, Type: CategorySecurity, Message: "m", Severity: SeverityHigh},
		{ID: "other-col", File: "a.js", Line: 1, Column: ColumnOf(9), Type: CategorySecurity, Message: "m"},
	}
	got := Deduplicate(findings)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "pattern", got[0].ID)
		assert.Equal(t, "other-line", got[1].ID)
	}
}

func TestComputeStats(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityCritical},
		{Severity: SeverityHigh},
		{Severity: SeverityHigh},
		{Severity: SeverityLow},
	}
	s := ComputeStats(findings, 3)
	assert.Equal(t, Stats{TotalFiles: 3, TotalFindings: 4, Critical: 1, High: 2, Low: 1}, s)
}

func TestTopFindings(t *testing.T) {
	findings := []Finding{
		{ID: "1", Severity: SeverityLow},
		{ID: "2", Severity: SeverityCritical},
		{ID: "3", Severity: SeverityHigh},
		{ID: "4", Severity: SeverityCritical},
	}
	top := TopFindings(findings, 3)
	ids := []string{top[0].ID, top[1].ID, top[2].ID}
	assert.Equal(t, []string{"2", "4", "3"}, ids)
	assert.Equal(t, "1", findings[0].ID, "input must not be reordered")
	assert.Equal(t, SeverityCritical, HighestSeverity(findings))
}

func TestSortFindings(t *testing.T) {
	findings := []Finding{
		{File: "b", Line: 2, Severity: SeverityLow},
		{File: "a", Line: 9, Severity: SeverityHigh},
		{File: "a", Line: 1, Severity: SeverityHigh},
	}
	SortFindings(findings)
	assert.Equal(t, 1, findings[0].Line)
	assert.Equal(t, 9, findings[1].Line)
	assert.Equal(t, "b", findings[2].File)
}

func genFinding() *rapid.Generator[Finding] {
	return rapid.Custom(func(t *rapid.T) Finding {
		return Finding{
			ID:       rapid.StringMatching(`[a-f0-9]{8}`).Draw(t, "id"),
			File:     rapid.SampledFrom([]string{"a.js", "b.py", "c.go"}).Draw(t, "file"),
			Line:     rapid.IntRange(0, 5).Draw(t, "line"),
			Type:     rapid.SampledFrom([]Category{CategorySecurity, CategoryLicense, CategoryQuality, CategoryCustom}).Draw(t, "type"),
			Message:  rapid.SampledFrom([]string{"x", "y"}).Draw(t, "message"),
			Severity: rapid.SampledFrom(Severities).Draw(t, "severity"),
		}
	})
}

// TestDeduplicate_KeysUnique checks that no two survivors share a dedup key.
func TestDeduplicate_KeysUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOf(genFinding()).Draw(t, "findings")
		out := Deduplicate(in)
		seen := map[DedupKey]bool{}
		for _, f := range out {
			k := KeyOf(f)
			if seen[k] {
				t.Fatalf("duplicate key %+v", k)
			}
			seen[k] = true
		}
		// every input key survives
		for _, f := range in {
			if !seen[KeyOf(f)] {
				t.Fatalf("key %+v dropped", KeyOf(f))
			}
		}
	})
}

// TestDeduplicate_Stable checks that repeated dedup of the same arrival order
// yields the same survivors.
func TestDeduplicate_Stable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOf(genFinding()).Draw(t, "findings")
		a := Deduplicate(in)
		b := Deduplicate(in)
		if len(a) != len(b) {
			t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if a[i].ID != b[i].ID {
				t.Fatalf("survivor %d differs: %s vs %s", i, a[i].ID, b[i].ID)
			}
		}
	})
}

// TestComputeStats_SumMatches checks that severity counts add up to the number
// of findings.
func TestComputeStats_SumMatches(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := Deduplicate(rapid.SliceOf(genFinding()).Draw(t, "findings"))
		s := ComputeStats(in, 0)
		if s.Sum() != len(in) || s.TotalFindings != len(in) {
			t.Fatalf("sum %d, total %d, want %d", s.Sum(), s.TotalFindings, len(in))
		}
	})
}
