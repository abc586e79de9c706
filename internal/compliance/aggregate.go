package compliance

import (
	"sort"
)

// DedupKey identifies duplicate findings across stages.
type DedupKey struct {
	File    string
	Line    int
	Type    Category
	Message string
}

// KeyOf returns the dedup key of f.
func KeyOf(f Finding) DedupKey {
	return DedupKey{File: f.File, Line: f.Line, Type: f.Type, Message: f.Message}
}

// Deduplicate keeps the first finding for each dedup key, preserving arrival order.
func Deduplicate(findings []Finding) []Finding {
	seen := make(map[DedupKey]struct{}, len(findings))
	result := make([]Finding, 0, len(findings))
	for _, f := range findings {
		k := KeyOf(f)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, f)
	}
	return result
}

// ComputeStats counts findings per severity.
func ComputeStats(findings []Finding, totalFiles int) Stats {
	s := Stats{TotalFiles: totalFiles, TotalFindings: len(findings)}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		default:
			// unranked severities count as info
			s.Info++
		}
	}
	return s
}

// SortFindings orders findings by severity (most severe first), then path,
// then line. Equal findings keep their relative order.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Line < findings[j].Line
	})
}

// TopFindings returns up to n findings, most severe first, without modifying
// the input.
func TopFindings(findings []Finding, n int) []Finding {
	sorted := append([]Finding{}, findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity > sorted[j].Severity
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// HighestSeverity returns the most severe value in findings, or 0 when empty.
func HighestSeverity(findings []Finding) Severity {
	var highest Severity
	for _, f := range findings {
		if f.Severity > highest {
			highest = f.Severity
		}
	}
	return highest
}
