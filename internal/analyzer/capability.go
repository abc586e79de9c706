package analyzer

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/rules"
)

// Request is one unit of analysis.
type Request struct {
	Target compliance.Target
	Files  []compliance.ChangedFile
	// CustomRules are described to the AI analyzer. Other analyzers ignore them.
	CustomRules []rules.Rule
	Focus       []string
}

// Capability is an analysis backend that must be initialized before use.
type Capability interface {
	Name() string
	Initialize(ctx context.Context) (Session, error)
}

// Session is an initialized capability. Cleanup must be called exactly once.
type Session interface {
	Analyze(ctx context.Context, req Request) ([]compliance.Finding, error)
	Cleanup() error
}

// Enrichment is a fix suggestion for an existing finding.
type Enrichment struct {
	FindingID     string `json:"id"`
	FixSuggestion string `json:"fix"`
}

// Enhancer is implemented by sessions that can suggest fixes for findings
// produced elsewhere.
type Enhancer interface {
	Enhance(ctx context.Context, findings []compliance.Finding) ([]Enrichment, error)
}

// Use initializes c, runs fn with the session and cleans up afterwards, even
// when fn fails or panics. Cleanup errors are logged, not returned.
func Use(ctx context.Context, c Capability, logger *zap.Logger, fn func(Session) error) error {
	s, err := c.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initializing %s: %w", c.Name(), err)
	}
	defer func() {
		if err := s.Cleanup(); err != nil && logger != nil {
			logger.Warn("capability cleanup failed",
				zap.String("capability", c.Name()),
				zap.Error(err))
		}
	}()
	return fn(s)
}

// SelectForEnhancement returns at most limit critical or high findings that
// have no fix suggestion, most severe first. Ties keep their input order.
func SelectForEnhancement(findings []compliance.Finding, limit int) []compliance.Finding {
	var out []compliance.Finding
	for _, f := range findings {
		if f.FixSuggestion != "" {
			continue
		}
		if f.Severity == compliance.SeverityCritical || f.Severity == compliance.SeverityHigh {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity > out[j].Severity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ApplyEnrichments sets fix suggestions on findings by id and returns how many
// findings changed. Unknown ids and empty suggestions are ignored.
func ApplyEnrichments(findings []compliance.Finding, enrichments []Enrichment) int {
	if len(enrichments) == 0 {
		return 0
	}
	byID := make(map[string]string, len(enrichments))
	for _, e := range enrichments {
		if e.FixSuggestion != "" {
			byID[e.FindingID] = e.FixSuggestion
		}
	}
	applied := 0
	for i := range findings {
		if fix, ok := byID[findings[i].ID]; ok {
			findings[i].FixSuggestion = fix
			applied++
		}
	}
	return applied
}
