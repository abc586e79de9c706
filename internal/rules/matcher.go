package rules

import (
	"context"

	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/metrics"
)

// Matcher evaluates a compiled snapshot against changed files.
type Matcher struct {
	evaluators []Evaluator
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewMatcher compiles every rule in snap. Rules that fail to compile are
// logged and left out.
func NewMatcher(snap Snapshot, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Matcher{logger: logger}
	for _, r := range snap.rules {
		ev, err := Compile(r, snap.advisories)
		if err != nil {
			logger.Warn("skipping rule",
				zap.String("rule_id", r.ID),
				zap.Error(err))
			continue
		}
		m.evaluators = append(m.evaluators, ev)
	}
	return m
}

// WithMetrics counts rule evaluation errors on m.
func (m *Matcher) WithMetrics(mt *metrics.Metrics) *Matcher {
	m.metrics = mt
	return m
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int { return len(m.evaluators) }

// Match applies every rule to every analyzable file with content. Findings
// are ordered by file, then rule, then position.
func (m *Matcher) Match(ctx context.Context, files []compliance.ChangedFile) ([]compliance.Finding, error) {
	var findings []compliance.Finding
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		if !f.Analyzable() {
			continue
		}
		content := f.Text()
		if content == "" {
			continue
		}
		for _, ev := range m.evaluators {
			got, err := ev.Evaluate(f.Filename, content)
			if err != nil {
				m.logger.Warn("rule evaluation failed",
					zap.String("rule_id", ev.Rule().ID),
					zap.String("file", f.Filename),
					zap.Error(err))
				m.metrics.RecordRuleError(ev.Rule().ID)
				continue
			}
			findings = append(findings, got...)
		}
	}
	return findings, nil
}
