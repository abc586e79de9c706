package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/analyzer"
	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/metrics"
	"github.com/dshills/compliancebot/internal/rules"
)

const tracerName = "github.com/dshills/compliancebot/internal/pipeline"

// Stage names as they appear in stage reports, logs and metrics.
const (
	StageRules   = "rules"
	StageSandbox = "sandbox"
	StageAI      = "ai"
)

// Source resolves a target to its changed files. It may fill in target
// metadata such as the head SHA and title.
type Source interface {
	Resolve(ctx context.Context, target compliance.Target) (compliance.Target, []compliance.ChangedFile, error)
}

// StaticSource serves a fixed set of files.
type StaticSource struct {
	Files []compliance.ChangedFile
}

func (s StaticSource) Resolve(ctx context.Context, target compliance.Target) (compliance.Target, []compliance.ChangedFile, error) {
	return target, s.Files, nil
}

// Snapshotter provides the rule set a run starts with.
type Snapshotter interface {
	Snapshot() rules.Snapshot
}

// Timeouts bound each stage. Zero values take the defaults.
type Timeouts struct {
	Rules   time.Duration
	Sandbox time.Duration
	AI      time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Rules <= 0 {
		t.Rules = 30 * time.Second
	}
	if t.Sandbox <= 0 {
		t.Sandbox = 5 * time.Minute
	}
	if t.AI <= 0 {
		t.AI = 2 * time.Minute
	}
	return t
}

// Options configures an Orchestrator.
type Options struct {
	// Sandbox and AI are optional. A nil capability is recorded as a skipped
	// stage.
	Sandbox  analyzer.Capability
	AI       analyzer.Capability
	Timeouts Timeouts
	Focus    []string
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// OnTransition is called for every state change of a run.
	OnTransition func(runID string, from, to State)
}

// Orchestrator runs the analysis state machine. It is safe for concurrent
// use; runs share nothing but the catalog snapshot they start from.
type Orchestrator struct {
	catalog      Snapshotter
	sandbox      analyzer.Capability
	ai           analyzer.Capability
	timeouts     Timeouts
	focus        []string
	logger       *zap.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	onTransition func(string, State, State)
	now          func() time.Time
}

// New returns an orchestrator over catalog.
func New(catalog Snapshotter, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		catalog:      catalog,
		sandbox:      opts.Sandbox,
		ai:           opts.AI,
		timeouts:     opts.Timeouts.withDefaults(),
		focus:        opts.Focus,
		logger:       logger.Named("pipeline"),
		metrics:      opts.Metrics,
		tracer:       otel.Tracer(tracerName),
		onTransition: opts.OnTransition,
		now:          time.Now,
	}
}

// stageResult is what a stage hands back to the orchestrator.
type stageResult struct {
	findings    []compliance.Finding
	enrichments []analyzer.Enrichment
}

// runState carries one run through the machine.
type runState struct {
	run      *compliance.AnalysisRun
	state    State
	findings []compliance.Finding
	logger   *zap.Logger
}

// Run analyzes target. The returned run is always terminal. The error is
// non-nil only when the run failed, and is then a *compliance.FatalError.
func (o *Orchestrator) Run(ctx context.Context, src Source, target compliance.Target) (*compliance.AnalysisRun, error) {
	snap := o.catalog.Snapshot()
	run := compliance.NewRun(target, o.now())
	_ = run.Start()

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("repo", target.FullName()),
		attribute.Int("number", target.Number),
	))
	defer span.End()

	rs := &runState{
		run:    run,
		state:  StateInit,
		logger: o.logger.With(zap.String("run_id", run.ID), zap.Stringer("target", target)),
	}
	rs.logger.Info("analysis started", zap.Int("rules", snap.Len()))

	resolved, files, err := src.Resolve(ctx, target)
	if err != nil {
		fatal := &compliance.FatalError{Err: fmt.Errorf("resolving %s: %w", target, err)}
		o.transition(rs, StateFailed)
		_ = run.Fail(fatal, o.now())
		rs.logger.Error("analysis failed", zap.Error(fatal))
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
		o.metrics.RecordRun(string(run.Status), run.Duration())
		return run, fatal
	}
	run.Target = resolved

	req := analyzer.Request{
		Target:      resolved,
		Files:       files,
		CustomRules: snap.Custom(),
		Focus:       o.focus,
	}

	o.applyStage(ctx, rs, StageRules, o.timeouts.Rules, true, func(ctx context.Context) (stageResult, error) {
		matcher := rules.NewMatcher(snap, rs.logger).WithMetrics(o.metrics)
		found, err := matcher.Match(ctx, files)
		return stageResult{findings: found}, err
	})

	o.applyStage(ctx, rs, StageSandbox, o.timeouts.Sandbox, o.sandbox != nil, func(ctx context.Context) (stageResult, error) {
		var res stageResult
		err := analyzer.Use(ctx, o.sandbox, rs.logger, func(s analyzer.Session) error {
			found, err := s.Analyze(ctx, req)
			res.findings = found
			return err
		})
		return res, err
	})

	prior := append([]compliance.Finding(nil), rs.findings...)
	o.applyStage(ctx, rs, StageAI, o.timeouts.AI, o.ai != nil, func(ctx context.Context) (stageResult, error) {
		return o.aiStage(ctx, rs.logger, req, prior)
	})

	rs.findings = compliance.Deduplicate(rs.findings)
	o.transition(rs, StateDeduplicated)

	o.transition(rs, StateCompleted)
	_ = run.Complete(rs.findings, len(files), o.now())

	span.SetAttributes(attribute.Int("findings", run.Stats.TotalFindings))
	rs.logger.Info("analysis completed",
		zap.Int("files", run.Stats.TotalFiles),
		zap.Int("findings", run.Stats.TotalFindings),
		zap.Int64("duration_ms", run.DurationMs))
	o.metrics.RecordRun(string(run.Status), run.Duration())
	for _, sev := range compliance.Severities {
		o.metrics.RecordFindings(sev.String(), run.Stats.Count(sev))
	}
	return run, nil
}

// aiStage finds new issues and then asks for fixes for every finding so
// far. A failed enhancement keeps the new findings.
func (o *Orchestrator) aiStage(ctx context.Context, logger *zap.Logger, req analyzer.Request, prior []compliance.Finding) (stageResult, error) {
	var res stageResult
	err := analyzer.Use(ctx, o.ai, logger, func(s analyzer.Session) error {
		found, err := s.Analyze(ctx, req)
		if err != nil {
			return err
		}
		res.findings = found

		enh, ok := s.(analyzer.Enhancer)
		if !ok {
			return nil
		}
		all := append(append([]compliance.Finding(nil), prior...), found...)
		enrichments, err := enh.Enhance(ctx, all)
		if err != nil {
			logger.Warn("fix suggestion request failed", zap.Error(err))
			return nil
		}
		res.enrichments = enrichments
		return nil
	})
	return res, err
}

// applyStage runs one stage, records its report and advances the machine
// whatever the outcome.
func (o *Orchestrator) applyStage(ctx context.Context, rs *runState, name string, timeout time.Duration, enabled bool, fn func(context.Context) (stageResult, error)) {
	report := compliance.StageReport{Name: name, Status: compliance.StageSkipped}
	if enabled {
		start := time.Now()
		res, err := o.runStage(ctx, rs, name, timeout, fn)
		report.DurationMs = time.Since(start).Milliseconds()
		if err != nil {
			report.Status = compliance.StageFailed
			report.Error = err.Error()
		} else {
			report.Status = compliance.StageOK
			report.Findings = len(res.findings)
			rs.findings = append(rs.findings, res.findings...)
			if n := analyzer.ApplyEnrichments(rs.findings, res.enrichments); n > 0 {
				rs.logger.Debug("applied fix suggestions", zap.Int("count", n))
			}
		}
		o.metrics.RecordStage(name, string(report.Status), time.Since(start))
	} else {
		rs.logger.Debug("stage skipped", zap.String("stage", name))
		o.metrics.RecordStage(name, string(report.Status), 0)
	}
	_ = rs.run.AddStage(report)
	o.transition(rs, rs.state.next())
}

type stageOutcome struct {
	res stageResult
	err error
}

// runStage executes fn with a deadline. Errors, panics and timeouts come back
// as a *compliance.StageError.
func (o *Orchestrator) runStage(ctx context.Context, rs *runState, name string, timeout time.Duration, fn func(context.Context) (stageResult, error)) (stageResult, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+name, trace.WithAttributes(
		attribute.String("stage", name),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan stageOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := fn(ctx)
		done <- stageOutcome{res: res, err: err}
	}()

	var out stageOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
	}

	if out.err != nil {
		err := &compliance.StageError{Stage: name, Err: out.err}
		rs.logger.Error("stage failed", zap.String("stage", name), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stageResult{}, err
	}
	span.SetAttributes(attribute.Int("findings", len(out.res.findings)))
	return out.res, nil
}

func (o *Orchestrator) transition(rs *runState, to State) {
	from := rs.state
	rs.state = to
	rs.logger.Debug("state transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	if o.onTransition != nil {
		o.onTransition(rs.run.ID, from, to)
	}
}
