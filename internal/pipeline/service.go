package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/compliance"
)

// Recorder persists terminal runs.
type Recorder interface {
	Save(ctx context.Context, run *compliance.AnalysisRun) error
}

// Notifier publishes results back to the review system.
type Notifier interface {
	// StartCheck opens an in-progress status for target and returns its id.
	StartCheck(ctx context.Context, target compliance.Target) (int64, error)
	// Publish posts the run summary and completes the check. checkID may be
	// zero when no check could be opened.
	Publish(ctx context.Context, run *compliance.AnalysisRun, checkID int64) error
	Reply(ctx context.Context, target compliance.Target, body string) error
}

// Service analyzes targets and hands the results to a store and a notifier.
// Either may be nil.
type Service struct {
	orch     *Orchestrator
	source   Source
	store    Recorder
	notifier Notifier
	logger   *zap.Logger
}

// NewService returns a service resolving targets with source.
func NewService(orch *Orchestrator, source Source, store Recorder, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orch:     orch,
		source:   source,
		store:    store,
		notifier: notifier,
		logger:   logger.Named("service"),
	}
}

// Analyze runs the pipeline for target, persists the run and publishes it.
// Persistence and notification failures are logged only.
//
// The returned run is never nil and always terminal, including when the
// pipeline could not start: a failed run is persisted and published like a
// completed one. The error is set only for a failed run and is the
// *compliance.FatalError that caused it. It describes the run rather than a
// failure of Analyze, and callers use it to classify the failure (for
// example authentication against other runtime errors).
func (s *Service) Analyze(ctx context.Context, target compliance.Target) (*compliance.AnalysisRun, error) {
	var checkID int64
	if s.notifier != nil {
		id, err := s.notifier.StartCheck(ctx, target)
		if err != nil {
			s.logger.Error("opening check failed", zap.Stringer("target", target), zap.Error(err))
		}
		checkID = id
	}

	run, runErr := s.orch.Run(ctx, s.source, target)

	if s.store != nil {
		if err := s.store.Save(ctx, run); err != nil {
			s.logger.Error("persisting run failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, run, checkID); err != nil {
			s.logger.Error("publishing run failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return run, runErr
}

// Reply posts a plain-text message on target.
func (s *Service) Reply(ctx context.Context, target compliance.Target, body string) error {
	if s.notifier == nil {
		s.logger.Info("reply", zap.Stringer("target", target), zap.String("body", body))
		return nil
	}
	return s.notifier.Reply(ctx, target, body)
}
