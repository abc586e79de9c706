// Package metrics exposes Prometheus instruments for the analysis pipeline
// and its surfaces. Every recording method is safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for compliancebot.
type Metrics struct {
	// Pipeline metrics
	Runs          *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	StageDuration *prometheus.HistogramVec
	StageResults  *prometheus.CounterVec
	Findings      *prometheus.CounterVec
	RuleErrors    *prometheus.CounterVec

	// Provider metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter

	// Surface metrics
	WebhookEvents *prometheus.CounterVec
	JobsRejected  prometheus.Counter
	Commands      *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliancebot_runs_total",
				Help: "Total number of analysis runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "compliancebot_run_duration_seconds",
				Help:    "Analysis run duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compliancebot_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		StageResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliancebot_stage_results_total",
				Help: "Pipeline stage outcomes",
			},
			[]string{"stage", "status"},
		),
		Findings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliancebot_findings_total",
				Help: "Findings reported after deduplication",
			},
			[]string{"severity"},
		),
		RuleErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliancebot_rule_errors_total",
				Help: "Rules that failed to compile or evaluate",
			},
			[]string{"rule_id"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliancebot_provider_calls_total",
				Help: "Total number of AI provider calls",
			},
			[]string{"provider", "success"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compliancebot_provider_latency_seconds",
				Help:    "AI provider call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"provider"},
		),
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "compliancebot_cache_hits_total",
				Help: "AI responses served from cache",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "compliancebot_cache_misses_total",
				Help: "AI requests not found in cache",
			},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliancebot_webhook_events_total",
				Help: "Webhook deliveries by event and action",
			},
			[]string{"event", "action"},
		),
		JobsRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "compliancebot_jobs_rejected_total",
				Help: "Analysis jobs rejected because the worker pool was full",
			},
		),
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliancebot_commands_total",
				Help: "Bot commands handled by name",
			},
			[]string{"command"},
		),
	}
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// RecordStage records one stage outcome.
func (m *Metrics) RecordStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageResults.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordFindings adds n findings of the given severity.
func (m *Metrics) RecordFindings(severity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Findings.WithLabelValues(severity).Add(float64(n))
}

// RecordRuleError counts a rule that could not be compiled or applied.
func (m *Metrics) RecordRuleError(ruleID string) {
	if m == nil {
		return
	}
	m.RuleErrors.WithLabelValues(ruleID).Inc()
}

// RecordCache counts a cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// RecordProviderCall records a provider round trip.
func (m *Metrics) RecordProviderCall(provider string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, boolLabel(success)).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordWebhook counts a webhook delivery.
func (m *Metrics) RecordWebhook(event, action string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, action).Inc()
}

// RecordRejectedJob counts a job turned away by a full worker pool.
func (m *Metrics) RecordRejectedJob() {
	if m == nil {
		return
	}
	m.JobsRejected.Inc()
}

// RecordCommand counts a handled bot command.
func (m *Metrics) RecordCommand(name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
