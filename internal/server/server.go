package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/metrics"
	"github.com/dshills/compliancebot/internal/rules"
	"github.com/dshills/compliancebot/internal/store"
)

// Analyzer runs a full analysis for a pull request and publishes it.
type Analyzer interface {
	Analyze(ctx context.Context, target compliance.Target) (*compliance.AnalysisRun, error)
}

// CommandHandler executes bot commands found in pull request comments.
type CommandHandler interface {
	HandleComment(ctx context.Context, target compliance.Target, body string) (bool, error)
}

// RuleCatalog is the live rule set managed through /api/rules.
type RuleCatalog interface {
	List() []rules.Rule
	AddRule(r rules.Rule) error
	RemoveRule(id string) bool
}

// Config holds server configuration.
type Config struct {
	// Address is the listen address (e.g., ":3000").
	Address string

	// ShutdownTimeout bounds connection draining and waiting for running
	// analyses. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxConcurrentRuns caps background analyses. Defaults to 4.
	MaxConcurrentRuns int

	// JobTimeout bounds a single background job. Defaults to 10 minutes.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 4
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	return c
}

// Deps are the collaborators the handlers call into. Commands may be nil, in
// which case comment events are ignored. A nil Store is replaced by a memory
// store and a nil Gatherer by the default Prometheus registry.
type Deps struct {
	Analyzer Analyzer
	Commands CommandHandler
	Catalog  RuleCatalog
	Store    store.Store
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Server is the compliancebot HTTP service.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
	inShutdown      atomic.Bool

	analyzer Analyzer
	commands CommandHandler
	catalog  RuleCatalog
	store    store.Store
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
	logger   *zap.Logger

	jobs       *errgroup.Group
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// New builds a server. Call Start to listen.
func New(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	jobs := new(errgroup.Group)
	jobs.SetLimit(cfg.MaxConcurrentRuns)
	jobCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		shutdownTimeout: cfg.ShutdownTimeout,
		jobTimeout:      cfg.JobTimeout,
		analyzer:        deps.Analyzer,
		commands:        deps.Commands,
		catalog:         deps.Catalog,
		store:           deps.Store,
		gatherer:        deps.Gatherer,
		metrics:         deps.Metrics,
		logger:          deps.Logger.Named("server"),
		jobs:            jobs,
		jobCtx:          jobCtx,
		cancelJobs:      cancel,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", s.handleWebhook)
		r.Post("/trigger-scan", s.handleTriggerScan)
		r.Get("/analyses", s.handleListAnalyses)
		r.Get("/analyses/{id}", s.handleGetAnalysis)
		r.Get("/stats", s.handleStats)
		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleAddRule)
		r.Delete("/rules/{id}", s.handleDeleteRule)
	})
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address. It blocks and returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, drains connections and waits for
// running analyses, all within the shutdown timeout. Analyses still running
// when the timeout expires are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.httpServer.SetKeepAlivesEnabled(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		_ = s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for analyses: %w", shutdownCtx.Err()))
	}
	s.cancelJobs()
	return err
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Server) IsShuttingDown() bool {
	return s.inShutdown.Load()
}

// submit runs fn in the background if a job slot is free.
func (s *Server) submit(name string, target compliance.Target, fn func(ctx context.Context) error) bool {
	if s.inShutdown.Load() {
		return false
	}
	return s.jobs.TryGo(func() error {
		ctx, cancel := context.WithTimeout(s.jobCtx, s.jobTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error("background job failed",
				zap.String("job", name),
				zap.Stringer("target", target),
				zap.Error(err))
		}
		return nil
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
