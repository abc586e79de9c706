package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/command"
	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/github"
	"github.com/dshills/compliancebot/internal/rules"
	"github.com/dshills/compliancebot/internal/store"
)

const (
	maxWebhookBytes = 10 << 20
	maxListLimit    = 500
	healthTimeout   = 2 * time.Second
)

// envelope is the shape of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   *int   `json:"count,omitempty"`
}

type jobStatus struct {
	Status string `json:"status"`
	Target string `json:"target,omitempty"`
}

type healthStatus struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Timestamp time.Time `json:"timestamp"`
}

type triggerScanRequest struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"prNumber"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	h := healthStatus{Status: "healthy", Store: "ok", Timestamp: time.Now().UTC()}
	status := http.StatusOK
	if err := s.store.Health(ctx); err != nil {
		h.Status = "unhealthy"
		h.Store = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.IsShuttingDown() {
		h.Status = "shutting_down"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, envelope{Success: status == http.StatusOK, Data: h})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		respondError(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	switch event {
	case "pull_request":
		s.handlePullRequestEvent(w, payload)
	case "issue_comment":
		s.handleIssueCommentEvent(w, payload)
	case "ping":
		s.metrics.RecordWebhook(event, "")
		respondData(w, http.StatusOK, jobStatus{Status: "pong"})
	default:
		s.metrics.RecordWebhook(event, "")
		respondData(w, http.StatusOK, jobStatus{Status: "ignored"})
	}
}

func (s *Server) handlePullRequestEvent(w http.ResponseWriter, payload []byte) {
	var e github.PullRequestEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid pull_request payload")
		return
	}
	s.metrics.RecordWebhook("pull_request", e.Action)

	if !e.IsActionSupported() {
		respondData(w, http.StatusOK, jobStatus{Status: "ignored"})
		return
	}
	target, err := e.Target()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.enqueueAnalysis(w, target)
}

func (s *Server) handleIssueCommentEvent(w http.ResponseWriter, payload []byte) {
	var e github.IssueCommentEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid issue_comment payload")
		return
	}
	s.metrics.RecordWebhook("issue_comment", e.Action)

	if s.commands == nil || e.Action != "created" || !e.OnPullRequest() {
		respondData(w, http.StatusOK, jobStatus{Status: "ignored"})
		return
	}
	if _, ok := command.Parse(e.Comment.Body); !ok {
		respondData(w, http.StatusOK, jobStatus{Status: "ignored"})
		return
	}
	target, err := e.Target()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	body := e.Comment.Body
	ok := s.submit("command", target, func(ctx context.Context) error {
		_, err := s.commands.HandleComment(ctx, target, body)
		return err
	})
	s.respondQueued(w, target, ok)
}

func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	var req triggerScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Owner == "" || req.Repo == "" || req.PRNumber <= 0 {
		respondError(w, http.StatusBadRequest, "owner, repo and prNumber are required")
		return
	}
	s.enqueueAnalysis(w, compliance.Target{Owner: req.Owner, Repo: req.Repo, Number: req.PRNumber})
}

func (s *Server) enqueueAnalysis(w http.ResponseWriter, target compliance.Target) {
	if s.analyzer == nil {
		respondError(w, http.StatusServiceUnavailable, "analysis is not configured")
		return
	}
	ok := s.submit("analysis", target, func(ctx context.Context) error {
		_, err := s.analyzer.Analyze(ctx, target)
		return err
	})
	s.respondQueued(w, target, ok)
}

func (s *Server) respondQueued(w http.ResponseWriter, target compliance.Target, ok bool) {
	if !ok {
		s.metrics.RecordRejectedJob()
		s.logger.Warn("job rejected", zap.Stringer("target", target))
		respondError(w, http.StatusServiceUnavailable, "analysis queue is full, retry later")
		return
	}
	s.logger.Info("queued job", zap.Stringer("target", target))
	respondData(w, http.StatusAccepted, jobStatus{Status: "queued", Target: target.String()})
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("repo"), limit)
	if err != nil {
		s.logger.Error("listing analyses failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "listing analyses failed")
		return
	}
	if runs == nil {
		runs = []*compliance.AnalysisRun{}
	}
	respondList(w, runs, len(runs))
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("loading analysis failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "loading analysis failed")
		return
	}
	respondData(w, http.StatusOK, run)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("computing stats failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "computing stats failed")
		return
	}
	respondData(w, http.StatusOK, summary)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rs := s.catalog.List()
	respondList(w, rs, len(rs))
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var spec rules.RuleSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rule, err := spec.Rule()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Validate does not compile patterns.
	if _, err := rules.Compile(rule, nil); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.catalog.AddRule(rule); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, rules.ErrDuplicateRule) {
			status = http.StatusConflict
		}
		respondError(w, status, err.Error())
		return
	}
	s.logger.Info("rule added", zap.String("rule", rule.ID))
	respondData(w, http.StatusCreated, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.catalog.RemoveRule(id) {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	s.logger.Info("rule removed", zap.String("rule", id))
	respondData(w, http.StatusOK, map[string]string{"id": id})
}

func respondJSON(w http.ResponseWriter, status int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, envelope{Success: true, Data: data})
}

func respondList(w http.ResponseWriter, data any, n int) {
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: data, Count: &n})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{Success: false, Error: message})
}
