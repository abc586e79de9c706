package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/metrics"
	"github.com/dshills/compliancebot/internal/rules"
	"github.com/dshills/compliancebot/internal/store"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	targets []compliance.Target
	calls   chan compliance.Target
	release chan struct{}
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{calls: make(chan compliance.Target, 16)}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, target compliance.Target) (*compliance.AnalysisRun, error) {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
	f.calls <- target
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return compliance.NewRun(target, time.Now()), nil
}

type fakeCommands struct {
	calls chan string
}

func (f *fakeCommands) HandleComment(_ context.Context, target compliance.Target, body string) (bool, error) {
	f.calls <- target.String() + " " + body
	return true, nil
}

type downStore struct {
	store.Store
}

func (downStore) Health(context.Context) error { return errors.New("connection refused") }

type testEnv struct {
	server   *Server
	analyzer *fakeAnalyzer
	commands *fakeCommands
	store    *store.MemoryStore
	catalog  *rules.Catalog
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	env := &testEnv{
		analyzer: newFakeAnalyzer(),
		commands: &fakeCommands{calls: make(chan string, 16)},
		store:    store.NewMemoryStore(),
		catalog:  rules.NewCatalog(),
		metrics:  metrics.New(reg),
		registry: reg,
	}
	env.server = New(cfg, Deps{
		Analyzer: env.analyzer,
		Commands: env.commands,
		Catalog:  env.catalog,
		Store:    env.store,
		Gatherer: reg,
		Metrics:  env.metrics,
	})
	t.Cleanup(func() {
		if env.analyzer.release != nil {
			select {
			case <-env.analyzer.release:
			default:
				close(env.analyzer.release)
			}
		}
		_ = env.server.Shutdown(context.Background())
	})
	return env
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Count   *int            `json:"count"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func dataStatus(t *testing.T, env testEnvelope) string {
	t.Helper()
	var s jobStatus
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s.Status
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for background job")
	}
	var zero T
	return zero
}

func completedRun(t *testing.T, owner, repo string, number int, started time.Time, sev compliance.Severity) *compliance.AnalysisRun {
	t.Helper()
	run := compliance.NewRun(compliance.Target{Owner: owner, Repo: repo, Number: number}, started)
	require.NoError(t, run.Start())
	findings := []compliance.Finding{{
		ID: compliance.NewID(), Type: compliance.CategorySecurity, Severity: sev,
		Message: "issue", File: "a.go", Line: 1, RuleID: "r", RuleName: "R",
	}}
	require.NoError(t, run.Complete(findings, 1, started.Add(time.Second)))
	return run
}

const prPayload = `{
	"action": %q,
	"number": 5,
	"pull_request": {"number": 5, "title": "Add login", "head": {"ref": "feature", "sha": "abc123"}, "base": {"ref": "main"}},
	"repository": {"full_name": "acme/api"}
}`

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Address: ":0"}, Deps{Catalog: rules.NewCatalog()})
	defer func() { _ = s.Shutdown(context.Background()) }()

	assert.Equal(t, 10*time.Second, s.shutdownTimeout)
	assert.Equal(t, 10*time.Minute, s.jobTimeout)
	assert.Equal(t, 15*time.Second, s.httpServer.ReadTimeout)
	assert.Equal(t, 30*time.Second, s.httpServer.WriteTimeout)
	assert.NotNil(t, s.store)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.True(t, body.Success)
	var h healthStatus
	require.NoError(t, json.Unmarshal(body.Data, &h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "ok", h.Store)
}

func TestHealth_StoreDown(t *testing.T) {
	s := New(Config{}, Deps{Catalog: rules.NewCatalog(), Store: downStore{}})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.False(t, body.Success)
	var h healthStatus
	require.NoError(t, json.Unmarshal(body.Data, &h))
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, "connection refused", h.Store)
}

func TestWebhook_MissingEventHeader(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(http.MethodPost, "/api/webhook", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing X-GitHub-Event header", decode(t, rec).Error)
}

func TestWebhook_PullRequestQueuesAnalysis(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(http.MethodPost, "/api/webhook", fmt.Sprintf(prPayload, "opened"), "X-GitHub-Event", "pull_request")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "queued", dataStatus(t, body))

	target := waitFor(t, env.analyzer.calls)
	assert.Equal(t, "acme/api#5", target.String())
	assert.Equal(t, "abc123", target.HeadSHA)
	assert.Equal(t, "main", target.BaseBranch)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.WebhookEvents.WithLabelValues("pull_request", "opened")))
}

func TestWebhook_PullRequestIgnoredActions(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, action := range []string{"closed", "labeled", "edited"} {
		rec := env.do(http.MethodPost, "/api/webhook", fmt.Sprintf(prPayload, action), "X-GitHub-Event", "pull_request")
		require.Equal(t, http.StatusOK, rec.Code, action)
		assert.Equal(t, "ignored", dataStatus(t, decode(t, rec)), action)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.WebhookEvents.WithLabelValues("pull_request", "closed")))
	assert.Empty(t, env.analyzer.calls)
}

func TestWebhook_InvalidPayload(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodPost, "/api/webhook", `{not json`, "X-GitHub-Event", "pull_request")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/webhook", `{"action":"opened","repository":{"full_name":"acme/api"}}`, "X-GitHub-Event", "pull_request")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/webhook", `{"action":"opened","number":3,"repository":{"full_name":"acme"}}`, "X-GitHub-Event", "pull_request")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_OtherEvents(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodPost, "/api/webhook", `{}`, "X-GitHub-Event", "push")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", dataStatus(t, decode(t, rec)))

	rec = env.do(http.MethodPost, "/api/webhook", `{"zen":"hi"}`, "X-GitHub-Event", "ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", dataStatus(t, decode(t, rec)))

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.WebhookEvents.WithLabelValues("push", "")))
}

func TestWebhook_IssueCommentDispatchesCommand(t *testing.T) {
	env := newTestEnv(t, Config{})
	payload := `{
		"action": "created",
		"issue": {"number": 9, "pull_request": {}},
		"comment": {"body": "@compliance-bot scan", "user": {"login": "dev"}},
		"repository": {"full_name": "acme/api"}
	}`
	rec := env.do(http.MethodPost, "/api/webhook", payload, "X-GitHub-Event", "issue_comment")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	assert.Equal(t, "acme/api#9 @compliance-bot scan", waitFor(t, env.commands.calls))
}

func TestWebhook_IssueCommentIgnored(t *testing.T) {
	env := newTestEnv(t, Config{})
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "not a command",
			payload: `{"action":"created","issue":{"number":9,"pull_request":{}},"comment":{"body":"looks good"},"repository":{"full_name":"acme/api"}}`,
		},
		{
			name:    "plain issue",
			payload: `{"action":"created","issue":{"number":9},"comment":{"body":"@compliance-bot scan"},"repository":{"full_name":"acme/api"}}`,
		},
		{
			name:    "edited",
			payload: `{"action":"edited","issue":{"number":9,"pull_request":{}},"comment":{"body":"@compliance-bot scan"},"repository":{"full_name":"acme/api"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/webhook", tt.payload, "X-GitHub-Event", "issue_comment")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "ignored", dataStatus(t, decode(t, rec)))
		})
	}
	assert.Empty(t, env.commands.calls)
}

func TestTriggerScan(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodPost, "/api/trigger-scan", `{"owner":"acme","repo":"api","prNumber":12}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	var s jobStatus
	require.NoError(t, json.Unmarshal(body.Data, &s))
	assert.Equal(t, jobStatus{Status: "queued", Target: "acme/api#12"}, s)
	assert.Equal(t, "acme/api#12", waitFor(t, env.analyzer.calls).String())
}

func TestTriggerScan_Validation(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, body := range []string{
		`not json`,
		`{"owner":"acme","repo":"api"}`,
		`{"owner":"","repo":"api","prNumber":1}`,
		`{"owner":"acme","prNumber":1}`,
		`{"owner":"acme","repo":"api","prNumber":-3}`,
	} {
		rec := env.do(http.MethodPost, "/api/trigger-scan", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.False(t, decode(t, rec).Success, body)
	}
}

func TestJobLimit_RejectsWhenFull(t *testing.T) {
	env := newTestEnv(t, Config{MaxConcurrentRuns: 1})
	env.analyzer.release = make(chan struct{})

	first := env.do(http.MethodPost, "/api/trigger-scan", `{"owner":"acme","repo":"api","prNumber":1}`)
	require.Equal(t, http.StatusAccepted, first.Code)
	waitFor(t, env.analyzer.calls)

	second := env.do(http.MethodPost, "/api/trigger-scan", `{"owner":"acme","repo":"api","prNumber":2}`)
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)
	assert.Contains(t, decode(t, second).Error, "queue is full")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.JobsRejected))

	close(env.analyzer.release)
	require.NoError(t, env.server.Shutdown(context.Background()))

	third := env.do(http.MethodPost, "/api/trigger-scan", `{"owner":"acme","repo":"api","prNumber":3}`)
	assert.Equal(t, http.StatusServiceUnavailable, third.Code)
}

func TestShutdown_CancelsJobsAfterTimeout(t *testing.T) {
	env := newTestEnv(t, Config{ShutdownTimeout: 50 * time.Millisecond})
	env.analyzer.release = make(chan struct{})

	rec := env.do(http.MethodPost, "/api/trigger-scan", `{"owner":"acme","repo":"api","prNumber":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitFor(t, env.analyzer.calls)

	err := env.server.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, env.server.IsShuttingDown())
}

func TestAnalyses(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := completedRun(t, "acme", "api", 1, base, compliance.SeverityHigh)
	newer := completedRun(t, "acme", "api", 2, base.Add(time.Hour), compliance.SeverityCritical)
	other := completedRun(t, "acme", "web", 3, base.Add(2*time.Hour), compliance.SeverityLow)
	for _, r := range []*compliance.AnalysisRun{older, newer, other} {
		require.NoError(t, env.store.Save(ctx, r))
	}

	t.Run("list", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/analyses", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		require.NotNil(t, body.Count)
		assert.Equal(t, 3, *body.Count)
		var runs []compliance.AnalysisRun
		require.NoError(t, json.Unmarshal(body.Data, &runs))
		assert.Equal(t, other.ID, runs[0].ID)
	})

	t.Run("filter and limit", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/analyses?repo=acme/api&limit=1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var runs []compliance.AnalysisRun
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, newer.ID, runs[0].ID)
	})

	t.Run("empty repo", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/analyses?repo=nobody/none", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.JSONEq(t, `[]`, string(body.Data))
		assert.Equal(t, 0, *body.Count)
	})

	t.Run("bad limit", func(t *testing.T) {
		for _, q := range []string{"limit=abc", "limit=0", "limit=-1"} {
			rec := env.do(http.MethodGet, "/api/analyses?"+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/analyses/"+newer.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var run compliance.AnalysisRun
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &run))
		assert.Equal(t, newer.ID, run.ID)
		assert.Equal(t, 1, run.Stats.Critical)
		require.Len(t, run.Findings, 1)
	})

	t.Run("not found", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/analyses/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, store.ErrNotFound.Error(), decode(t, rec).Error)
	})

	t.Run("stats", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/stats", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var s store.Summary
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &s))
		assert.Equal(t, 3, s.TotalAnalyses)
		assert.Equal(t, 3, s.TotalFindings)
		assert.Equal(t, 1, s.Critical)
		assert.Equal(t, 1, s.High)
		assert.Equal(t, 1, s.Low)
		assert.InDelta(t, 1000, s.AvgDurationMs, 0.001)
	})
}

func TestRules(t *testing.T) {
	env := newTestEnv(t, Config{})
	builtin := len(env.catalog.List())

	rec := env.do(http.MethodGet, "/api/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, builtin, *decode(t, rec).Count)

	rec = env.do(http.MethodPost, "/api/rules",
		`{"id":"no-todo","name":"No TODO","pattern":"TODO","severity":"low","fixTemplate":"Resolve it"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added rules.Rule
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &added))
	assert.Equal(t, "no-todo", added.ID)
	assert.Equal(t, compliance.SeverityLow, added.Severity)
	assert.Equal(t, compliance.CategoryCustom, added.Category)
	assert.True(t, added.Enabled)

	got, ok := env.catalog.Get("no-todo")
	require.True(t, ok)
	assert.Equal(t, "TODO", got.Pattern)

	rec = env.do(http.MethodPost, "/api/rules", `{"id":"no-todo","name":"Again","pattern":"x","severity":"low"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodDelete, "/api/rules/no-todo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = env.catalog.Get("no-todo")
	assert.False(t, ok)

	rec = env.do(http.MethodDelete, "/api/rules/no-todo", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRules_AddInvalid(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, body := range []string{
		`{`,
		`{"name":"missing id","pattern":"x","severity":"low"}`,
		`{"id":"bad-sev","pattern":"x","severity":"urgent"}`,
		`{"id":"no-pattern","severity":"low"}`,
		`{"id":"bad-regex","pattern":"(unclosed","severity":"low"}`,
		`{"id":"switched-off","pattern":"foo","severity":"low","enabled":false}`,
	} {
		rec := env.do(http.MethodPost, "/api/rules", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(http.MethodPost, "/api/webhook", `{}`, "X-GitHub-Event", "push")

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `compliancebot_webhook_events_total{action="",event="push"} 1`)
}
