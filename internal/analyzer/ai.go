package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/compliancebot/internal/cache"
	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/metrics"
	"github.com/dshills/compliancebot/internal/providers"
	"github.com/dshills/compliancebot/internal/redact"
)

// AIConfig tunes the AI analyzer. Zero values take the defaults.
type AIConfig struct {
	Model           string
	BatchSize       int
	MaxContentChars int
	EnhanceLimit    int
	Concurrency     int
	// Redact scrubs secrets from prompts before they leave the process.
	Redact      bool
	RedactPaths []string
}

func (c AIConfig) withDefaults() AIConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = 2000
	}
	if c.EnhanceLimit <= 0 {
		c.EnhanceLimit = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	return c
}

// AIAnalyzer finds issues with an LLM and suggests fixes for existing findings.
type AIAnalyzer struct {
	client  providers.Client
	cfg     AIConfig
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAI returns an AI analyzer backed by client.
func NewAI(client providers.Client, cfg AIConfig, logger *zap.Logger) *AIAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIAnalyzer{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("ai"),
	}
}

// WithCache serves repeated prompts from c.
func (a *AIAnalyzer) WithCache(c *cache.Cache) *AIAnalyzer {
	a.cache = c
	return a
}

// WithMetrics records provider calls and cache lookups on m.
func (a *AIAnalyzer) WithMetrics(m *metrics.Metrics) *AIAnalyzer {
	a.metrics = m
	return a
}

func (a *AIAnalyzer) Name() string { return "ai" }

func (a *AIAnalyzer) Initialize(ctx context.Context) (Session, error) {
	if a.client == nil {
		return nil, errors.New("no AI provider configured")
	}
	return &aiSession{a: a}, nil
}

type aiSession struct {
	a *AIAnalyzer
}

func (s *aiSession) Cleanup() error { return nil }

// Analyze sends analyzable files in batches. A failing batch is logged and
// skipped; an error is returned only when every batch fails.
func (s *aiSession) Analyze(ctx context.Context, req Request) ([]compliance.Finding, error) {
	a := s.a
	var files []compliance.ChangedFile
	for _, f := range req.Files {
		if f.Analyzable() && f.Text() != "" {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, nil
	}
	if a.cfg.Redact {
		var n int
		files, n = redact.New(a.cfg.RedactPaths).Files(files)
		if n > 0 {
			a.logger.Debug("redacted prompt content", zap.Int("files", n))
		}
	}

	batches := batchFiles(files, a.cfg.BatchSize)
	results := make([][]compliance.Finding, len(batches))
	errs := make([]error, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			findings, err := s.analyzeBatch(gctx, batch, req)
			if err != nil {
				a.logger.Error("AI batch failed",
					zap.Int("batch", i),
					zap.Int("files", len(batch)),
					zap.Error(err))
				errs[i] = fmt.Errorf("batch %d: %w", i, err)
				return nil
			}
			results[i] = findings
			return nil
		})
	}
	_ = g.Wait()

	var findings []compliance.Finding
	failed := 0
	for i := range batches {
		if errs[i] != nil {
			failed++
			continue
		}
		findings = append(findings, results[i]...)
	}
	if failed == len(batches) {
		return nil, errors.Join(errs...)
	}
	return findings, nil
}

func (s *aiSession) analyzeBatch(ctx context.Context, batch []compliance.ChangedFile, req Request) ([]compliance.Finding, error) {
	prompt := BuildAnalysisPrompt(batch, req.CustomRules, req.Focus, s.a.cfg.MaxContentChars)
	content, err := s.a.complete(ctx, providers.Request{
		SystemPrompt: analysisSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    4096,
		Temperature:  0.1,
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}
	findings, err := ParseAIFindings(content)
	if err != nil {
		s.a.logger.Warn("unparseable AI response",
			zap.Error(err),
			zap.Int("bytes", len(content)))
		return nil, nil
	}
	return findings, nil
}

// Enhance asks for fixes for the most severe findings without one. When no
// finding qualifies no request is made.
func (s *aiSession) Enhance(ctx context.Context, findings []compliance.Finding) ([]Enrichment, error) {
	selected := SelectForEnhancement(findings, s.a.cfg.EnhanceLimit)
	if len(selected) == 0 {
		return nil, nil
	}

	prompt := BuildEnhancementPrompt(selected)
	if s.a.cfg.Redact {
		prompt = redact.Secrets(prompt)
	}
	content, err := s.a.complete(ctx, providers.Request{
		SystemPrompt: enhancementSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    2048,
		Temperature:  0.2,
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(selected))
	for _, f := range selected {
		requested[f.ID] = true
	}
	enrichments, err := ParseEnrichments(content, requested)
	if err != nil {
		s.a.logger.Warn("unparseable enhancement response", zap.Error(err))
		return nil, nil
	}
	return enrichments, nil
}

func (a *AIAnalyzer) complete(ctx context.Context, req providers.Request) (string, error) {
	key := cache.BuildKey(a.client.Name(), a.cfg.Model, req.SystemPrompt, req.UserPrompt)
	if a.cache != nil && a.cache.Enabled() {
		if cached, ok := a.cache.Get(key); ok {
			a.metrics.RecordCache(true)
			return cached, nil
		}
		a.metrics.RecordCache(false)
	}

	start := time.Now()
	resp, err := a.client.Complete(ctx, req)
	a.metrics.RecordProviderCall(a.client.Name(), err == nil, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.client.Name(), err)
	}

	if a.cache != nil {
		if err := a.cache.Put(key, resp.Content); err != nil {
			a.logger.Warn("cache write failed", zap.Error(err))
		}
	}
	return resp.Content, nil
}

func batchFiles(files []compliance.ChangedFile, size int) [][]compliance.ChangedFile {
	var batches [][]compliance.ChangedFile
	for i := 0; i < len(files); i += size {
		end := min(i+size, len(files))
		batches = append(batches, files[i:end])
	}
	return batches
}

type rawAIFinding struct {
	File           string `json:"file"`
	Line           int    `json:"line"`
	Column         *int   `json:"column"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	Code           string `json:"code"`
	FixSuggestion  string `json:"fixSuggestion"`
	FixSuggestion2 string `json:"fix_suggestion"`
	RuleName       string `json:"ruleName"`
	RuleName2      string `json:"rule_name"`
}

// ParseAIFindings decodes a {"findings": [...]} reply. Unknown severities
// become medium and unknown types become quality. Entries without a file are
// dropped.
func ParseAIFindings(content string) ([]compliance.Finding, error) {
	var doc struct {
		Findings *[]rawAIFinding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if doc.Findings == nil {
		return nil, errors.New(`missing "findings" array`)
	}

	findings := make([]compliance.Finding, 0, len(*doc.Findings))
	for _, r := range *doc.Findings {
		if strings.TrimSpace(r.File) == "" {
			continue
		}
		sev, err := compliance.ParseSeverity(r.Severity)
		if err != nil {
			sev = compliance.SeverityMedium
		}
		cat, err := compliance.ParseCategory(r.Type)
		if err != nil {
			cat = compliance.CategoryQuality
		}
		f := compliance.Finding{
			ID:            compliance.NewID(),
			Type:          cat,
			Severity:      sev,
			Message:       firstNonEmpty(r.Message, "Issue detected"),
			File:          r.File,
			Code:          r.Code,
			FixSuggestion: firstNonEmpty(r.FixSuggestion, r.FixSuggestion2),
			RuleID:        "ai-" + string(cat),
			RuleName:      firstNonEmpty(r.RuleName, r.RuleName2, "AI Analysis"),
			Source:        "ai",
		}
		if r.Line > 0 {
			f.Line = r.Line
			if r.Column != nil && *r.Column >= 0 {
				f.Column = compliance.ColumnOf(*r.Column)
			}
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// ParseEnrichments decodes a {"suggestions": [...]} reply, keeping only ids
// in requested. The first suggestion per id wins.
func ParseEnrichments(content string, requested map[string]bool) ([]Enrichment, error) {
	var doc struct {
		Suggestions *[]Enrichment `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if doc.Suggestions == nil {
		return nil, errors.New(`missing "suggestions" array`)
	}
	seen := make(map[string]bool)
	var out []Enrichment
	for _, e := range *doc.Suggestions {
		if !requested[e.FindingID] || seen[e.FindingID] || strings.TrimSpace(e.FixSuggestion) == "" {
			continue
		}
		seen[e.FindingID] = true
		out = append(out, e)
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return content
	}
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.Join(lines[1:end], "\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
