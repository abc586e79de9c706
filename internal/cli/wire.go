package cli

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/analyzer"
	"github.com/dshills/compliancebot/internal/cache"
	"github.com/dshills/compliancebot/internal/config"
	"github.com/dshills/compliancebot/internal/logging"
	"github.com/dshills/compliancebot/internal/metrics"
	"github.com/dshills/compliancebot/internal/pipeline"
	"github.com/dshills/compliancebot/internal/providers"
	"github.com/dshills/compliancebot/internal/rules"
)

// newLogger builds the command logger. Verbose CLI runs log at debug;
// otherwise the configured level applies.
func newLogger(cfg config.Config) *zap.Logger {
	if flagVerbose {
		return logging.NewCLI(true)
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Encoding,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		return logging.NewCLI(false)
	}
	return logger
}

// loadRuleFile reads the custom rules file and merges in the advisories file
// and the configured disabled ids. It returns nil when nothing is configured.
func loadRuleFile(cfg config.Config) (*rules.File, error) {
	f, err := rules.LoadFile(cfg.Rules.CustomFile)
	if err != nil {
		return nil, err
	}
	if cfg.Rules.AdvisoriesFile != "" {
		adv, err := rules.LoadFile(cfg.Rules.AdvisoriesFile)
		if err != nil {
			return nil, err
		}
		if f == nil {
			f = &rules.File{}
		}
		f.Advisories = append(f.Advisories, adv.Advisories...)
	}
	if len(cfg.Rules.Disabled) > 0 {
		if f == nil {
			f = &rules.File{}
		}
		f.Disable = append(f.Disable, cfg.Rules.Disabled...)
	}
	return f, nil
}

// buildCatalog returns the live rule catalog and the focus areas declared by
// the rules file and configuration.
func buildCatalog(cfg config.Config) (*rules.Catalog, []string, error) {
	f, err := loadRuleFile(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("loading rules: %w", err)
	}
	catalog := rules.NewCatalog()
	if err := catalog.Apply(f); err != nil {
		return nil, nil, fmt.Errorf("loading rules: %w", err)
	}
	focus := append([]string(nil), cfg.AI.Focus...)
	if f != nil {
		focus = append(focus, f.Focus...)
	}
	return catalog, focus, nil
}

// buildAI returns the AI capability, or nil when AI is disabled or no
// provider credentials are available. Missing credentials only disable the
// stage.
func buildAI(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) analyzer.Capability {
	if !cfg.AI.Enabled {
		return nil
	}
	client, err := providers.New(providers.Options{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Timeout:  cfg.AI.RequestTimeout,
	})
	if err != nil {
		logger.Warn("AI analysis disabled", zap.String("provider", cfg.Provider), zap.Error(err))
		return nil
	}

	model := cfg.Model
	if model == "" {
		model = providers.DefaultModel(cfg.Provider)
	}
	ai := analyzer.NewAI(client, analyzer.AIConfig{
		Model:           model,
		BatchSize:       cfg.AI.BatchSize,
		MaxContentChars: cfg.AI.MaxContentChars,
		EnhanceLimit:    cfg.AI.EnhanceLimit,
		Redact:          cfg.Privacy.RedactSecrets,
		RedactPaths:     cfg.Privacy.RedactPaths,
	}, logger).WithMetrics(m)

	if cfg.Cache.Enabled {
		c, err := cache.New(afero.NewOsFs(), cache.Options{
			Enabled: true,
			Dir:     cfg.Cache.Dir,
			TTL:     cfg.Cache.TTL,
		})
		if err != nil {
			logger.Warn("response cache disabled", zap.Error(err))
		} else {
			ai = ai.WithCache(c)
		}
	}
	return ai
}

// buildSandbox returns the sandbox capability for the configured backend.
// Without configured scanners the backend's defaults apply.
func buildSandbox(cfg config.Config, logger *zap.Logger) analyzer.Capability {
	var backend analyzer.Backend
	switch cfg.Sandbox.Backend {
	case "local":
		backend = analyzer.NewLocalBackend()
	case "docker":
		backend = analyzer.NewDockerBackend(cfg.Sandbox.Image)
	default:
		return nil
	}
	scanners := cfg.Sandbox.Scanners
	if len(scanners) == 0 {
		scanners = analyzer.DefaultScanners(cfg.Sandbox.Backend)
	}
	return analyzer.NewSandbox(backend, scanners, logger)
}

// buildOrchestrator assembles the analysis pipeline from cfg.
func buildOrchestrator(cfg config.Config, catalog *rules.Catalog, focus []string, logger *zap.Logger, m *metrics.Metrics) *pipeline.Orchestrator {
	return pipeline.New(catalog, pipeline.Options{
		Sandbox: buildSandbox(cfg, logger),
		AI:      buildAI(cfg, logger, m),
		Timeouts: pipeline.Timeouts{
			Rules:   cfg.Timeouts.Rules,
			Sandbox: cfg.Timeouts.Sandbox,
			AI:      cfg.Timeouts.AI,
		},
		Focus:   focus,
		Logger:  logger,
		Metrics: m,
	})
}
