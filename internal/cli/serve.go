package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/command"
	"github.com/dshills/compliancebot/internal/github"
	"github.com/dshills/compliancebot/internal/metrics"
	"github.com/dshills/compliancebot/internal/pipeline"
	"github.com/dshills/compliancebot/internal/server"
	"github.com/dshills/compliancebot/internal/store"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and API server",
	Long: "Serve GitHub webhooks, the analysis API and Prometheus metrics. Pull request " +
		"events are analyzed in the background and published back to GitHub.",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := buildOverrides()
		if flagAddr != "" {
			overrides["server.addr"] = flagAddr
		}
		cfg, err := loadConfig(overrides)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := metrics.New(reg)

		client, err := github.NewClient(github.Options{
			Token:  cfg.GitHub.Token,
			APIURL: cfg.GitHub.APIURL,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitAuthError
			return nil
		}

		catalog, focus, err := buildCatalog(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}

		st, err := store.NewStore(ctx, cfg.Database.URL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Warn("closing store failed", zap.Error(err))
			}
		}()
		if cfg.Database.URL == "" {
			logger.Warn("no database configured, analyses are kept in memory")
		}

		orch := buildOrchestrator(cfg, catalog, focus, logger, m)
		svc := pipeline.NewService(orch,
			github.NewPRSource(client, cfg.GitHub.FetchConcurrency, logger),
			st,
			github.NewNotifier(client, logger).WithCheckName(cfg.GitHub.CheckName),
			logger)

		srv := server.New(server.Config{
			Address:           cfg.Server.Addr,
			ShutdownTimeout:   cfg.Server.ShutdownTimeout,
			MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		}, server.Deps{
			Analyzer: svc,
			Commands: command.NewDispatcher(svc, svc, logger, m),
			Catalog:  catalog,
			Store:    st,
			Gatherer: reg,
			Metrics:  m,
			Logger:   logger,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				exitCode = ExitRuntimeError
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown incomplete", zap.Error(err))
			exitCode = ExitRuntimeError
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default from config, :3000)")
	serveCmd.Flags().StringVar(&flagProvider, "provider", "", "AI provider (groq, openai, anthropic, ollama)")
	serveCmd.Flags().StringVar(&flagModel, "model", "", "Model name")
	serveCmd.Flags().StringVar(&flagRules, "rules", "", "Custom rules file (YAML or JSON)")
	serveCmd.Flags().StringVar(&flagSandbox, "sandbox", "", "Sandbox backend (none, local, docker)")
	serveCmd.Flags().BoolVar(&flagNoAI, "no-ai", false, "Skip the AI analysis stage")
}
