package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/github"
	"github.com/dshills/compliancebot/internal/pipeline"
	"github.com/dshills/compliancebot/internal/store"
)

var (
	flagGHOwner  string
	flagGHRepo   string
	flagGHDryRun bool
)

var prCmd = &cobra.Command{
	Use:   "pr <pr-number>",
	Short: "Analyze a GitHub pull request",
	Long: "Fetch a pull request's changed files from GitHub, analyze them and publish " +
		"a summary comment, inline comments and a check run unless --dry-run is set.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prNumber, err := strconv.Atoi(args[0])
		if err != nil || prNumber <= 0 {
			fmt.Fprintf(os.Stderr, "Error: invalid PR number %q\n", args[0])
			exitCode = ExitUsageError
			return nil
		}

		cfg, err := loadConfig(buildOverrides())
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		defer func() { _ = logger.Sync() }()

		// Detect owner/repo if not provided
		owner, repo := flagGHOwner, flagGHRepo
		if owner == "" || repo == "" {
			detected, detectedRepo, err := github.DetectRepo()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\nUse --owner and --repo flags to specify manually.\n", err)
				exitCode = ExitRuntimeError
				return nil
			}
			if owner == "" {
				owner = detected
			}
			if repo == "" {
				repo = detectedRepo
			}
		}

		client, err := github.NewClient(github.Options{
			Token:  cfg.GitHub.Token,
			APIURL: cfg.GitHub.APIURL,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitAuthError
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		catalog, focus, err := buildCatalog(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		orch := buildOrchestrator(cfg, catalog, focus, logger, nil)
		source := github.NewPRSource(client, cfg.GitHub.FetchConcurrency, logger)

		var notifier pipeline.Notifier
		if flagGHDryRun {
			fmt.Fprintln(os.Stderr, "Dry run: results will not be posted to GitHub.")
		} else {
			notifier = github.NewNotifier(client, logger).WithCheckName(cfg.GitHub.CheckName)
		}

		var recorder pipeline.Recorder
		if cfg.Database.URL != "" {
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
			recorder = st
		}

		target := compliance.Target{Owner: owner, Repo: repo, Number: prNumber}
		fmt.Fprintf(os.Stderr, "Analyzing %s...\n", target)

		svc := pipeline.NewService(orch, source, recorder, notifier, logger)
		run, runErr := svc.Analyze(ctx, target)
		finishRun(run, runErr, cfg)
		return nil
	},
}

func init() {
	addAnalysisFlags(prCmd)
	prCmd.Flags().StringVar(&flagGHOwner, "owner", "", "GitHub repository owner (auto-detected if omitted)")
	prCmd.Flags().StringVar(&flagGHRepo, "repo", "", "GitHub repository name (auto-detected if omitted)")
	prCmd.Flags().BoolVar(&flagGHDryRun, "dry-run", false, "Analyze but don't post to GitHub")
}
