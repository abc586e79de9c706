package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/gitctx"
	"github.com/dshills/compliancebot/internal/pipeline"
)

var (
	flagStaged bool
	flagRange  string
)

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Analyze local changes or files",
	Long: "Analyze files on disk. With paths, every text file under them is scanned. " +
		"Otherwise the unstaged working tree changes are scanned, or the staged changes " +
		"with --staged, or a revision range with --range.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkScanMode(args, flagStaged, flagRange); err != nil {
			return err
		}
		cfg, err := loadConfig(buildOverrides())
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		res, err := collectLocal(ctx, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		if len(res.Files) == 0 {
			fmt.Fprintln(os.Stderr, "No changes to analyze.")
			return nil
		}

		catalog, focus, err := buildCatalog(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		orch := buildOrchestrator(cfg, catalog, focus, logger, nil)

		run, runErr := orch.Run(ctx, pipeline.StaticSource{Files: res.Files}, localTarget(res))
		finishRun(run, runErr, cfg)
		return nil
	},
}

func checkScanMode(paths []string, staged bool, revRange string) error {
	modes := 0
	if len(paths) > 0 {
		modes++
	}
	if staged {
		modes++
	}
	if revRange != "" {
		modes++
	}
	if modes > 1 {
		return errors.New("paths, --staged and --range are mutually exclusive")
	}
	return nil
}

func collectLocal(ctx context.Context, paths []string) (gitctx.Result, error) {
	opts := buildGitOpts()
	switch {
	case len(paths) > 0:
		return gitctx.Paths(ctx, paths, opts)
	case flagStaged:
		return gitctx.Staged(ctx, opts)
	case flagRange != "":
		return gitctx.Range(ctx, flagRange, opts)
	default:
		return gitctx.Unstaged(ctx, opts)
	}
}

// localTarget describes a local scan. Local scans have no pull request
// number.
func localTarget(res gitctx.Result) compliance.Target {
	repo := "workspace"
	if res.Repo.Root != "" {
		repo = filepath.Base(res.Repo.Root)
	}
	title := res.Mode
	if res.Range != "" {
		title += " " + res.Range
	}
	return compliance.Target{
		Owner:   "local",
		Repo:    repo,
		HeadSHA: res.Repo.Head,
		Branch:  res.Repo.Branch,
		Title:   title,
	}
}

func init() {
	addAnalysisFlags(scanCmd)
	scanCmd.Flags().BoolVar(&flagStaged, "staged", false, "Scan staged changes (index vs HEAD)")
	scanCmd.Flags().StringVar(&flagRange, "range", "", "Scan a revision range (e.g., origin/main..HEAD)")
}
