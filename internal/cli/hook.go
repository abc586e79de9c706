package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dshills/compliancebot/internal/config"
)

// hookHeader marks a pre-commit hook as written by compliancebot.
const hookHeader = "# installed by compliancebot"

// hookDefaultFailOn applies when the configured threshold is "none", since
// such a hook could never block a commit.
const hookDefaultFailOn = "high"

var errForeignHook = errors.New("pre-commit hook was not installed by compliancebot")

var hookForce bool

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage the git pre-commit hook",
}

var hookInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a pre-commit hook that scans staged changes",
	Long: "Install a pre-commit hook running `compliancebot scan --staged` with the " +
		"policy in effect now: threshold, output format, rules and advisories files, " +
		"sandbox backend and AI setting. Reinstall after changing the policy.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(buildOverrides())
		if err != nil {
			return err
		}
		scanArgs, err := hookScanArgs(cfg)
		if err != nil {
			return err
		}
		path, err := hookPath(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}

		if err := installHook(afero.NewOsFs(), path, hookScript(scanArgs), hookForce); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if errors.Is(err, errForeignHook) {
				exitCode = ExitUsageError
			} else {
				exitCode = ExitRuntimeError
			}
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installed pre-commit hook at %s\n  compliancebot %s\n", path, strings.Join(scanArgs, " "))
		return nil
	},
}

var hookUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the compliancebot pre-commit hook",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := hookPath(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		removed, err := uninstallHook(afero.NewOsFs(), path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		if !removed {
			fmt.Fprintln(cmd.OutOrStdout(), "No pre-commit hook found.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed pre-commit hook at %s\n", path)
		return nil
	},
}

// hookPath resolves the pre-commit hook location, honoring core.hooksPath.
func hookPath(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--git-path", "hooks/pre-commit").Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository (git rev-parse failed)")
	}
	return strings.TrimSpace(string(out)), nil
}

// hookScanArgs returns the scan arguments that reproduce cfg's policy. File
// paths are made absolute because hooks run from the repository root.
func hookScanArgs(cfg config.Config) ([]string, error) {
	failOn := cfg.FailOn
	if failOn == "none" || failOn == "" {
		failOn = hookDefaultFailOn
	}
	args := []string{"scan", "--staged", "--fail-on", failOn, "--format", cfg.Format}
	if cfg.MaxFindings > 0 {
		args = append(args, "--max-findings", strconv.Itoa(cfg.MaxFindings))
	}
	for _, f := range []struct{ flag, path string }{
		{"--rules", cfg.Rules.CustomFile},
		{"--advisories", cfg.Rules.AdvisoriesFile},
	} {
		if f.path == "" {
			continue
		}
		abs, err := filepath.Abs(f.path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", f.path, err)
		}
		args = append(args, f.flag, abs)
	}
	if cfg.Sandbox.Backend != "none" {
		args = append(args, "--sandbox", cfg.Sandbox.Backend)
	}
	if !cfg.AI.Enabled {
		args = append(args, "--no-ai")
	}
	if flagPaths != "" {
		args = append(args, "--paths", flagPaths)
	}
	if flagExclude != "" {
		args = append(args, "--exclude", flagExclude)
	}
	return args, nil
}

// hookScript renders the hook. Findings at the threshold block the commit and
// so do rejected arguments; auth and runtime failures only warn.
func hookScript(scanArgs []string) string {
	quoted := make([]string, len(scanArgs))
	for i, a := range scanArgs {
		quoted[i] = shellQuote(a)
	}
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString(hookHeader + "; reinstall with `compliancebot hook install`\n")
	fmt.Fprintf(&b, "compliancebot %s\n", strings.Join(quoted, " "))
	b.WriteString("status=$?\n")
	b.WriteString("case $status in\n")
	fmt.Fprintf(&b, "  %d) exit 0 ;;\n", ExitSuccess)
	fmt.Fprintf(&b, "  %d) echo \"compliancebot: compliance findings block this commit\" >&2; exit 1 ;;\n", ExitFindings)
	fmt.Fprintf(&b, "  %d) echo \"compliancebot: hook arguments rejected, run 'compliancebot hook install' again\" >&2; exit 1 ;;\n", ExitUsageError)
	b.WriteString("  *) echo \"compliancebot: scan failed (exit $status), allowing commit\" >&2; exit 0 ;;\n")
	b.WriteString("esac\n")
	return b.String()
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,*", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isOwnHook(data []byte) bool {
	return strings.Contains(string(data), hookHeader)
}

// installHook writes script to path. An existing hook from another tool is
// only replaced with force.
func installHook(fs afero.Fs, path, script string, force bool) error {
	existing, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		if !isOwnHook(existing) && !force {
			return fmt.Errorf("%s: %w (use --force to replace it)", path, errForeignHook)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("reading hook: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating hooks directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(script), 0o755); err != nil {
		return fmt.Errorf("writing hook: %w", err)
	}
	return nil
}

// uninstallHook removes the hook at path if compliancebot installed it.
func uninstallHook(fs afero.Fs, path string) (bool, error) {
	existing, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading hook: %w", err)
	}
	if !isOwnHook(existing) {
		return false, fmt.Errorf("%s: %w", path, errForeignHook)
	}
	if err := fs.Remove(path); err != nil {
		return false, fmt.Errorf("removing hook: %w", err)
	}
	return true, nil
}

func init() {
	hookCmd.AddCommand(hookInstallCmd)
	hookCmd.AddCommand(hookUninstallCmd)
	f := hookInstallCmd.Flags()
	f.StringVar(&flagFailOn, "fail-on", "", "Block commits at this severity (default from config, high when none)")
	f.StringVar(&flagFormat, "format", "", "Output format (text, json, markdown, sarif)")
	f.IntVar(&flagMaxFindings, "max-findings", 0, "Maximum number of findings to report")
	f.StringVar(&flagRules, "rules", "", "Custom rules file (YAML or JSON)")
	f.StringVar(&flagAdvisories, "advisories", "", "Additional vulnerable-dependency advisories file")
	f.StringVar(&flagSandbox, "sandbox", "", "Sandbox backend (none, local, docker)")
	f.BoolVar(&flagNoAI, "no-ai", false, "Skip the AI analysis stage")
	f.StringVar(&flagPaths, "paths", "", "Include file path globs (comma-separated)")
	f.StringVar(&flagExclude, "exclude", "", "Exclude file path globs (comma-separated)")
	f.BoolVar(&hookForce, "force", false, "Replace a pre-commit hook installed by another tool")
}
