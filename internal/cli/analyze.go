package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/config"
	"github.com/dshills/compliancebot/internal/gitctx"
	"github.com/dshills/compliancebot/internal/github"
	"github.com/dshills/compliancebot/internal/output"
	"github.com/dshills/compliancebot/internal/providers"
)

// Shared analysis flags
var (
	flagPaths       string
	flagExclude     string
	flagProvider    string
	flagModel       string
	flagFormat      string
	flagOut         string
	flagFailOn      string
	flagMaxFindings int
	flagRules       string
	flagAdvisories  string
	flagSandbox     string
	flagNoAI        bool
	flagNoRedact    bool
)

func addAnalysisFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagPaths, "paths", "", "Include file path globs (comma-separated)")
	cmd.Flags().StringVar(&flagExclude, "exclude", "", "Exclude file path globs (comma-separated)")
	cmd.Flags().StringVar(&flagProvider, "provider", "", "AI provider (groq, openai, anthropic, ollama)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Model name")
	cmd.Flags().StringVar(&flagFormat, "format", "", "Output format (text, json, markdown, sarif)")
	cmd.Flags().StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	cmd.Flags().StringVar(&flagFailOn, "fail-on", "", "Fail on severity threshold (none, info, low, medium, high, critical)")
	cmd.Flags().IntVar(&flagMaxFindings, "max-findings", 0, "Maximum number of findings to report")
	cmd.Flags().StringVar(&flagRules, "rules", "", "Custom rules file (YAML or JSON)")
	cmd.Flags().StringVar(&flagAdvisories, "advisories", "", "Additional vulnerable-dependency advisories file")
	cmd.Flags().StringVar(&flagSandbox, "sandbox", "", "Sandbox backend (none, local, docker)")
	cmd.Flags().BoolVar(&flagNoAI, "no-ai", false, "Skip the AI analysis stage")
	cmd.Flags().BoolVar(&flagNoRedact, "no-redact", false, "Disable secret redaction in AI prompts (use with caution)")
}

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagProvider != "" {
		m["provider"] = flagProvider
	}
	if flagModel != "" {
		m["model"] = flagModel
	}
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagFailOn != "" {
		m["failOn"] = flagFailOn
	}
	if flagMaxFindings > 0 {
		m["maxFindings"] = strconv.Itoa(flagMaxFindings)
	}
	if flagRules != "" {
		m["rules.customFile"] = flagRules
	}
	if flagAdvisories != "" {
		m["rules.advisoriesFile"] = flagAdvisories
	}
	if flagSandbox != "" {
		m["sandbox.backend"] = flagSandbox
	}
	if flagNoAI {
		m["ai.enabled"] = "false"
	}
	if flagNoRedact {
		m["privacy.redactSecrets"] = "false"
	}
	return m
}

func loadConfig(overrides map[string]string) (config.Config, error) {
	return config.Load(flagConfig, overrides)
}

func buildGitOpts() gitctx.Options {
	return gitctx.Options{
		Include: splitComma(flagPaths),
		Exclude: splitComma(flagExclude),
	}
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// finishRun writes the run and sets the exit code. The fail-on threshold is
// checked against every finding, not only the reported ones.
func finishRun(run *compliance.AnalysisRun, runErr error, cfg config.Config) {
	if run == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		exitCode = errorExitCode(runErr)
		return
	}

	if flagNoRedact {
		fmt.Fprintln(os.Stderr, "WARNING: secret redaction is disabled")
	}

	if err := output.WriteRun(limitFindings(run, cfg.MaxFindings), cfg.Format, flagOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		exitCode = ExitRuntimeError
		return
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		exitCode = errorExitCode(runErr)
		return
	}

	if threshold, ok := cfg.FailThreshold(); ok {
		if compliance.HighestSeverity(run.Findings).AtLeast(threshold) {
			exitCode = ExitFindings
		}
	}
}

// limitFindings returns a copy of run holding at most max findings, most
// severe first. Stats still describe the full run.
func limitFindings(run *compliance.AnalysisRun, max int) *compliance.AnalysisRun {
	if max <= 0 || len(run.Findings) <= max {
		return run
	}
	out := *run
	out.Findings = compliance.TopFindings(run.Findings, max)
	return &out
}

func errorExitCode(err error) int {
	if github.IsAuthError(err) || providers.IsAuthError(err) {
		return ExitAuthError
	}
	return ExitRuntimeError
}
