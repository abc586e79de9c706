// Package cli wires together the Cobra command tree for the compliancebot
// binary.
//
// It defines the root command and all subcommands (scan, pr, serve, rules,
// config, cache, hook, version), binds flags, reads configuration, assembles
// the analysis pipeline and returns deterministic exit codes for CI gating.
package cli
