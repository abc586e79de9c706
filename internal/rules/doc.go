// Package rules holds the compliance rule catalog and the pattern matcher.
//
// A [Rule] is a declarative policy. [Compile] turns it into an [Evaluator] of
// one of three kinds:
//   - [PatternRule] matches a case-insensitive regular expression line by line.
//   - [DependencyRule] parses package manifests (package.json,
//     requirements.txt, go.mod) and flags exact versions listed in an
//     [AdvisoryDB].
//   - [LicenseRule] flags source files whose first 500 characters mention
//     neither a copyright nor a license.
//
// The [Catalog] keeps the enabled rules, built-ins first. Runs work from an
// immutable [Snapshot] so that catalog edits never reach an in-flight run.
//
// A [Matcher] compiles a snapshot once and evaluates every rule against every
// analyzable file. A rule that fails to compile or evaluate is logged and
// skipped; it never stops the other rules.
//
// Custom rules, disabled ids, per-category severity overrides and extra
// advisories can be loaded from a YAML or JSON file with [LoadFile].
package rules
