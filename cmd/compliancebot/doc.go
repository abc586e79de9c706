// Compliancebot checks code changes for security, license and quality
// problems and reports them locally or on GitHub pull requests.
//
// Findings come from a rule catalog, an optional sandboxed scanner pass and
// an optional AI pass. Exit codes are deterministic so the binary can gate CI
// and git hooks.
//
// Usage:
//
//	compliancebot scan                        # scan working tree changes
//	compliancebot scan --staged               # scan staged changes
//	compliancebot scan --range origin/main..HEAD
//	compliancebot scan ./src                  # scan every file under a path
//	compliancebot pr 42                       # analyze a pull request and post results
//	compliancebot serve                       # run the webhook and API server
//	compliancebot rules list                  # show the active rule catalog
//
// See https://github.com/dshills/compliancebot for full documentation.
package main
