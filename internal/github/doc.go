// Package github talks to the GitHub REST API for pull-request analysis.
//
// The Client covers the handful of endpoints the bot needs: pull request
// metadata, the paginated changed-file list, raw file content, issue
// comments, review comments and check runs. PRSource resolves a pull request
// into changed files for the pipeline, and Notifier publishes finished runs
// as a summary comment, inline review comments and a check run.
//
// Webhook payloads for pull_request and issue_comment events are decoded by
// the types in events.go. Signatures are not verified.
package github
