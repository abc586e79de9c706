// Package gitctx collects changed files from a local git repository.
//
// [Staged], [Unstaged] and [Range] shell out to git for the file list, the
// per-file patch and line counts, then read each file's new content from the
// index, the working tree or the right-hand revision. [Paths] reads files
// straight from a filesystem for scans outside of git. Results are filtered
// by include/exclude glob patterns and oversized or binary content is left
// out.
package gitctx
