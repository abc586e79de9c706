package gitctx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/dshills/compliancebot/internal/compliance"
)

// maxFileBytes is the default per-file content limit.
const maxFileBytes = 1 << 20 // 1MB

// Options controls how changed files are gathered.
type Options struct {
	// Dir is the repository directory. Empty means the current directory.
	Dir          string
	Include      []string
	Exclude      []string
	MaxFileBytes int
	// Fs is used by Paths and Unstaged to read files. Nil means the OS
	// filesystem.
	Fs afero.Fs
}

func (o Options) maxBytes() int {
	if o.MaxFileBytes <= 0 {
		return maxFileBytes
	}
	return o.MaxFileBytes
}

func (o Options) fs() afero.Fs {
	if o.Fs == nil {
		return afero.NewOsFs()
	}
	return o.Fs
}

// Result holds the changed files and where they came from.
type Result struct {
	Files []compliance.ChangedFile
	Mode  string
	Range string
	Repo  RepoMeta
}

// RepoMeta contains git repository metadata.
type RepoMeta struct {
	Root   string
	Head   string
	Branch string
}

// GetRepoMeta collects repository metadata from git.
func GetRepoMeta(ctx context.Context, dir string) (RepoMeta, error) {
	root, err := gitOutput(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return RepoMeta{}, fmt.Errorf("not a git repository: %w", err)
	}
	head, err := gitOutput(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		head = "" // new repo with no commits
	}
	branch, err := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		branch = ""
	}
	return RepoMeta{
		Root:   strings.TrimSpace(root),
		Head:   strings.TrimSpace(head),
		Branch: strings.TrimSpace(branch),
	}, nil
}

// Staged returns the files changed in the index relative to HEAD, with
// their staged content.
func Staged(ctx context.Context, opts Options) (Result, error) {
	files, err := collect(ctx, opts, []string{"--cached"}, func(path string) ([]byte, error) {
		out, err := gitOutput(ctx, opts.Dir, "show", ":"+path)
		return []byte(out), err
	})
	if err != nil {
		return Result{}, err
	}
	return buildResult(ctx, opts, files, "staged", "")
}

// Unstaged returns the files changed in the working tree relative to the
// index, with their working tree content.
func Unstaged(ctx context.Context, opts Options) (Result, error) {
	fs := opts.fs()
	base := opts.Dir
	if base == "" {
		base = "."
	}
	files, err := collect(ctx, opts, nil, func(path string) ([]byte, error) {
		return afero.ReadFile(fs, filepath.Join(base, filepath.FromSlash(path)))
	})
	if err != nil {
		return Result{}, err
	}
	return buildResult(ctx, opts, files, "unstaged", "")
}

// Range returns the files changed in a revision range such as
// "main..HEAD", with their content at the right-hand revision.
func Range(ctx context.Context, revRange string, opts Options) (Result, error) {
	right := rightRevision(revRange)
	files, err := collect(ctx, opts, []string{revRange}, func(path string) ([]byte, error) {
		out, err := gitOutput(ctx, opts.Dir, "show", right+":"+path)
		return []byte(out), err
	})
	if err != nil {
		return Result{}, err
	}
	return buildResult(ctx, opts, files, "range", revRange)
}

// rightRevision returns the revision whose content a range introduces.
func rightRevision(revRange string) string {
	for _, sep := range []string{"...", ".."} {
		if i := strings.Index(revRange, sep); i >= 0 {
			if right := revRange[i+len(sep):]; right != "" {
				return right
			}
			return "HEAD"
		}
	}
	return "HEAD"
}

func buildResult(ctx context.Context, opts Options, files []compliance.ChangedFile, mode, rangeStr string) (Result, error) {
	meta, err := GetRepoMeta(ctx, opts.Dir)
	if err != nil {
		meta = RepoMeta{}
	}
	return Result{Files: files, Mode: mode, Range: rangeStr, Repo: meta}, nil
}

// collect lists the files of a git diff and fills in their patch, line
// counts and content.
func collect(ctx context.Context, opts Options, diffArgs []string, contentAt func(string) ([]byte, error)) ([]compliance.ChangedFile, error) {
	base := append([]string{"diff", "--no-renames"}, diffArgs...)

	nameStatus, err := gitOutput(ctx, opts.Dir, append(append([]string{}, base...), "--name-status", "--")...)
	if err != nil {
		return nil, fmt.Errorf("git diff --name-status: %w", err)
	}
	numstat, err := gitOutput(ctx, opts.Dir, append(append([]string{}, base...), "--numstat", "--")...)
	if err != nil {
		return nil, fmt.Errorf("git diff --numstat: %w", err)
	}
	diff, err := gitOutput(ctx, opts.Dir, append(append([]string{}, base...), "--")...)
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}

	counts := parseNumstat(numstat)
	patches := patchesByPath(diff)

	var files []compliance.ChangedFile
	for _, e := range parseNameStatus(nameStatus) {
		if !included(e.path, opts) {
			continue
		}
		c := counts[e.path]
		f := compliance.ChangedFile{
			Filename:  e.path,
			Status:    e.status,
			Additions: c.additions,
			Deletions: c.deletions,
			Patch:     patches[e.path],
		}
		if f.Status != compliance.FileRemoved && !c.binary {
			data, err := contentAt(e.path)
			if err == nil && len(data) <= opts.maxBytes() && !isBinary(data) {
				f.Content = string(data)
			}
		}
		files = append(files, f)
	}
	return files, nil
}

type nameStatusEntry struct {
	status compliance.FileStatus
	path   string
}

// parseNameStatus reads `git diff --name-status --no-renames` output.
func parseNameStatus(out string) []nameStatusEntry {
	var entries []nameStatusEntry
	for _, line := range strings.Split(out, "\n") {
		code, path, ok := strings.Cut(strings.TrimRight(line, "\r"), "\t")
		if !ok || code == "" || path == "" {
			continue
		}
		var status compliance.FileStatus
		switch code[0] {
		case 'A':
			status = compliance.FileAdded
		case 'D':
			status = compliance.FileRemoved
		case 'R':
			status = compliance.FileRenamed
		default:
			status = compliance.FileModified
		}
		entries = append(entries, nameStatusEntry{status: status, path: path})
	}
	return entries
}

type lineCounts struct {
	additions int
	deletions int
	binary    bool
}

// parseNumstat reads `git diff --numstat` output. Binary files report "-"
// for both counts.
func parseNumstat(out string) map[string]lineCounts {
	counts := make(map[string]lineCounts)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		if fields[0] == "-" && fields[1] == "-" {
			counts[fields[2]] = lineCounts{binary: true}
			continue
		}
		add, _ := strconv.Atoi(fields[0])
		del, _ := strconv.Atoi(fields[1])
		counts[fields[2]] = lineCounts{additions: add, deletions: del}
	}
	return counts
}

func patchesByPath(diff string) map[string]string {
	patches := make(map[string]string)
	for _, section := range splitDiffSections(diff) {
		if path := extractPathFromSection(section); path != "" {
			patches[path] = section
		}
	}
	return patches
}

func splitDiffSections(diff string) []string {
	var sections []string
	lines := strings.Split(diff, "\n")
	var current strings.Builder
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git") && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if current.Len() > 0 && strings.TrimSpace(current.String()) != "" {
		sections = append(sections, current.String())
	}
	return sections
}

// extractPathFromSection returns the new path of a diff section, or the old
// path for deletions.
func extractPathFromSection(section string) string {
	var old string
	for _, line := range strings.Split(section, "\n") {
		if strings.HasPrefix(line, "+++ b/") {
			return strings.TrimPrefix(line, "+++ b/")
		}
		if strings.HasPrefix(line, "--- a/") {
			old = strings.TrimPrefix(line, "--- a/")
		}
	}
	return old
}

func included(path string, opts Options) bool {
	if len(opts.Include) > 0 && !MatchesAny(path, opts.Include) {
		return false
	}
	return !MatchesAny(path, opts.Exclude)
}

// MatchesAny returns true if the path matches any of the given glob patterns.
func MatchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		matched, err := filepath.Match(pattern, path)
		if err == nil && matched {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok && strings.HasPrefix(path, prefix+"/") {
			return true
		}
		clean := strings.TrimPrefix(pattern, "**/")
		if clean != pattern {
			matched, err = filepath.Match(clean, filepath.Base(path))
			if err == nil && matched {
				return true
			}
			matched, err = filepath.Match(clean, path)
			if err == nil && matched {
				return true
			}
		}
	}
	return false
}

// Paths reads the given files, walking directories, and reports them as
// added files. Hidden directories such as .git are skipped.
func Paths(ctx context.Context, paths []string, opts Options) (Result, error) {
	fs := opts.fs()
	seen := make(map[string]bool)
	var files []compliance.ChangedFile

	add := func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Clean(path))
		if seen[name] || !included(name, opts) {
			return nil
		}
		seen[name] = true
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if len(data) > opts.maxBytes() || isBinary(data) {
			return nil
		}
		files = append(files, compliance.ChangedFile{
			Filename:  name,
			Status:    compliance.FileAdded,
			Additions: countLines(data),
			Content:   string(data),
		})
		return nil
	}

	for _, p := range paths {
		info, err := fs.Stat(p)
		if err != nil {
			return Result{}, fmt.Errorf("reading %s: %w", p, err)
		}
		if !info.IsDir() {
			if err := add(p); err != nil {
				return Result{}, err
			}
			continue
		}
		err = afero.Walk(fs, p, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if path != p && strings.HasPrefix(info.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			return add(path)
		})
		if err != nil {
			return Result{}, err
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return Result{Files: files, Mode: "paths"}, nil
}

// isBinary reports whether data looks like binary content.
func isBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte("\n"))
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(out), fmt.Errorf("%s: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}
