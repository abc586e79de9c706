package github

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/compliancebot/internal/compliance"
)

// textExtensions are the suffixes whose full content is fetched.
var textExtensions = []string{
	".js", ".ts", ".jsx", ".tsx", ".py", ".java", ".go", ".rs", ".c", ".cpp",
	".h", ".rb", ".php", ".swift", ".kt", ".scala", ".sh", ".bash", ".yml",
	".yaml", ".json", ".xml", ".html", ".css", ".scss", ".sass", ".less",
	".sql", ".md", ".txt", ".env",
}

// manifestNames are fetched even though their names carry no text suffix.
var manifestNames = map[string]bool{
	"go.mod": true,
}

// IsTextFile reports whether the content of filename should be fetched.
func IsTextFile(filename string) bool {
	if manifestNames[path.Base(filename)] {
		return true
	}
	lower := strings.ToLower(filename)
	for _, ext := range textExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// DefaultFetchConcurrency bounds parallel content requests.
const DefaultFetchConcurrency = 8

// PRSource resolves a pull request into its changed files.
type PRSource struct {
	client      *Client
	concurrency int
	logger      *zap.Logger
}

// NewPRSource returns a source reading pull requests through client.
func NewPRSource(client *Client, concurrency int, logger *zap.Logger) *PRSource {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PRSource{client: client, concurrency: concurrency, logger: logger.Named("github")}
}

// Resolve fills in the pull request metadata and fetches the content of every
// text file it changes. Removed files are dropped. A file whose content cannot
// be fetched is kept with its patch only.
func (s *PRSource) Resolve(ctx context.Context, target compliance.Target) (compliance.Target, []compliance.ChangedFile, error) {
	pr, err := s.client.GetPullRequest(ctx, target.Owner, target.Repo, target.Number)
	if err != nil {
		return target, nil, err
	}
	target = withPullRequest(target, pr)

	prFiles, err := s.client.ListPRFiles(ctx, target.Owner, target.Repo, target.Number)
	if err != nil {
		return target, nil, err
	}

	files := make([]compliance.ChangedFile, 0, len(prFiles))
	for _, f := range prFiles {
		status := compliance.FileStatus(f.Status)
		if status == compliance.FileRemoved {
			continue
		}
		files = append(files, compliance.ChangedFile{
			Filename:  f.Filename,
			Status:    status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Patch:     f.Patch,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range files {
		if !IsTextFile(files[i].Filename) {
			continue
		}
		g.Go(func() error {
			content, err := s.client.GetFileContent(gctx, target.Owner, target.Repo, files[i].Filename, target.HeadSHA)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("fetching file content failed",
					zap.String("file", files[i].Filename),
					zap.Error(err))
				return nil
			}
			files[i].Content = content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return target, nil, err
	}

	s.logger.Debug("resolved pull request",
		zap.Stringer("target", target),
		zap.Int("files", len(files)))
	return target, files, nil
}

func withPullRequest(t compliance.Target, pr PullRequest) compliance.Target {
	if pr.Head.SHA != "" {
		t.HeadSHA = pr.Head.SHA
	}
	if pr.Head.Ref != "" {
		t.Branch = pr.Head.Ref
	}
	if pr.Base.Ref != "" {
		t.BaseBranch = pr.Base.Ref
	}
	if pr.User.Login != "" {
		t.Author = pr.User.Login
	}
	if pr.Title != "" {
		t.Title = pr.Title
	}
	if pr.Body != "" {
		t.Description = pr.Body
	}
	return t
}
