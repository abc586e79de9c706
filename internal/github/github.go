package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.github.com"

// perPage is the page size used for list endpoints.
const perPage = 100

// Client provides access to the GitHub REST API.
type Client struct {
	token   string
	apiURL  string
	httpCli *http.Client
}

// Options configures a Client. Empty fields fall back to GITHUB_TOKEN,
// GITHUB_API_URL and the public API.
type Options struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

// NewClient creates a new GitHub client. A token is required.
func NewClient(opts Options) (*Client, error) {
	token := opts.Token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN environment variable is not set")
	}

	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = os.Getenv("GITHUB_API_URL")
	}
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	apiURL = strings.TrimRight(apiURL, "/")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		token:   token,
		apiURL:  apiURL,
		httpCli: &http.Client{Timeout: timeout},
	}, nil
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("authentication failed: %s", e.Body)
	case http.StatusUnprocessableEntity:
		return fmt.Sprintf("GitHub rejected request (422): %s", e.Body)
	}
	return fmt.Sprintf("GitHub API error (status %d): %s", e.StatusCode, e.Body)
}

// IsAuthError reports whether err is a 401 or 403 from the API.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do sends a request and decodes a JSON response into out when out is
// non-nil. The raw body is returned for callers that want it.
func (c *Client) do(ctx context.Context, method, path, accept string, payload, out any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if accept == "" {
		accept = "application/vnd.github+json"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
	}
	return body, nil
}

// User is a GitHub account.
type User struct {
	Login string `json:"login"`
}

// Ref is one side of a pull request.
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequest is the subset of pull request fields the bot uses.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	User   User   `json:"user"`
	Head   Ref    `json:"head"`
	Base   Ref    `json:"base"`
}

// GetPullRequest fetches pull request metadata.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, prNumber int) (PullRequest, error) {
	var pr PullRequest
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, prNumber), "", nil, &pr)
	if IsNotFound(err) {
		return PullRequest{}, fmt.Errorf("PR #%d not found in %s/%s: %w", prNumber, owner, repo, err)
	}
	if err != nil {
		return PullRequest{}, fmt.Errorf("fetching PR: %w", err)
	}
	return pr, nil
}

// PRFile represents a file changed in a pull request.
type PRFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// ListPRFiles fetches every file changed in a pull request, following
// pagination.
func (c *Client) ListPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]PRFile, error) {
	var all []PRFile
	for page := 1; ; page++ {
		var files []PRFile
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d", owner, repo, prNumber, perPage, page)
		if _, err := c.do(ctx, http.MethodGet, path, "", nil, &files); err != nil {
			return nil, fmt.Errorf("fetching PR files: %w", err)
		}
		all = append(all, files...)
		if len(files) < perPage {
			return all, nil
		}
	}
}

// GetFileContent fetches the raw content of path at ref.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	p := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, escapePath(path))
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}
	body, err := c.do(ctx, http.MethodGet, p, "application/vnd.github.raw", nil, nil)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", path, err)
	}
	return string(body), nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// CreateComment posts an issue comment on a pull request.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, prNumber int, body string) error {
	payload := map[string]string{"body": body}
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, prNumber), "", payload, nil); err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	return nil
}

// ReviewComment represents an inline comment on a PR review.
type ReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Side string `json:"side,omitempty"`
	Body string `json:"body"`
}

// ReviewRequest represents a PR review to post.
type ReviewRequest struct {
	CommitID string          `json:"commit_id,omitempty"`
	Body     string          `json:"body"`
	Event    string          `json:"event"`
	Comments []ReviewComment `json:"comments"`
}

// PostReview posts a pull request review with inline comments.
func (c *Client) PostReview(ctx context.Context, owner, repo string, prNumber int, review ReviewRequest) error {
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, prNumber), "", review, nil); err != nil {
		return fmt.Errorf("posting review: %w", err)
	}
	return nil
}

// CreateReviewComment posts a single inline comment on commitID.
func (c *Client) CreateReviewComment(ctx context.Context, owner, repo string, prNumber int, commitID string, comment ReviewComment) error {
	payload := struct {
		ReviewComment
		CommitID string `json:"commit_id"`
	}{comment, commitID}
	if payload.Side == "" {
		payload.Side = "RIGHT"
	}
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls/%d/comments", owner, repo, prNumber), "", payload, nil); err != nil {
		return fmt.Errorf("posting review comment on %s:%d: %w", comment.Path, comment.Line, err)
	}
	return nil
}

// CheckOutput is the visible body of a check run.
type CheckOutput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Text    string `json:"text,omitempty"`
}

// CheckRun creates or updates a check run.
type CheckRun struct {
	Name        string       `json:"name,omitempty"`
	HeadSHA     string       `json:"head_sha,omitempty"`
	Status      string       `json:"status,omitempty"`
	Conclusion  string       `json:"conclusion,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Output      *CheckOutput `json:"output,omitempty"`
}

// CreateCheckRun creates a check run and returns its id.
func (c *Client) CreateCheckRun(ctx context.Context, owner, repo string, run CheckRun) (int64, error) {
	var created struct {
		ID int64 `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/check-runs", owner, repo), "", run, &created); err != nil {
		return 0, fmt.Errorf("creating check run: %w", err)
	}
	return created.ID, nil
}

// UpdateCheckRun updates an existing check run.
func (c *Client) UpdateCheckRun(ctx context.Context, owner, repo string, id int64, run CheckRun) error {
	if _, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/%s/check-runs/%d", owner, repo, id), "", run, nil); err != nil {
		return fmt.Errorf("updating check run %d: %w", id, err)
	}
	return nil
}

var (
	httpsRemoteRe = regexp.MustCompile(`https?://[^/]+/([^/]+)/([^/.\s]+)`)
	sshRemoteRe   = regexp.MustCompile(`[^@]+@[^:]+:([^/]+)/([^/.\s]+)`)
)

// DetectRepo parses owner/repo from the git remote origin URL.
func DetectRepo() (owner, repo string, err error) {
	out, err := exec.Command("git", "remote", "get-url", "origin").Output()
	if err != nil {
		return "", "", fmt.Errorf("cannot detect repo: git remote get-url origin failed: %w", err)
	}
	return ParseRemoteURL(strings.TrimSpace(string(out)))
}

// ParseRemoteURL extracts owner/repo from a git remote URL.
func ParseRemoteURL(url string) (owner, repo string, err error) {
	url = strings.TrimSuffix(url, ".git")

	if m := httpsRemoteRe.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], nil
	}
	if m := sshRemoteRe.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], nil
	}
	return "", "", fmt.Errorf("cannot parse owner/repo from remote URL: %s", url)
}

// SplitFullName splits "owner/repo".
func SplitFullName(fullName string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository name %q", fullName)
	}
	return owner, repo, nil
}
