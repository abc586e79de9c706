package github

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/output"
)

// CheckName is the default name of the check run attached to each head
// commit.
const CheckName = "Compliance Analysis"

// MaxInlineComments caps the inline comments posted per run.
const MaxInlineComments = 10

// Notifier publishes analysis runs on pull requests.
type Notifier struct {
	client    *Client
	logger    *zap.Logger
	checkName string
	now       func() time.Time
}

// NewNotifier returns a notifier posting through client.
func NewNotifier(client *Client, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, logger: logger.Named("github"), checkName: CheckName, now: time.Now}
}

// WithCheckName sets the check run name. An empty name keeps the default.
func (n *Notifier) WithCheckName(name string) *Notifier {
	if name != "" {
		n.checkName = name
	}
	return n
}

// StartCheck creates an in-progress check run on the head commit of target.
func (n *Notifier) StartCheck(ctx context.Context, target compliance.Target) (int64, error) {
	sha := target.HeadSHA
	if sha == "" {
		pr, err := n.client.GetPullRequest(ctx, target.Owner, target.Repo, target.Number)
		if err != nil {
			return 0, err
		}
		sha = pr.Head.SHA
	}
	return n.client.CreateCheckRun(ctx, target.Owner, target.Repo, CheckRun{
		Name:    n.checkName,
		HeadSHA: sha,
		Status:  "in_progress",
	})
}

// Publish posts the summary comment, a review with inline comments for the
// most severe findings, and completes the check run when checkID is set. Inline comment
// failures are logged only.
func (n *Notifier) Publish(ctx context.Context, run *compliance.AnalysisRun, checkID int64) error {
	t := run.Target
	var errs []error

	if err := n.client.CreateComment(ctx, t.Owner, t.Repo, t.Number, output.Summary(run)); err != nil {
		errs = append(errs, err)
	}

	if t.HeadSHA != "" {
		n.postInline(ctx, t, InlineFindings(run.Findings))
	}

	if checkID != 0 {
		completed := n.now().UTC()
		err := n.client.UpdateCheckRun(ctx, t.Owner, t.Repo, checkID, CheckRun{
			Status:      "completed",
			Conclusion:  string(run.Conclusion()),
			CompletedAt: &completed,
			Output: &CheckOutput{
				Title:   output.CheckTitle(run),
				Summary: output.CheckSummary(run),
			},
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// postInline posts the findings as one review. When GitHub rejects the
// review, usually because a line is outside the diff, each comment is posted
// on its own so the valid ones still land.
func (n *Notifier) postInline(ctx context.Context, t compliance.Target, findings []compliance.Finding) {
	if len(findings) == 0 {
		return
	}
	comments := make([]ReviewComment, 0, len(findings))
	for _, f := range findings {
		comments = append(comments, ReviewComment{Path: f.File, Line: f.Line, Side: "RIGHT", Body: output.InlineComment(f)})
	}
	err := n.client.PostReview(ctx, t.Owner, t.Repo, t.Number, ReviewRequest{
		CommitID: t.HeadSHA,
		Event:    "COMMENT",
		Comments: comments,
	})
	if err == nil {
		return
	}
	n.logger.Warn("review rejected, posting comments individually", zap.Error(err))

	for _, c := range comments {
		if err := n.client.CreateReviewComment(ctx, t.Owner, t.Repo, t.Number, t.HeadSHA, c); err != nil {
			n.logger.Warn("inline comment failed",
				zap.String("file", c.Path),
				zap.Int("line", c.Line),
				zap.Error(err))
		}
	}
}

// Reply posts body as a comment on target.
func (n *Notifier) Reply(ctx context.Context, target compliance.Target, body string) error {
	return n.client.CreateComment(ctx, target.Owner, target.Repo, target.Number, body)
}

// InlineFindings selects the critical and high findings that point at a line,
// in order, up to MaxInlineComments.
func InlineFindings(findings []compliance.Finding) []compliance.Finding {
	var out []compliance.Finding
	for _, f := range findings {
		if len(out) == MaxInlineComments {
			break
		}
		if f.Severity.AtLeast(compliance.SeverityHigh) && f.HasLine() {
			out = append(out, f)
		}
	}
	return out
}
