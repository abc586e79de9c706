package github

import (
	"fmt"

	"github.com/dshills/compliancebot/internal/compliance"
)

// Repository identifies the repository a webhook event belongs to.
type Repository struct {
	FullName string `json:"full_name"`
}

// PullRequestEvent is the payload of a pull_request webhook.
type PullRequestEvent struct {
	Action      string      `json:"action"`
	Number      int         `json:"number"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
}

// IsActionSupported reports whether the action should trigger an analysis.
func (e PullRequestEvent) IsActionSupported() bool {
	switch e.Action {
	case "opened", "synchronize", "reopened":
		return true
	}
	return false
}

// Target converts the event into an analysis target.
func (e PullRequestEvent) Target() (compliance.Target, error) {
	owner, repo, err := SplitFullName(e.Repository.FullName)
	if err != nil {
		return compliance.Target{}, err
	}
	number := e.Number
	if number == 0 {
		number = e.PullRequest.Number
	}
	if number <= 0 {
		return compliance.Target{}, fmt.Errorf("pull_request event without a number")
	}
	return withPullRequest(compliance.Target{Owner: owner, Repo: repo, Number: number}, e.PullRequest), nil
}

// Issue is the issue (or pull request) an issue_comment belongs to.
type Issue struct {
	Number      int       `json:"number"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

// Comment is an issue comment.
type Comment struct {
	Body string `json:"body"`
	User User   `json:"user"`
}

// IssueCommentEvent is the payload of an issue_comment webhook.
type IssueCommentEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Comment    Comment    `json:"comment"`
	Repository Repository `json:"repository"`
}

// OnPullRequest reports whether the comment was left on a pull request.
func (e IssueCommentEvent) OnPullRequest() bool { return e.Issue.PullRequest != nil }

// Target converts the event into an analysis target.
func (e IssueCommentEvent) Target() (compliance.Target, error) {
	owner, repo, err := SplitFullName(e.Repository.FullName)
	if err != nil {
		return compliance.Target{}, err
	}
	if e.Issue.Number <= 0 {
		return compliance.Target{}, fmt.Errorf("issue_comment event without an issue number")
	}
	return compliance.Target{Owner: owner, Repo: repo, Number: e.Issue.Number}, nil
}
