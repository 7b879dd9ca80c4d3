package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/openforge/mergebot/internal/domain"
)

// githubIssueTracker maps the tracker model onto GitHub issues in a
// dedicated tracker repository: fix versions are milestone titles, and
// a compatibility-review request is an issue labeled "csr" whose title
// starts with the gated issue's id. Approval is a closed CSR issue
// carrying the "approved" label.
type githubIssueTracker struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGithubIssueTracker creates an IssueTracker backed by a GitHub
// issue repository.
func NewGithubIssueTracker(token, owner, repo string) (IssueTracker, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: strings.TrimSpace(token)},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	limited := github_ratelimit.NewClient(tc.Transport)
	return &githubIssueTracker{
		client: github.NewClient(limited),
		owner:  owner,
		repo:   repo,
	}, nil
}

func (t *githubIssueTracker) Issue(ctx context.Context, id string) (*domain.Issue, error) {
	number, err := strconv.Atoi(strings.TrimPrefix(id, "#"))
	if err != nil {
		return nil, fmt.Errorf("invalid issue id %q: %w", id, err)
	}
	issue, _, err := t.client.Issues.Get(ctx, t.owner, t.repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s: %w", id, err)
	}
	out := &domain.Issue{
		ID:    strconv.Itoa(issue.GetNumber()),
		Title: issue.GetTitle(),
		State: issue.GetState(),
	}
	if m := issue.GetMilestone(); m != nil {
		out.FixVersions = []string{m.GetTitle()}
	}
	for _, l := range issue.Labels {
		if name := l.GetName(); strings.HasPrefix(name, "type:") {
			out.Type = strings.TrimPrefix(name, "type:")
		}
	}
	return out, nil
}

func (t *githubIssueTracker) CSR(ctx context.Context, issueID string) (*domain.CSRIssue, error) {
	query := fmt.Sprintf("repo:%s/%s label:csr in:title %q", t.owner, t.repo, issueID+":")
	result, _, err := t.client.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search for CSR of %s: %w", issueID, err)
	}
	for _, issue := range result.Issues {
		if !strings.HasPrefix(issue.GetTitle(), issueID+":") {
			continue
		}
		csr := &domain.CSRIssue{ID: strconv.Itoa(issue.GetNumber())}
		for _, l := range issue.Labels {
			switch l.GetName() {
			case "approved":
				csr.Approved = issue.GetState() == "closed"
			case "withdrawn":
				csr.Withdrawn = true
			}
		}
		if m := issue.GetMilestone(); m != nil {
			csr.FixVersions = []string{m.GetTitle()}
		}
		return csr, nil
	}
	return nil, nil
}

// noopIssueTracker serves deployments without an issue tracker: lookups
// fail, which leaves the CSR gate unresolved and makes /issue report
// the id as unknown.
type noopIssueTracker struct{}

// NewNoopIssueTracker creates an IssueTracker that knows no issues.
func NewNoopIssueTracker() IssueTracker {
	return &noopIssueTracker{}
}

func (noopIssueTracker) Issue(_ context.Context, id string) (*domain.Issue, error) {
	return nil, fmt.Errorf("no issue tracker configured; cannot resolve %s", id)
}

func (noopIssueTracker) CSR(context.Context, string) (*domain.CSRIssue, error) {
	return nil, nil
}
