package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/google/go-github/v74/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/openforge/mergebot/internal/config"
	"github.com/openforge/mergebot/internal/domain"
)

// githubForge implements Forge against the GitHub API: GraphQL for the
// snapshot reads, REST for the mutations.
type githubForge struct {
	v3    *github.Client
	v4    *githubv4.Client
	owner string
	repo  string
}

// NewGithubForge creates a Forge backed by GitHub with validation.
func NewGithubForge(token, owner, repo string) (Forge, error) {
	if err := config.ValidateGitHubToken(token); err != nil {
		return nil, fmt.Errorf("invalid GitHub token: %w", err)
	}
	if err := config.ValidateGitHubOwnerRepo(owner, repo); err != nil {
		return nil, fmt.Errorf("invalid repository configuration: %w", err)
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: strings.TrimSpace(token)},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	limited := github_ratelimit.NewClient(tc.Transport)
	return &githubForge{
		v3:    github.NewClient(limited),
		v4:    githubv4.NewClient(tc),
		owner: owner,
		repo:  repo,
	}, nil
}

type prQuery struct {
	Repository struct {
		PullRequest struct {
			Number  githubv4.Int
			Title   githubv4.String
			Body    githubv4.String
			IsDraft githubv4.Boolean
			State   githubv4.PullRequestState
			Author  struct {
				Login githubv4.String
			}
			BaseRefName githubv4.String
			BaseRef     struct {
				Target struct {
					Oid githubv4.String
				}
			}
			HeadRefOid     githubv4.String
			HeadRepository struct {
				NameWithOwner githubv4.String
			}
			Labels struct {
				Nodes []struct {
					Name githubv4.String
				}
			} `graphql:"labels(first:50)"`
			Reviews struct {
				Nodes []struct {
					Author struct {
						Login githubv4.String
					}
					State       githubv4.PullRequestReviewState
					SubmittedAt githubv4.DateTime
					Commit      struct {
						Oid githubv4.String
					}
				}
			} `graphql:"reviews(first:100)"`
		} `graphql:"pullRequest(number:$prNumber)"`
	} `graphql:"repository(owner:$owner,name:$name)"`
}

// PullRequest fetches a fresh snapshot of the pull request.
func (f *githubForge) PullRequest(ctx context.Context, id string) (*domain.PullRequestView, error) {
	number, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("invalid pull request id %q: %w", id, err)
	}
	var query prQuery
	vars := map[string]any{
		"owner":    githubv4.String(f.owner),
		"name":     githubv4.String(f.repo),
		"prNumber": githubv4.Int(number),
	}
	if err := f.v4.Query(ctx, &query, vars); err != nil {
		return nil, fmt.Errorf("failed to query pull request %s: %w", id, err)
	}
	node := query.Repository.PullRequest
	pr := &domain.PullRequestView{
		ID:         id,
		Repo:       f.owner + "/" + f.repo,
		Title:      string(node.Title),
		Body:       string(node.Body),
		Author:     domain.User{ID: string(node.Author.Login), Username: string(node.Author.Login)},
		Draft:      bool(node.IsDraft),
		TargetRef:  string(node.BaseRefName),
		TargetHash: domain.Hash(node.BaseRef.Target.Oid),
		HeadHash:   domain.Hash(node.HeadRefOid),
		SourceRepo: string(node.HeadRepository.NameWithOwner),
		Checks:     map[string]domain.Check{},
	}
	if node.State == githubv4.PullRequestStateOpen {
		pr.State = domain.PROpen
	} else {
		pr.State = domain.PRClosed
	}
	for _, l := range node.Labels.Nodes {
		pr.Labels = append(pr.Labels, string(l.Name))
	}
	for _, r := range node.Reviews.Nodes {
		review := domain.Review{
			Reviewer: domain.User{ID: string(r.Author.Login), Username: string(r.Author.Login)},
			Hash:     domain.Hash(r.Commit.Oid),
			At:       r.SubmittedAt.Time,
		}
		switch r.State {
		case githubv4.PullRequestReviewStateApproved:
			review.Verdict = domain.ReviewApproved
		case githubv4.PullRequestReviewStateChangesRequested:
			review.Verdict = domain.ReviewRequested
		default:
			review.Verdict = domain.ReviewComment
		}
		pr.Reviews = append(pr.Reviews, review)
	}
	if err := f.fillChecks(ctx, number, pr); err != nil {
		return nil, err
	}
	comments, err := f.Comments(ctx, id)
	if err != nil {
		return nil, err
	}
	pr.Comments = comments
	return pr, nil
}

func (f *githubForge) fillChecks(ctx context.Context, number int, pr *domain.PullRequestView) error {
	runs, _, err := f.v3.Checks.ListCheckRunsForRef(ctx, f.owner, f.repo, string(pr.HeadHash),
		&github.ListCheckRunsOptions{})
	if err != nil {
		return fmt.Errorf("failed to list check runs: %w", err)
	}
	for _, run := range runs.CheckRuns {
		check := domain.Check{
			Name: run.GetName(),
			Hash: domain.Hash(run.GetHeadSHA()),
		}
		switch {
		case run.GetStatus() != "completed":
			check.Status = domain.CheckInProgress
		case run.GetConclusion() == "success":
			check.Status = domain.CheckSuccess
		default:
			check.Status = domain.CheckFailure
		}
		if run.GetOutput() != nil {
			check.Title = run.GetOutput().GetTitle()
			check.Summary = run.GetOutput().GetSummary()
		}
		pr.Checks[check.Name] = check
	}
	return nil
}

// ListOpen returns the ids of open pull requests against the target.
func (f *githubForge) ListOpen(ctx context.Context) ([]string, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var ids []string
	for {
		prs, resp, err := f.v3.PullRequests.List(ctx, f.owner, f.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests: %w", err)
		}
		for _, pr := range prs {
			ids = append(ids, strconv.Itoa(pr.GetNumber()))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return ids, nil
}

func (f *githubForge) AddLabel(ctx context.Context, id, name string) error {
	number, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid pull request id %q: %w", id, err)
	}
	_, _, err = f.v3.Issues.AddLabelsToIssue(ctx, f.owner, f.repo, number, []string{name})
	if err != nil {
		return fmt.Errorf("failed to add label %s: %w", name, err)
	}
	return nil
}

func (f *githubForge) RemoveLabel(ctx context.Context, id, name string) error {
	number, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid pull request id %q: %w", id, err)
	}
	_, err = f.v3.Issues.RemoveLabelForIssue(ctx, f.owner, f.repo, number, name)
	if err != nil {
		return fmt.Errorf("failed to remove label %s: %w", name, err)
	}
	return nil
}

func (f *githubForge) PostComment(ctx context.Context, id, body string) (domain.Comment, error) {
	number, err := strconv.Atoi(id)
	if err != nil {
		return domain.Comment{}, fmt.Errorf("invalid pull request id %q: %w", id, err)
	}
	comment, _, err := f.v3.Issues.CreateComment(ctx, f.owner, f.repo, number,
		&github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return domain.Comment{}, fmt.Errorf("failed to post comment: %w", err)
	}
	return domain.Comment{
		ID:        strconv.FormatInt(comment.GetID(), 10),
		Author:    domain.User{ID: comment.GetUser().GetLogin(), Username: comment.GetUser().GetLogin()},
		Body:      comment.GetBody(),
		CreatedAt: comment.GetCreatedAt().Time,
	}, nil
}

func (f *githubForge) Comments(ctx context.Context, id string) ([]domain.Comment, error) {
	number, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("invalid pull request id %q: %w", id, err)
	}
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []domain.Comment
	for {
		comments, resp, err := f.v3.Issues.ListComments(ctx, f.owner, f.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}
		for _, c := range comments {
			out = append(out, domain.Comment{
				ID:        strconv.FormatInt(c.GetID(), 10),
				Author:    domain.User{ID: c.GetUser().GetLogin(), Username: c.GetUser().GetLogin()},
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (f *githubForge) SetBody(ctx context.Context, id, body string) error {
	return f.editPR(ctx, id, &github.PullRequest{Body: github.Ptr(body)})
}

func (f *githubForge) SetTitle(ctx context.Context, id, title string) error {
	return f.editPR(ctx, id, &github.PullRequest{Title: github.Ptr(title)})
}

func (f *githubForge) SetState(ctx context.Context, id string, state domain.PRState) error {
	return f.editPR(ctx, id, &github.PullRequest{State: github.Ptr(string(state))})
}

func (f *githubForge) editPR(ctx context.Context, id string, edit *github.PullRequest) error {
	number, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid pull request id %q: %w", id, err)
	}
	_, _, err = f.v3.PullRequests.Edit(ctx, f.owner, f.repo, number, edit)
	if err != nil {
		return fmt.Errorf("failed to update pull request %s: %w", id, err)
	}
	return nil
}

func (f *githubForge) CreateCheck(ctx context.Context, id string, check domain.Check) error {
	opts := github.CreateCheckRunOptions{
		Name:    check.Name,
		HeadSHA: string(check.Hash),
		Output: &github.CheckRunOutput{
			Title:   github.Ptr(check.Title),
			Summary: github.Ptr(check.Summary),
		},
	}
	if check.Status == domain.CheckInProgress {
		opts.Status = github.Ptr("in_progress")
	} else {
		opts.Status = github.Ptr("completed")
		opts.Conclusion = github.Ptr(conclusionFor(check.Status))
		opts.CompletedAt = &github.Timestamp{Time: time.Now()}
	}
	_, _, err := f.v3.Checks.CreateCheckRun(ctx, f.owner, f.repo, opts)
	if err != nil {
		return fmt.Errorf("failed to create check %s: %w", check.Name, err)
	}
	return nil
}

func (f *githubForge) UpdateCheck(ctx context.Context, id string, check domain.Check) error {
	// Check runs are keyed by (name, head sha); re-creating one with
	// the same key replaces it.
	return f.CreateCheck(ctx, id, check)
}

func conclusionFor(status domain.CheckStatus) string {
	if status == domain.CheckSuccess {
		return "success"
	}
	return "failure"
}

func (f *githubForge) BotUser(ctx context.Context) (domain.User, error) {
	user, _, err := f.v3.Users.Get(ctx, "")
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to fetch bot user: %w", err)
	}
	return domain.User{ID: user.GetLogin(), Username: user.GetLogin()}, nil
}

func (f *githubForge) SearchCommit(ctx context.Context, hash domain.Hash) (*domain.CommitMetadata, error) {
	commit, _, err := f.v3.Repositories.GetCommit(ctx, f.owner, f.repo, string(hash), nil)
	if err != nil {
		return nil, domain.ErrNoSuchCommit
	}
	meta := &domain.CommitMetadata{
		Hash: domain.Hash(commit.GetSHA()),
		Author: domain.Author{
			Name:  commit.GetCommit().GetAuthor().GetName(),
			Email: commit.GetCommit().GetAuthor().GetEmail(),
		},
		Committer: domain.Author{
			Name:  commit.GetCommit().GetCommitter().GetName(),
			Email: commit.GetCommit().GetCommitter().GetEmail(),
		},
		Message: strings.Split(commit.GetCommit().GetMessage(), "\n"),
		URL:     commit.GetHTMLURL(),
	}
	for _, parent := range commit.Parents {
		meta.Parents = append(meta.Parents, domain.Hash(parent.GetSHA()))
	}
	return meta, nil
}

func (f *githubForge) RepositoryURL(ctx context.Context, name string) (string, error) {
	owner, repo := f.owner, name
	if before, after, ok := strings.Cut(name, "/"); ok {
		owner, repo = before, after
	}
	r, _, err := f.v3.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", domain.ErrNoSuchProject
	}
	return r.GetCloneURL(), nil
}
