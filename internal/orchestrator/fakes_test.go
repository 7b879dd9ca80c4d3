package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/openforge/mergebot/internal/domain"
)

// fakeForge models the forge as the durable system of record: every
// Process cycle fetches a fresh snapshot assembled from the current
// state, and only forge calls mutate that state.
type fakeForge struct {
	bot      domain.User
	base     domain.PullRequestView
	title    string
	body     string
	state    domain.PRState
	labels   []string
	comments []domain.Comment
	commits  map[domain.Hash]*domain.CommitMetadata
	url      string
	posted   int
}

func newFakeForge(pr domain.PullRequestView) *fakeForge {
	return &fakeForge{
		bot:      domain.User{Username: "mergebot"},
		base:     pr,
		title:    pr.Title,
		body:     pr.Body,
		state:    pr.State,
		labels:   append([]string{}, pr.Labels...),
		comments: append([]domain.Comment{}, pr.Comments...),
		commits:  make(map[domain.Hash]*domain.CommitMetadata),
		url:      "https://example.com/octo/jdk.git",
	}
}

func (f *fakeForge) snapshot() *domain.PullRequestView {
	pr := f.base
	pr.Title = f.title
	pr.Body = f.body
	pr.State = f.state
	pr.Labels = append([]string{}, f.labels...)
	pr.Comments = append([]domain.Comment{}, f.comments...)
	checks := make(map[string]domain.Check, len(f.base.Checks))
	for name, check := range f.base.Checks {
		checks[name] = check
	}
	pr.Checks = checks
	pr.Reviews = append([]domain.Review{}, f.base.Reviews...)
	return &pr
}

func (f *fakeForge) addUserComment(id string, user domain.User, body string) {
	f.comments = append(f.comments, domain.Comment{
		ID: id, Author: user, Body: body, CreatedAt: time.Now(),
	})
}

func (f *fakeForge) botBodies() []string {
	var out []string
	for _, c := range f.comments {
		if c.Author.Username == f.bot.Username {
			out = append(out, c.Body)
		}
	}
	return out
}

func (f *fakeForge) hasLabel(name string) bool {
	for _, l := range f.labels {
		if l == name {
			return true
		}
	}
	return false
}

func (f *fakeForge) PullRequest(ctx context.Context, id string) (*domain.PullRequestView, error) {
	return f.snapshot(), nil
}

func (f *fakeForge) ListOpen(ctx context.Context) ([]string, error) {
	return []string{f.base.ID}, nil
}

func (f *fakeForge) AddLabel(ctx context.Context, id, name string) error {
	if !f.hasLabel(name) {
		f.labels = append(f.labels, name)
	}
	return nil
}

func (f *fakeForge) RemoveLabel(ctx context.Context, id, name string) error {
	for i, l := range f.labels {
		if l == name {
			f.labels = append(f.labels[:i], f.labels[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeForge) PostComment(ctx context.Context, id, body string) (domain.Comment, error) {
	f.posted++
	c := domain.Comment{
		ID:        fmt.Sprintf("bot-%d", f.posted),
		Author:    f.bot,
		Body:      body,
		CreatedAt: time.Now(),
	}
	f.comments = append(f.comments, c)
	return c, nil
}

func (f *fakeForge) Comments(ctx context.Context, id string) ([]domain.Comment, error) {
	return append([]domain.Comment{}, f.comments...), nil
}

func (f *fakeForge) SetBody(ctx context.Context, id, body string) error {
	f.body = body
	return nil
}

func (f *fakeForge) SetTitle(ctx context.Context, id, title string) error {
	f.title = title
	return nil
}

func (f *fakeForge) SetState(ctx context.Context, id string, state domain.PRState) error {
	f.state = state
	return nil
}

func (f *fakeForge) CreateCheck(ctx context.Context, id string, check domain.Check) error {
	return nil
}

func (f *fakeForge) UpdateCheck(ctx context.Context, id string, check domain.Check) error {
	return nil
}

func (f *fakeForge) BotUser(ctx context.Context) (domain.User, error) {
	return f.bot, nil
}

func (f *fakeForge) SearchCommit(ctx context.Context, hash domain.Hash) (*domain.CommitMetadata, error) {
	if c, ok := f.commits[hash]; ok {
		return c, nil
	}
	return nil, domain.ErrNoSuchCommit
}

func (f *fakeForge) RepositoryURL(ctx context.Context, name string) (string, error) {
	return f.url, nil
}

type createdCommit struct {
	message   string
	author    domain.Author
	committer domain.Author
	parents   []domain.Hash
	tree      domain.Hash
}

type pushedRef struct {
	hash  domain.Hash
	url   string
	ref   string
	force bool
}

// fakeVCS is a canned-answer stand-in for the git adapter. Refs are
// keyed by "url ref" and updated by Push, which lets audit-trail and
// target-branch interactions play out across finalize steps.
type fakeVCS struct {
	refs         map[string]domain.Hash
	commits      map[domain.Hash]*domain.CommitMetadata
	files        map[domain.Hash][]byte
	ancestors    map[string]bool
	mergeBases   map[string]domain.Hash
	diffs        map[string]*domain.Diff
	createResult domain.Hash
	created      []createdCommit
	pushes       []pushedRef
	rebaseResult domain.Hash
	rebaseErr    error
	commitFiles  int
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		refs:       make(map[string]domain.Hash),
		commits:    make(map[domain.Hash]*domain.CommitMetadata),
		files:      make(map[domain.Hash][]byte),
		ancestors:  make(map[string]bool),
		mergeBases: make(map[string]domain.Hash),
		diffs:      make(map[string]*domain.Diff),
	}
}

func pairKey(a, b domain.Hash) string {
	return string(a) + " " + string(b)
}

func refKey(url, ref string) string {
	return url + " " + ref
}

func (v *fakeVCS) ResolveRef(ctx context.Context, name string) (domain.Hash, error) {
	if _, ok := v.commits[domain.Hash(name)]; ok {
		return domain.Hash(name), nil
	}
	return "", fmt.Errorf("unknown ref %s", name)
}

func (v *fakeVCS) Commits(ctx context.Context, from, to domain.Hash) ([]domain.CommitMetadata, error) {
	return nil, nil
}

func (v *fakeVCS) Commit(ctx context.Context, hash domain.Hash) (*domain.CommitMetadata, error) {
	if c, ok := v.commits[hash]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown commit %s", hash)
}

func (v *fakeVCS) IsAncestor(ctx context.Context, a, b domain.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	return v.ancestors[pairKey(a, b)], nil
}

func (v *fakeVCS) MergeBase(ctx context.Context, a, b domain.Hash) (domain.Hash, error) {
	if base, ok := v.mergeBases[pairKey(a, b)]; ok {
		return base, nil
	}
	if a == b {
		return a, nil
	}
	return "", domain.ErrUnrelatedHistory
}

func (v *fakeVCS) Diff(ctx context.Context, a, b domain.Hash) (*domain.Diff, error) {
	if d, ok := v.diffs[pairKey(a, b)]; ok {
		return d, nil
	}
	return &domain.Diff{From: a, To: b}, nil
}

func (v *fakeVCS) Fetch(ctx context.Context, url, ref string) (domain.Hash, error) {
	if tip, ok := v.refs[refKey(url, ref)]; ok {
		return tip, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrNoSuchRef, ref)
}

func (v *fakeVCS) Push(ctx context.Context, hash domain.Hash, url, ref string, force bool) error {
	v.pushes = append(v.pushes, pushedRef{hash: hash, url: url, ref: ref, force: force})
	v.refs[refKey(url, ref)] = hash
	return nil
}

func (v *fakeVCS) CreateCommit(ctx context.Context, message string, author, committer domain.Author,
	parents []domain.Hash, tree domain.Hash) (domain.Hash, error) {
	v.created = append(v.created, createdCommit{
		message: message, author: author, committer: committer,
		parents: append([]domain.Hash{}, parents...), tree: tree,
	})
	return v.createResult, nil
}

func (v *fakeVCS) Rebase(ctx context.Context, base, head, newBase domain.Hash) (domain.Hash, error) {
	if v.rebaseErr != nil {
		return "", v.rebaseErr
	}
	return v.rebaseResult, nil
}

func (v *fakeVCS) ReadFile(ctx context.Context, commit domain.Hash, path string) ([]byte, error) {
	if content, ok := v.files[commit]; ok {
		return content, nil
	}
	return nil, fmt.Errorf("no %s in %s", path, commit)
}

func (v *fakeVCS) CommitFile(ctx context.Context, message, path string, content []byte,
	parent domain.Hash) (domain.Hash, error) {
	v.commitFiles++
	hash := domain.Hash(fmt.Sprintf("%040x", 0xa1d17+v.commitFiles))
	v.files[hash] = content
	return hash, nil
}

type fakeTracker struct {
	issues map[string]*domain.Issue
	csrs   map[string]*domain.CSRIssue
}

func (t *fakeTracker) Issue(ctx context.Context, id string) (*domain.Issue, error) {
	if issue, ok := t.issues[id]; ok {
		return issue, nil
	}
	return nil, fmt.Errorf("no such issue %s", id)
}

func (t *fakeTracker) CSR(ctx context.Context, issueID string) (*domain.CSRIssue, error) {
	return t.csrs[issueID], nil
}
