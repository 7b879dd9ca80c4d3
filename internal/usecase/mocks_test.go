package usecase

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/openforge/mergebot/internal/domain"
)

// Mock for Forge - implements ALL methods from the Forge interface
type mockForge struct{ mock.Mock }

func (m *mockForge) PullRequest(ctx context.Context, id string) (*domain.PullRequestView, error) {
	args := m.Called(ctx, id)
	if pr := args.Get(0); pr != nil {
		return pr.(*domain.PullRequestView), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockForge) ListOpen(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockForge) AddLabel(ctx context.Context, id, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}
func (m *mockForge) RemoveLabel(ctx context.Context, id, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}
func (m *mockForge) PostComment(ctx context.Context, id, body string) (domain.Comment, error) {
	args := m.Called(ctx, id, body)
	return args.Get(0).(domain.Comment), args.Error(1)
}
func (m *mockForge) Comments(ctx context.Context, id string) ([]domain.Comment, error) {
	args := m.Called(ctx, id)
	if comments := args.Get(0); comments != nil {
		return comments.([]domain.Comment), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockForge) SetBody(ctx context.Context, id, body string) error {
	args := m.Called(ctx, id, body)
	return args.Error(0)
}
func (m *mockForge) SetTitle(ctx context.Context, id, title string) error {
	args := m.Called(ctx, id, title)
	return args.Error(0)
}
func (m *mockForge) SetState(ctx context.Context, id string, state domain.PRState) error {
	args := m.Called(ctx, id, state)
	return args.Error(0)
}
func (m *mockForge) CreateCheck(ctx context.Context, id string, check domain.Check) error {
	args := m.Called(ctx, id, check)
	return args.Error(0)
}
func (m *mockForge) UpdateCheck(ctx context.Context, id string, check domain.Check) error {
	args := m.Called(ctx, id, check)
	return args.Error(0)
}
func (m *mockForge) BotUser(ctx context.Context) (domain.User, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.User), args.Error(1)
}
func (m *mockForge) SearchCommit(ctx context.Context, hash domain.Hash) (*domain.CommitMetadata, error) {
	args := m.Called(ctx, hash)
	if c := args.Get(0); c != nil {
		return c.(*domain.CommitMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockForge) RepositoryURL(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

// Mock for VCS - implements ALL methods from the VCS interface
type mockVCS struct{ mock.Mock }

func (m *mockVCS) ResolveRef(ctx context.Context, name string) (domain.Hash, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.Hash), args.Error(1)
}
func (m *mockVCS) Commits(ctx context.Context, from, to domain.Hash) ([]domain.CommitMetadata, error) {
	args := m.Called(ctx, from, to)
	if commits := args.Get(0); commits != nil {
		return commits.([]domain.CommitMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVCS) Commit(ctx context.Context, hash domain.Hash) (*domain.CommitMetadata, error) {
	args := m.Called(ctx, hash)
	if c := args.Get(0); c != nil {
		return c.(*domain.CommitMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVCS) IsAncestor(ctx context.Context, a, b domain.Hash) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}
func (m *mockVCS) MergeBase(ctx context.Context, a, b domain.Hash) (domain.Hash, error) {
	args := m.Called(ctx, a, b)
	return args.Get(0).(domain.Hash), args.Error(1)
}
func (m *mockVCS) Diff(ctx context.Context, a, b domain.Hash) (*domain.Diff, error) {
	args := m.Called(ctx, a, b)
	if d := args.Get(0); d != nil {
		return d.(*domain.Diff), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVCS) Fetch(ctx context.Context, url, ref string) (domain.Hash, error) {
	args := m.Called(ctx, url, ref)
	return args.Get(0).(domain.Hash), args.Error(1)
}
func (m *mockVCS) Push(ctx context.Context, hash domain.Hash, url, ref string, force bool) error {
	args := m.Called(ctx, hash, url, ref, force)
	return args.Error(0)
}
func (m *mockVCS) CreateCommit(ctx context.Context, message string, author, committer domain.Author,
	parents []domain.Hash, tree domain.Hash) (domain.Hash, error) {
	args := m.Called(ctx, message, author, committer, parents, tree)
	return args.Get(0).(domain.Hash), args.Error(1)
}
func (m *mockVCS) Rebase(ctx context.Context, base, head, newBase domain.Hash) (domain.Hash, error) {
	args := m.Called(ctx, base, head, newBase)
	return args.Get(0).(domain.Hash), args.Error(1)
}
func (m *mockVCS) ReadFile(ctx context.Context, commit domain.Hash, path string) ([]byte, error) {
	args := m.Called(ctx, commit, path)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVCS) CommitFile(ctx context.Context, message, path string, content []byte,
	parent domain.Hash) (domain.Hash, error) {
	args := m.Called(ctx, message, path, content, parent)
	return args.Get(0).(domain.Hash), args.Error(1)
}

// Mock for IssueTracker
type mockTracker struct{ mock.Mock }

func (m *mockTracker) Issue(ctx context.Context, id string) (*domain.Issue, error) {
	args := m.Called(ctx, id)
	if issue := args.Get(0); issue != nil {
		return issue.(*domain.Issue), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockTracker) CSR(ctx context.Context, issueID string) (*domain.CSRIssue, error) {
	args := m.Called(ctx, issueID)
	if csr := args.Get(0); csr != nil {
		return csr.(*domain.CSRIssue), args.Error(1)
	}
	return nil, args.Error(1)
}
