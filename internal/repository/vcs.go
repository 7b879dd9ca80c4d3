package repository

import (
	"context"

	"github.com/openforge/mergebot/internal/domain"
)

// VCS defines the version-control operations the core consumes. The
// implementation operates on a local materialization of the managed
// repository; all remote interaction is explicit via Fetch and Push.
type VCS interface {
	// ResolveRef resolves a branch, tag or hash expression to a commit
	// hash within the local repository.
	ResolveRef(ctx context.Context, name string) (domain.Hash, error)
	// Commits lists the commits reachable from 'to' but not from
	// 'from', oldest first.
	Commits(ctx context.Context, from, to domain.Hash) ([]domain.CommitMetadata, error)
	// Commit returns the metadata of a single commit.
	Commit(ctx context.Context, hash domain.Hash) (*domain.CommitMetadata, error)
	// IsAncestor reports whether a is an ancestor of b.
	IsAncestor(ctx context.Context, a, b domain.Hash) (bool, error)
	// MergeBase returns the best common ancestor of a and b, or
	// domain.ErrUnrelatedHistory when they share none.
	MergeBase(ctx context.Context, a, b domain.Hash) (domain.Hash, error)
	// Diff computes the textual diff between two commits.
	Diff(ctx context.Context, a, b domain.Hash) (*domain.Diff, error)

	Fetch(ctx context.Context, url, ref string) (domain.Hash, error)
	Push(ctx context.Context, hash domain.Hash, url, ref string, force bool) error

	// CreateCommit writes a commit reusing the tree of 'tree' with the
	// given parents, message and identities, and returns its hash.
	CreateCommit(ctx context.Context, message string, author, committer domain.Author,
		parents []domain.Hash, tree domain.Hash) (domain.Hash, error)
	// Rebase replays the commits between base and head onto newBase.
	// It returns the new head, or an error when a conflict arises.
	Rebase(ctx context.Context, base, head, newBase domain.Hash) (domain.Hash, error)

	// ReadFile reads a file from the tree of the given commit.
	ReadFile(ctx context.Context, commit domain.Hash, path string) ([]byte, error)
	// CommitFile writes a single-file tree on top of parent (zero parent
	// for a root commit) and returns the commit hash. Used by the
	// integrity audit trail.
	CommitFile(ctx context.Context, message, path string, content []byte,
		parent domain.Hash) (domain.Hash, error)
}
