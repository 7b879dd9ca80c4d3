package repository

import (
	"context"

	"github.com/openforge/mergebot/internal/domain"
)

// Forge defines the interface for pull-request storage on the code host.
// Every read returns a fresh snapshot; the forge itself is the system of
// record for all durable bot state.
type Forge interface {
	// PullRequest fetches a fresh snapshot of the pull request.
	PullRequest(ctx context.Context, id string) (*domain.PullRequestView, error)
	// ListOpen returns the ids of open pull requests against the target.
	ListOpen(ctx context.Context) ([]string, error)

	AddLabel(ctx context.Context, id, name string) error
	RemoveLabel(ctx context.Context, id, name string) error
	PostComment(ctx context.Context, id, body string) (domain.Comment, error)
	Comments(ctx context.Context, id string) ([]domain.Comment, error)
	SetBody(ctx context.Context, id, body string) error
	SetTitle(ctx context.Context, id, title string) error
	SetState(ctx context.Context, id string, state domain.PRState) error
	CreateCheck(ctx context.Context, id string, check domain.Check) error
	UpdateCheck(ctx context.Context, id string, check domain.Check) error

	// BotUser is the forge account the bot acts as.
	BotUser(ctx context.Context) (domain.User, error)
	// SearchCommit locates a commit by hash anywhere in the project's
	// known repositories.
	SearchCommit(ctx context.Context, hash domain.Hash) (*domain.CommitMetadata, error)
	// RepositoryURL resolves a repository name to its remote URL, or an
	// error if the repository does not exist.
	RepositoryURL(ctx context.Context, name string) (string, error)
}
