package repository

import (
	"context"

	"github.com/openforge/mergebot/internal/domain"
)

// IssueTracker defines the issue-tracker lookup the core consumes.
type IssueTracker interface {
	// Issue fetches an issue snapshot by id.
	Issue(ctx context.Context, id string) (*domain.Issue, error)
	// CSR returns the compatibility-review issue linked to the given
	// issue, or nil when none exists.
	CSR(ctx context.Context, issueID string) (*domain.CSRIssue, error)
}
