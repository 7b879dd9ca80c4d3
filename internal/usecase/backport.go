package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/openforge/mergebot/internal/domain"
	"github.com/openforge/mergebot/internal/repository"
	"github.com/openforge/mergebot/internal/service"
)

// backportTitleRegex matches a backport designation in a PR title,
// case-insensitive with arbitrary interior whitespace.
var backportTitleRegex = regexp.MustCompile(`(?i)^backport\s+([0-9a-f]{40})\s*$`)

// BackportResolver resolves the original commit referenced by a
// backport PR title and computes the clean classification. Each title
// edit re-invokes it from scratch: the returned record replaces any
// prior one wholesale, never patching a stale record incrementally.
type BackportResolver struct {
	Forge       repository.Forge
	VCS         repository.VCS
	DiffCompare service.DiffCompareService
	Messages    service.MessageService
}

// ParseTitle extracts the designated original hash from a PR title.
func ParseTitle(title string) (domain.Hash, error) {
	m := backportTitleRegex.FindStringSubmatch(strings.TrimSpace(title))
	if m == nil {
		return "", domain.ErrBackportNotFound
	}
	return domain.Hash(strings.ToLower(m[1])), nil
}

// Resolve parses the title, validates the original commit and derives a
// fresh BackportRecord for the given PR snapshot.
func (r *BackportResolver) Resolve(ctx context.Context, pr *domain.PullRequestView) (*domain.BackportRecord, error) {
	hash, err := ParseTitle(pr.Title)
	if err != nil {
		return nil, err
	}
	return r.ResolveHash(ctx, pr, hash)
}

// ResolveHash derives a fresh BackportRecord from a known original
// hash. Used on every cycle after the title has been rewritten to the
// issue form, when the hash comes from the latched marker instead.
func (r *BackportResolver) ResolveHash(ctx context.Context, pr *domain.PullRequestView,
	hash domain.Hash) (*domain.BackportRecord, error) {
	original, err := r.Forge.SearchCommit(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNoSuchCommit) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoSuchCommit, hash)
		}
		return nil, err
	}
	// A backport may not reference its own history, even transitively.
	isAncestor, err := r.VCS.IsAncestor(ctx, original.Hash, pr.HeadHash)
	if err != nil {
		return nil, err
	}
	if isAncestor {
		return nil, fmt.Errorf("%w: %s", domain.ErrIsAncestor, original.Hash)
	}

	record := &domain.BackportRecord{OriginalHash: original.Hash}
	message, err := r.Messages.Parse(strings.Join(original.Message, "\n"))
	if err == nil {
		record.Title = message.Title
		record.Issues = message.Issues
		record.Summaries = message.Summaries
		record.Contributors = message.Contributors
		record.Additional = message.Additional
	}

	clean, warning, err := r.classify(ctx, pr, original)
	if err != nil {
		return nil, err
	}
	record.Clean = clean
	record.Warning = warning
	return record, nil
}

// classify compares the original commit's diff against the PR's diff.
// Irretrievable diffs classify as not clean with a warning instead of
// failing the resolution.
func (r *BackportResolver) classify(ctx context.Context, pr *domain.PullRequestView,
	original *domain.CommitMetadata) (bool, string, error) {
	if len(original.Parents) == 0 {
		return false, "original commit has no parent; cannot compare diffs", nil
	}
	originalDiff, err := r.VCS.Diff(ctx, original.Parents[0], original.Hash)
	if err != nil {
		return false, fmt.Sprintf("could not retrieve the diff of the original commit: %v", err), nil
	}
	branchPoint, err := r.VCS.MergeBase(ctx, pr.TargetHash, pr.HeadHash)
	if err != nil {
		return false, "", err
	}
	prDiff, err := r.VCS.Diff(ctx, branchPoint, pr.HeadHash)
	if err != nil {
		return false, fmt.Sprintf("could not retrieve the diff of this pull request: %v", err), nil
	}
	if originalDiff.Truncated || prDiff.Truncated {
		return false, "the diff could not be fully retrieved; treating this backport as not clean", nil
	}
	return r.DiffCompare.FuzzyEqual(originalDiff, prDiff), "", nil
}
