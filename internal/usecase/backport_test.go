package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openforge/mergebot/internal/domain"
	"github.com/openforge/mergebot/internal/service"
)

var (
	originalHash = domain.Hash(strings.Repeat("ab", 20))
	parentHash   = domain.Hash(strings.Repeat("cd", 20))
	headHash     = domain.Hash(strings.Repeat("ef", 20))
	targetHash   = domain.Hash(strings.Repeat("12", 20))
	branchPoint  = domain.Hash(strings.Repeat("34", 20))
)

func backportPR() *domain.PullRequestView {
	return &domain.PullRequestView{
		ID:         "42",
		Title:      "Backport " + string(originalHash),
		HeadHash:   headHash,
		TargetHash: targetHash,
	}
}

func newBackportResolver(forge *mockForge, vcs *mockVCS) *BackportResolver {
	return &BackportResolver{
		Forge:       forge,
		VCS:         vcs,
		DiffCompare: service.NewDiffCompareService(1.0),
		Messages:    service.NewMessageService(),
	}
}

func TestParseTitle(t *testing.T) {
	t.Run("Should parse the canonical form", func(t *testing.T) {
		hash, err := ParseTitle("Backport " + string(originalHash))
		require.NoError(t, err)
		assert.Equal(t, originalHash, hash)
	})
	t.Run("Should be case-insensitive and whitespace-tolerant", func(t *testing.T) {
		hash, err := ParseTitle("  backport    " + strings.ToUpper(string(originalHash)) + "  ")
		require.NoError(t, err)
		assert.Equal(t, originalHash, hash)
	})
	t.Run("Should report a missing designation", func(t *testing.T) {
		_, err := ParseTitle("Fix the frobnicator")
		assert.ErrorIs(t, err, domain.ErrBackportNotFound)
	})
	t.Run("Should reject a short hash", func(t *testing.T) {
		_, err := ParseTitle("Backport abc123")
		assert.ErrorIs(t, err, domain.ErrBackportNotFound)
	})
}

func TestBackportResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	sameDiff := func() *domain.Diff {
		return &domain.Diff{Patches: []domain.Patch{{
			Path:  "a.go",
			Hunks: []domain.Hunk{{Added: []string{"new line"}, Removed: []string{"old line"}}},
		}}}
	}
	original := func() *domain.CommitMetadata {
		return &domain.CommitMetadata{
			Hash:    originalHash,
			Parents: []domain.Hash{parentHash},
			Message: []string{"4711: Fix the frobnicator", "", "Reviewed-by: alice"},
		}
	}

	t.Run("Should classify a matching diff as clean", func(t *testing.T) {
		forge := new(mockForge)
		vcs := new(mockVCS)
		r := newBackportResolver(forge, vcs)
		forge.On("SearchCommit", ctx, originalHash).Return(original(), nil)
		vcs.On("IsAncestor", ctx, originalHash, headHash).Return(false, nil)
		vcs.On("Diff", ctx, parentHash, originalHash).Return(sameDiff(), nil)
		vcs.On("MergeBase", ctx, targetHash, headHash).Return(branchPoint, nil)
		vcs.On("Diff", ctx, branchPoint, headHash).Return(sameDiff(), nil)

		record, err := r.Resolve(ctx, backportPR())
		require.NoError(t, err)
		assert.True(t, record.Clean)
		assert.Empty(t, record.Warning)
		assert.Equal(t, originalHash, record.OriginalHash)
		require.Len(t, record.Issues, 1)
		assert.Equal(t, "4711", record.Issues[0].ID)
		forge.AssertExpectations(t)
		vcs.AssertExpectations(t)
	})
	t.Run("Should classify a differing diff as not clean", func(t *testing.T) {
		forge := new(mockForge)
		vcs := new(mockVCS)
		r := newBackportResolver(forge, vcs)
		other := &domain.Diff{Patches: []domain.Patch{{
			Path:  "a.go",
			Hunks: []domain.Hunk{{Added: []string{"different line"}}},
		}}}
		forge.On("SearchCommit", ctx, originalHash).Return(original(), nil)
		vcs.On("IsAncestor", ctx, originalHash, headHash).Return(false, nil)
		vcs.On("Diff", ctx, parentHash, originalHash).Return(sameDiff(), nil)
		vcs.On("MergeBase", ctx, targetHash, headHash).Return(branchPoint, nil)
		vcs.On("Diff", ctx, branchPoint, headHash).Return(other, nil)

		record, err := r.Resolve(ctx, backportPR())
		require.NoError(t, err)
		assert.False(t, record.Clean)
		assert.Empty(t, record.Warning)
	})
	t.Run("Should classify a truncated diff as not clean with a warning", func(t *testing.T) {
		forge := new(mockForge)
		vcs := new(mockVCS)
		r := newBackportResolver(forge, vcs)
		truncated := sameDiff()
		truncated.Truncated = true
		forge.On("SearchCommit", ctx, originalHash).Return(original(), nil)
		vcs.On("IsAncestor", ctx, originalHash, headHash).Return(false, nil)
		vcs.On("Diff", ctx, parentHash, originalHash).Return(truncated, nil)
		vcs.On("MergeBase", ctx, targetHash, headHash).Return(branchPoint, nil)
		vcs.On("Diff", ctx, branchPoint, headHash).Return(sameDiff(), nil)

		record, err := r.Resolve(ctx, backportPR())
		require.NoError(t, err)
		assert.False(t, record.Clean)
		assert.NotEmpty(t, record.Warning)
	})
	t.Run("Should report an unknown commit", func(t *testing.T) {
		forge := new(mockForge)
		vcs := new(mockVCS)
		r := newBackportResolver(forge, vcs)
		forge.On("SearchCommit", ctx, originalHash).Return(nil, domain.ErrNoSuchCommit)

		_, err := r.Resolve(ctx, backportPR())
		assert.ErrorIs(t, err, domain.ErrNoSuchCommit)
	})
	t.Run("Should reject a self-referential backport", func(t *testing.T) {
		forge := new(mockForge)
		vcs := new(mockVCS)
		r := newBackportResolver(forge, vcs)
		forge.On("SearchCommit", ctx, originalHash).Return(original(), nil)
		vcs.On("IsAncestor", ctx, originalHash, headHash).Return(true, nil)

		_, err := r.Resolve(ctx, backportPR())
		assert.ErrorIs(t, err, domain.ErrIsAncestor)
	})
	t.Run("Should mark a parentless original as not clean", func(t *testing.T) {
		forge := new(mockForge)
		vcs := new(mockVCS)
		r := newBackportResolver(forge, vcs)
		root := original()
		root.Parents = nil
		forge.On("SearchCommit", ctx, originalHash).Return(root, nil)
		vcs.On("IsAncestor", ctx, originalHash, headHash).Return(false, nil)

		record, err := r.Resolve(ctx, backportPR())
		require.NoError(t, err)
		assert.False(t, record.Clean)
		assert.NotEmpty(t, record.Warning)
	})
	t.Run("Should replace the record wholesale on a new title", func(t *testing.T) {
		forge := new(mockForge)
		vcs := new(mockVCS)
		r := newBackportResolver(forge, vcs)
		second := domain.Hash(strings.Repeat("56", 20))
		updated := &domain.CommitMetadata{
			Hash:    second,
			Parents: []domain.Hash{parentHash},
			Message: []string{"4712: Another fix"},
		}
		forge.On("SearchCommit", ctx, second).Return(updated, nil)
		vcs.On("IsAncestor", ctx, second, headHash).Return(false, nil)
		vcs.On("Diff", ctx, parentHash, second).Return(sameDiff(), nil)
		vcs.On("MergeBase", ctx, targetHash, headHash).Return(branchPoint, nil)
		vcs.On("Diff", ctx, branchPoint, headHash).Return(sameDiff(), nil)

		pr := backportPR()
		pr.Title = "Backport " + string(second)
		record, err := r.Resolve(ctx, pr)
		require.NoError(t, err)
		assert.Equal(t, second, record.OriginalHash)
		require.Len(t, record.Issues, 1)
		assert.Equal(t, "4712", record.Issues[0].ID)
	})
	t.Run("Should pass commands through mock expectations exactly once", func(t *testing.T) {
		forge := new(mockForge)
		vcs := new(mockVCS)
		r := newBackportResolver(forge, vcs)
		forge.On("SearchCommit", ctx, mock.Anything).Return(nil, domain.ErrNoSuchCommit).Once()
		_, err := r.Resolve(ctx, backportPR())
		assert.Error(t, err)
		forge.AssertExpectations(t)
	})
}
