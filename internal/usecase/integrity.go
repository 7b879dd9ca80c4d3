package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openforge/mergebot/internal/domain"
	"github.com/openforge/mergebot/internal/repository"
)

const headsFile = "heads.txt"

// IntegrityVerifier maintains the append-only audit trail of head
// commits per (repository, branch) key, stored as commits on a side
// branch of a dedicated audit repository. A crash between UpdateBranch
// and the real push leaves the trail one ahead; the previous-head half
// of VerifyBranch's acceptance condition tolerates exactly that.
type IntegrityVerifier struct {
	VCS    repository.VCS
	Remote string
	Log    *zap.Logger
}

func auditRef(repoKey, branchKey string) string {
	return strings.NewReplacer("/", "-", ":", "-").Replace(repoKey) + "-" + branchKey
}

// VerifyBranch succeeds iff claimedHead matches the recorded current or
// the immediately-previous head for the key. Any other head signals a
// competing writer and returns domain.ErrIntegrityViolation, which must
// never be swallowed. An unrecorded key initializes the trail.
func (v *IntegrityVerifier) VerifyBranch(ctx context.Context, repoKey, branchKey string,
	claimedHead, claimedParent domain.Hash) error {
	ref := auditRef(repoKey, branchKey)
	tip, err := v.VCS.Fetch(ctx, v.Remote, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNoSuchRef) {
			return v.initialize(ctx, ref, repoKey, branchKey, claimedHead, claimedParent)
		}
		return err
	}
	record, err := v.readRecord(ctx, tip, ref)
	if err != nil {
		return err
	}
	if record.CurrentHead == claimedHead {
		return nil
	}
	if record.PreviousHead == claimedHead {
		// The previous attempt crashed between the audit push and the
		// real push; realign the trail with reality.
		v.Log.Info("resetting audit trail",
			zap.String("ref", ref),
			zap.String("from", record.CurrentHead.Abbreviate()),
			zap.String("to", claimedHead.Abbreviate()))
		message := fmt.Sprintf("Resetting %s from '%s' to '%s'", headsFile, record.CurrentHead, claimedHead)
		return v.append(ctx, ref, tip, message, claimedHead, claimedParent)
	}
	return fmt.Errorf("%w: expected head of branch %s in repo %s to be '%s', but it was '%s'",
		domain.ErrIntegrityViolation, branchKey, repoKey, record.CurrentHead, claimedHead)
}

// UpdateBranch shifts current to previous and records newHead as the
// current head. It must be called strictly before the real content push
// of an integration attempt. The attempt id ties the audit commit to
// the attempt's log lines.
func (v *IntegrityVerifier) UpdateBranch(ctx context.Context, repoKey, branchKey string,
	newHead, previousHead domain.Hash, attempt string) error {
	ref := auditRef(repoKey, branchKey)
	tip, err := v.VCS.Fetch(ctx, v.Remote, ref)
	if err != nil {
		return fmt.Errorf("failed to fetch audit ref %s: %w", ref, err)
	}
	record, err := v.readRecord(ctx, tip, ref)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Updating from '%s' to '%s' (attempt %s)", record.CurrentHead, newHead, attempt)
	return v.append(ctx, ref, tip, message, newHead, previousHead)
}

// Record returns the currently recorded head pair, or nil when the key
// has no trail yet.
func (v *IntegrityVerifier) Record(ctx context.Context, repoKey, branchKey string) (*domain.IntegrityRecord, error) {
	ref := auditRef(repoKey, branchKey)
	tip, err := v.VCS.Fetch(ctx, v.Remote, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNoSuchRef) {
			return nil, nil
		}
		return nil, err
	}
	return v.readRecord(ctx, tip, ref)
}

func (v *IntegrityVerifier) initialize(ctx context.Context, ref, repoKey, branchKey string,
	head, parent domain.Hash) error {
	message := fmt.Sprintf("Initialize %s with '%s' for %s:%s", headsFile, head, repoKey, branchKey)
	return v.append(ctx, ref, "", message, head, parent)
}

func (v *IntegrityVerifier) append(ctx context.Context, ref string, parentCommit domain.Hash,
	message string, current, previous domain.Hash) error {
	content := []byte(string(current) + "\n" + string(previous) + "\n")
	commit, err := v.VCS.CommitFile(ctx, message, headsFile, content, parentCommit)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	if err := v.VCS.Push(ctx, commit, v.Remote, ref, false); err != nil {
		return fmt.Errorf("failed to push audit ref %s: %w", ref, err)
	}
	return nil
}

func (v *IntegrityVerifier) readRecord(ctx context.Context, tip domain.Hash, ref string) (*domain.IntegrityRecord, error) {
	content, err := v.VCS.ReadFile(ctx, tip, headsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s for %s: %w", headsFile, ref, err)
	}
	// The previous line is empty when the trail was initialized against a
	// root commit, so the two lines are cut positionally rather than by
	// trimming trailing newlines away.
	lines := strings.SplitN(string(content), "\n", 3)
	if len(lines) < 2 {
		return nil, fmt.Errorf("corrupt %s file for branch %s", headsFile, ref)
	}
	return &domain.IntegrityRecord{
		CurrentHead:  domain.Hash(lines[0]),
		PreviousHead: domain.Hash(lines[1]),
	}, nil
}
