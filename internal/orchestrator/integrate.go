package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openforge/mergebot/internal/domain"
	"github.com/openforge/mergebot/internal/usecase"
)

// tryIntegrate performs a full integration attempt on behalf of
// integrator. All effects land on the forge or the target repository
// before the next one starts, so a crash at any point is recoverable by
// re-deriving state on the next cycle.
func (m *Machine) tryIntegrate(ctx context.Context, st *itemState, integrator domain.User,
	commentID string, guard domain.Hash) error {
	release, err := m.Locks.Acquire(ctx, m.repoKey(), m.Config.TargetRef)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, FinalizeTimeout)
	defer cancel()

	pr := st.pr
	// The attempt id correlates log lines and the audit-trail commit of
	// one integration attempt across retries and restarts.
	attempt := uuid.NewString()
	log := m.Log.With(zap.String("pr", pr.ID),
		zap.String("integrator", integrator.Username),
		zap.String("attempt", attempt))

	url, err := m.Forge.RepositoryURL(ctx, m.repoKey())
	if err != nil {
		return err
	}
	targetTip, err := m.VCS.Fetch(ctx, url, m.Config.TargetRef)
	if err != nil {
		return fmt.Errorf("failed to fetch target branch %s: %w", m.Config.TargetRef, err)
	}
	if guard != "" && guard != targetTip {
		return m.postReply(ctx, st, commentID, integrator, fmt.Sprintf(
			"The head of the `%s` branch is no longer at the requested hash `%s` (it is now `%s`). "+
				"Type `/integrate` again to integrate on top of the current head.",
			m.Config.TargetRef, guard, targetTip))
	}

	tipMeta, err := m.VCS.Commit(ctx, targetTip)
	if err != nil {
		return err
	}
	var tipParent domain.Hash
	if len(tipMeta.Parents) > 0 {
		tipParent = tipMeta.Parents[0]
	}
	// A head neither current nor previous in the audit trail means a
	// competing writer; this aborts loudly and is never auto-resolved.
	if err := m.Integrity.VerifyBranch(ctx, m.repoKey(), m.Config.TargetRef, targetTip, tipParent); err != nil {
		return err
	}

	finalHash, rebaseNote, err := m.buildFinalCommit(ctx, st, integrator, targetTip)
	if err != nil {
		if domain.IsUserError(err) {
			return m.postReply(ctx, st, commentID, integrator, err.Error())
		}
		return err
	}
	log.Info("integration commit created",
		zap.String("commit", finalHash.Abbreviate()),
		zap.String("target", targetTip.Abbreviate()))

	f := NewFinalizer(log)
	f.AddStep(FinalizeStep{
		Name: "prepush-comment",
		Probe: func(ctx context.Context) (bool, error) {
			h, ok := latestPrepush(pr.Comments, st.bot)
			return ok && h == finalHash, nil
		},
		Execute: func(ctx context.Context) error {
			body := prepushMarker(finalHash)
			if commentID != "" {
				body += "\n" + replyMarker(commentID)
			}
			body += fmt.Sprintf("\nGoing to push as commit %s.", finalHash)
			if rebaseNote != "" {
				body += "\n" + rebaseNote
			}
			posted, err := m.Forge.PostComment(ctx, pr.ID, body)
			if err != nil {
				return err
			}
			pr.Comments = append(pr.Comments, posted)
			return nil
		},
	})
	f.AddStep(FinalizeStep{
		Name: "audit-record",
		Probe: func(ctx context.Context) (bool, error) {
			record, err := m.Integrity.Record(ctx, m.repoKey(), m.Config.TargetRef)
			if err != nil {
				return false, err
			}
			return record != nil && record.CurrentHead == finalHash, nil
		},
		Execute: func(ctx context.Context) error {
			return m.Integrity.UpdateBranch(ctx, m.repoKey(), m.Config.TargetRef, finalHash, targetTip, attempt)
		},
	})
	f.AddStep(FinalizeStep{
		Name: "push",
		Probe: func(ctx context.Context) (bool, error) {
			tip, err := m.VCS.Fetch(ctx, url, m.Config.TargetRef)
			if err != nil {
				return false, err
			}
			return m.VCS.IsAncestor(ctx, finalHash, tip)
		},
		Execute: func(ctx context.Context) error {
			return m.VCS.Push(ctx, finalHash, url, m.Config.TargetRef, false)
		},
	})
	m.addBookkeepingSteps(f, st, finalHash)

	return f.Run(ctx)
}

// buildFinalCommit constructs the commit that will land on the target:
// a squashed commit with the synthesized message for ordinary PRs, a
// repointed merge commit for merge PRs. Returns the commit hash and an
// optional user-facing note about rebasing.
func (m *Machine) buildFinalCommit(ctx context.Context, st *itemState, integrator domain.User,
	targetTip domain.Hash) (domain.Hash, string, error) {
	pr := st.pr
	author := m.attribution(pr.Author)
	committer := m.attribution(integrator)

	if st.merge != nil {
		// The final commit reuses the human merge's tree with the current
		// target tip and the resolved source tip as parents, preserving
		// every individual source commit unsquashed. Reusing the tree is
		// only sound while the merge was built on the current tip: a
		// target that advanced in between would have its commits silently
		// reverted, so that case fails closed.
		head, err := m.VCS.Commit(ctx, pr.HeadHash)
		if err != nil {
			return "", "", err
		}
		if len(head.Parents) == 0 || head.Parents[0] != targetTip {
			return "", "", domain.NewUserError(
				"The `%s` branch has advanced since this merge was created. "+
					"Please merge the latest `%s` into your branch and try again.",
				m.Config.TargetRef, m.Config.TargetRef)
		}
		message := usecase.MergeMessage(st.merge, m.Config.MergeMessageLiteral)
		hash, err := m.VCS.CreateCommit(ctx, message, author, committer,
			st.merge.FinalParents(targetTip), pr.HeadHash)
		if err != nil {
			return "", "", err
		}
		return hash, "", nil
	}

	base, err := m.VCS.MergeBase(ctx, targetTip, pr.HeadHash)
	if err != nil {
		return "", "", err
	}
	tree := pr.HeadHash
	var note string
	if base != targetTip {
		rebased, err := m.VCS.Rebase(ctx, base, pr.HeadHash, targetTip)
		if err != nil {
			return "", "", domain.NewUserError(
				"This pull request can not be rebased automatically onto the current `%s` branch. "+
					"Please merge `%s` into your branch and resolve the conflicts, then try again.",
				m.Config.TargetRef, m.Config.TargetRef)
		}
		tree = rebased
		note = "Your commit was automatically rebased without conflicts."
	}

	message := m.Messages.Synthesize(m.commitMessage(st, verdictReviewers(st.verdict)))
	hash, err := m.VCS.CreateCommit(ctx, message, author, committer,
		[]domain.Hash{targetTip}, tree)
	if err != nil {
		return "", "", err
	}
	return hash, note, nil
}

// verdictReviewers flattens the verdict's reviewer entries to usernames
// in their role-weight order.
func verdictReviewers(verdict *domain.Verdict) []string {
	if verdict == nil {
		return nil
	}
	var out []string
	for _, r := range verdict.Reviewers {
		out = append(out, r.User.Username)
	}
	return out
}

// commitMessage assembles the structured final commit message for this
// cycle from the derived records and latched markers.
func (m *Machine) commitMessage(st *itemState, reviewers []string) *domain.CommitMessage {
	msg := &domain.CommitMessage{
		Issues: m.linkedIssues(st),
	}
	if len(msg.Issues) == 0 {
		msg.Title = st.pr.Title
	}
	msg.Reviewers = reviewers
	msg.Contributors = latchedContributors(st.pr.Comments, st.bot)
	if st.backport != nil {
		msg.Original = st.backport.OriginalHash
		msg.Summaries = st.backport.Summaries
		msg.Contributors = append(st.backport.Contributors, msg.Contributors...)
		msg.Additional = st.backport.Additional
	}
	return msg
}

// attribution maps a forge user to a commit identity, preferring the
// census roster over the forge-derived fallback.
func (m *Machine) attribution(user domain.User) domain.Author {
	if a, ok := m.Census.Attribution(user.Username); ok {
		return a
	}
	return domain.Author{
		Name:  user.Username,
		Email: user.Username + "@users.noreply.github.com",
	}
}

// recoverPrepush resumes an attempt that died between the pre-push
// marker and the result comment. If the announced commit reached the
// target the bookkeeping tail is completed; otherwise the commit was
// lost with the scratch state and the attempt is redone from scratch.
func (m *Machine) recoverPrepush(ctx context.Context, st *itemState, hash domain.Hash) error {
	pr := st.pr
	url, err := m.Forge.RepositoryURL(ctx, m.repoKey())
	if err != nil {
		return err
	}
	tip, err := m.VCS.Fetch(ctx, url, m.Config.TargetRef)
	if err != nil {
		return err
	}
	landed, err := m.VCS.IsAncestor(ctx, hash, tip)
	if err == nil && landed {
		m.Log.Info("recovering landed integration", zap.String("pr", pr.ID),
			zap.String("commit", hash.Abbreviate()))
		return m.finishBookkeeping(ctx, st, hash)
	}

	m.Log.Warn("redoing interrupted integration", zap.String("pr", pr.ID),
		zap.String("commit", hash.Abbreviate()))
	if err := m.deriveRecords(ctx, st); err != nil {
		return err
	}
	verdict, err := m.Readiness.Apply(ctx, m.readinessInput(st))
	if err != nil {
		return err
	}
	st.verdict = verdict
	if !verdict.Ready {
		return nil
	}
	integrator := pr.Author
	if invoker, ok := m.prepushInvoker(st); ok {
		integrator = invoker
	}
	return m.tryIntegrate(ctx, st, integrator, "", "")
}

// prepushInvoker recovers the user whose command started the
// interrupted attempt from the reply marker inside the pre-push
// comment.
func (m *Machine) prepushInvoker(st *itemState) (domain.User, bool) {
	for _, c := range botComments(st.pr.Comments, st.bot) {
		if prepushMarkerRegex.MatchString(c.Body) {
			if rm := replyMarkerRegex.FindStringSubmatch(c.Body); rm != nil {
				for _, orig := range st.pr.Comments {
					if orig.ID == rm[1] {
						return orig.Author, true
					}
				}
			}
		}
	}
	return domain.User{}, false
}

// finishBookkeeping completes the post-push tail for a commit known to
// have landed: result comment, label shuffle, close.
func (m *Machine) finishBookkeeping(ctx context.Context, st *itemState, hash domain.Hash) error {
	f := NewFinalizer(m.Log.With(zap.String("pr", st.pr.ID)))
	m.addBookkeepingSteps(f, st, hash)
	return f.Run(ctx)
}

// addBookkeepingSteps appends the post-push steps shared by fresh
// attempts and recovery.
func (m *Machine) addBookkeepingSteps(f *Finalizer, st *itemState, hash domain.Hash) {
	pr := st.pr
	f.AddStep(FinalizeStep{
		Name: "result-comment",
		Probe: func(ctx context.Context) (bool, error) {
			h, ok := pushedHash(pr.Comments, st.bot)
			return ok && h == hash, nil
		},
		Execute: func(ctx context.Context) error {
			posted, err := m.Forge.PostComment(ctx, pr.ID,
				fmt.Sprintf("Pushed as commit %s.", hash))
			if err != nil {
				return err
			}
			pr.Comments = append(pr.Comments, posted)
			return nil
		},
	})
	f.AddStep(FinalizeStep{
		Name: "labels",
		Execute: func(ctx context.Context) error {
			for _, label := range []string{
				domain.LabelReady, domain.LabelSponsor, domain.LabelDelegated,
				domain.LabelRFR, domain.LabelAuto,
			} {
				if err := m.removeLabel(ctx, st, label); err != nil {
					return err
				}
			}
			return m.addLabel(ctx, st, domain.LabelIntegrated)
		},
	})
	f.AddStep(FinalizeStep{
		Name: "close",
		Probe: func(ctx context.Context) (bool, error) {
			return pr.State == domain.PRClosed, nil
		},
		Execute: func(ctx context.Context) error {
			if err := m.Forge.SetState(ctx, pr.ID, domain.PRClosed); err != nil {
				return err
			}
			pr.State = domain.PRClosed
			return nil
		},
	})
}

// postReply posts a user-facing failure answer, tied to the originating
// command comment when one exists.
func (m *Machine) postReply(ctx context.Context, st *itemState, commentID string,
	user domain.User, text string) error {
	if commentID != "" {
		return m.reply(ctx, st, domain.Invocation{CommentID: commentID, User: user}, "%s", text)
	}
	return m.postOnce(ctx, st, "@"+user.Username+" "+text)
}
