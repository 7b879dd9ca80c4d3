package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/openforge/mergebot/internal/config"
	"github.com/openforge/mergebot/internal/domain"
	"github.com/openforge/mergebot/internal/repository"
	"github.com/openforge/mergebot/internal/service"
	"github.com/openforge/mergebot/internal/usecase"
)

// issueTitleRegex matches a PR title already rewritten to the canonical
// issue form "ID: Title". Issue ids are numeric, optionally carrying an
// uppercase project prefix, so descriptive titles like "Fix: typo" never
// parse as an issue line.
var issueTitleRegex = regexp.MustCompile(`^((?:[A-Z][A-Z0-9]*-)?\d+): (.+)$`)

// Machine drives one pull request through the integration lifecycle. It
// holds no state of its own: every Process call re-derives the complete
// state from the live pull request, so interrupted cycles, restarts and
// out-of-band label edits all converge on the next cycle.
type Machine struct {
	Forge        repository.Forge
	VCS          repository.VCS
	Tracker      repository.IssueTracker
	Census       repository.Census
	Config       *config.Config
	Readiness    *usecase.ReadinessEvaluator
	Backports    *usecase.BackportResolver
	MergeSources *usecase.MergeSourceResolver
	Integrity    *usecase.IntegrityVerifier
	Messages     service.MessageService
	Locks        *BranchLocks
	Log          *zap.Logger
}

// itemState is the per-cycle working set derived before any decision is
// made. It never outlives the cycle.
type itemState struct {
	pr       *domain.PullRequestView
	bot      domain.User
	replied  map[string]bool
	backport *domain.BackportRecord
	merge    *domain.MergeSpec
	// mergeProblem holds the resolution failure for a merge-title PR, so
	// the readiness verdict stays blocked until the title is corrected.
	mergeProblem string
	verdict      *domain.Verdict
}

func (m *Machine) repoKey() string {
	return m.Config.GithubOwner + "/" + m.Config.GithubRepo
}

// Process runs one full cycle for a single pull request.
func (m *Machine) Process(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, WorkItemTimeout)
	defer cancel()

	log := m.Log.With(zap.String("pr", id))

	bot, err := m.Forge.BotUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve bot user: %w", err)
	}
	pr, err := m.Forge.PullRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch pull request %s: %w", id, err)
	}

	st := &itemState{pr: pr, bot: bot, replied: repliedComments(pr.Comments, bot)}

	if pr.State == domain.PRClosed {
		return m.processClosed(ctx, st)
	}
	if pr.HasLabel(domain.LabelIntegrated) {
		// Pushed but never closed; finish the bookkeeping tail.
		if hash, ok := pushedHash(pr.Comments, bot); ok {
			return m.finishBookkeeping(ctx, st, hash)
		}
		return nil
	}

	// Crash recovery: a pre-push marker without a matching result
	// comment means a previous attempt died mid-finalize.
	if hash, ok := latestPrepush(pr.Comments, bot); ok {
		if _, announced := pushedHash(pr.Comments, bot); !announced {
			return m.recoverPrepush(ctx, st, hash)
		}
	}
	if hash, ok := pushedHash(pr.Comments, bot); ok {
		// Pushed and announced, but the labels or close never landed.
		return m.finishBookkeeping(ctx, st, hash)
	}

	if _, err := usecase.ParseTitle(pr.Title); err == nil {
		if err := m.normalizeBackportTitle(ctx, st); err != nil {
			return err
		}
	}

	if err := m.deriveRecords(ctx, st); err != nil {
		return err
	}
	if err := m.armAutoFromBody(ctx, st); err != nil {
		return err
	}

	verdict, err := m.Readiness.Apply(ctx, m.readinessInput(st))
	if err != nil {
		return err
	}
	st.verdict = verdict

	if err := m.dispatchCommands(ctx, st); err != nil {
		return err
	}

	// Auto-integration: armed by /integrate auto, fires as soon as the
	// verdict clears, acting as the author.
	if pr.HasLabel(domain.LabelAuto) && verdict.Ready && pr.State == domain.PROpen {
		log.Info("auto-integration armed and ready")
		return m.tryIntegrate(ctx, st, pr.Author, "", "")
	}
	return nil
}

// processClosed handles the only command meaningful on a closed PR:
// /open, which reopens a closed, non-integrated pull request.
func (m *Machine) processClosed(ctx context.Context, st *itemState) error {
	if st.pr.HasLabel(domain.LabelIntegrated) {
		return nil
	}
	for _, c := range st.pr.Comments {
		if c.Author.Username == st.bot.Username {
			continue
		}
		for _, inv := range domain.ParseCommands(c) {
			if st.replied[inv.CommentID] {
				continue
			}
			switch inv.Command.(type) {
			case domain.Open:
				if err := m.handleOpen(ctx, st, inv); err != nil {
					return err
				}
			case domain.Integrate, domain.Sponsor:
				if err := m.reply(ctx, st, inv,
					"The command `%s` can only be used in open pull requests.", commandWord(inv.Command)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// normalizeBackportTitle resolves a "Backport <hash>" title, rewrites it
// to the canonical issue form and latches the origin hash in a marker
// comment. Resolution failures are reported once and leave the title
// untouched so the author can correct it.
func (m *Machine) normalizeBackportTitle(ctx context.Context, st *itemState) error {
	pr := st.pr
	record, err := m.Backports.Resolve(ctx, pr)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoSuchCommit):
			return m.postOnce(ctx, st, fmt.Sprintf(
				"<!-- backport error -->\n@%s Could not find the commit designated by this pull request title. "+
					"To try again, update the title with a commit hash known to this project.", pr.Author.Username))
		case errors.Is(err, domain.ErrIsAncestor):
			return m.postOnce(ctx, st, fmt.Sprintf(
				"<!-- backport error -->\n@%s The commit designated by this pull request title is already part of this "+
					"pull request's own history, so it cannot be backported here.", pr.Author.Username))
		default:
			return err
		}
	}

	title := backportDisplayTitle(record)
	if err := m.Forge.SetTitle(ctx, pr.ID, title); err != nil {
		return fmt.Errorf("failed to rewrite backport title: %w", err)
	}
	pr.Title = title

	body := fmt.Sprintf("%s\nThis backport pull request has now been updated with issue and summary from the original commit.",
		backportMarker(record.OriginalHash))
	if _, err := m.Forge.PostComment(ctx, pr.ID, body); err != nil {
		return err
	}
	if !pr.HasLabel(domain.LabelBackport) {
		if err := m.Forge.AddLabel(ctx, pr.ID, domain.LabelBackport); err != nil {
			return err
		}
		pr.Labels = append(pr.Labels, domain.LabelBackport)
	}
	m.Log.Info("backport title normalized",
		zap.String("pr", pr.ID),
		zap.String("original", record.OriginalHash.Abbreviate()),
		zap.Bool("clean", record.Clean))
	return nil
}

// backportDisplayTitle is the canonical rewritten title: the primary
// issue line when the original commit named one, its first message line
// otherwise.
func backportDisplayTitle(record *domain.BackportRecord) string {
	if len(record.Issues) > 0 {
		return record.Issues[0].String()
	}
	if record.Title != "" {
		return record.Title
	}
	return "Backport " + string(record.OriginalHash)
}

// deriveRecords re-derives the backport record and merge spec for this
// cycle. Both are always computed from scratch; a stale record is never
// patched.
func (m *Machine) deriveRecords(ctx context.Context, st *itemState) error {
	pr := st.pr

	if origin, ok := backportOrigin(pr.Comments, st.bot); ok {
		record, err := m.Backports.ResolveHash(ctx, pr, origin)
		switch {
		case err == nil:
			st.backport = record
		case errors.Is(err, domain.ErrNoSuchCommit), errors.Is(err, domain.ErrIsAncestor):
			// The latched origin no longer resolves; treat as a plain PR
			// until the title is corrected.
			m.Log.Warn("latched backport origin no longer resolves",
				zap.String("pr", pr.ID), zap.String("origin", origin.Abbreviate()))
		default:
			return err
		}
	}

	// The clean label tracks the current classification.
	clean := st.backport != nil && st.backport.Clean
	if clean && !pr.HasLabel(domain.LabelClean) {
		if err := m.addLabel(ctx, st, domain.LabelClean); err != nil {
			return err
		}
		if err := m.postOnce(ctx, st,
			"This backport pull request has been marked as clean and can be integrated without a review."); err != nil {
			return err
		}
	}
	if !clean && pr.HasLabel(domain.LabelClean) && !cleanPinned(pr.Comments) {
		if err := m.removeLabel(ctx, st, domain.LabelClean); err != nil {
			return err
		}
	}
	if st.backport != nil && st.backport.Warning != "" {
		if err := m.postOnce(ctx, st, "⚠️ "+st.backport.Warning); err != nil {
			return err
		}
	}

	if st.backport == nil && usecase.IsMergeTitle(pr.Title) {
		spec, err := m.MergeSources.Resolve(ctx, pr)
		switch {
		case err == nil:
			st.merge = spec
		case domain.IsUserError(err) || isResolutionError(err):
			st.mergeProblem = err.Error()
			if postErr := m.postOnce(ctx, st, err.Error()); postErr != nil {
				return postErr
			}
		default:
			return err
		}
	}
	return nil
}

// armAutoFromBody arms the auto-integration latch when the pull request
// body carries the /integrate auto token. An author's later /integrate
// manual comment supersedes the body token permanently.
func (m *Machine) armAutoFromBody(ctx context.Context, st *itemState) error {
	if st.pr.HasLabel(domain.LabelAuto) {
		return nil
	}
	for _, c := range st.pr.Comments {
		if c.Author.Username != st.pr.Author.Username {
			continue
		}
		for _, inv := range domain.ParseCommands(c) {
			if cmd, ok := inv.Command.(domain.Integrate); ok && cmd.Mode == domain.IntegrateManual {
				return nil
			}
		}
	}
	body := domain.Comment{Body: st.pr.Body, Author: st.pr.Author}
	for _, inv := range domain.ParseCommands(body) {
		if cmd, ok := inv.Command.(domain.Integrate); ok && cmd.Mode == domain.IntegrateAuto {
			return m.addLabel(ctx, st, domain.LabelAuto)
		}
	}
	return nil
}

func isResolutionError(err error) bool {
	return errors.Is(err, domain.ErrInvalidSyntax) ||
		errors.Is(err, domain.ErrSourceNotAllowed) ||
		errors.Is(err, domain.ErrNoSuchProject) ||
		errors.Is(err, domain.ErrNoSuchRef) ||
		errors.Is(err, domain.ErrUnrelatedHistory) ||
		errors.Is(err, domain.ErrNoNewCommits)
}

func (m *Machine) readinessInput(st *itemState) *usecase.ReadinessInput {
	in := &usecase.ReadinessInput{
		PR:                st.pr,
		Backport:          st.backport,
		Merge:             st.merge != nil,
		MergeProblem:      st.mergeProblem,
		ReviewersOverride: reviewersOverride(st.pr.Comments, st.bot),
		CSRNeeded:         st.pr.HasLabel(domain.LabelCSR),
		Issues:            m.linkedIssues(st),
		Preview: func(reviewers []string) string {
			return m.Messages.Synthesize(m.commitMessage(st, reviewers))
		},
	}
	if st.backport != nil {
		in.ExtraFixVersions = m.Config.FixVersions
	}
	return in
}

// linkedIssues collects the issue set for this cycle: the title issue
// (or the backport record's issues), then /issue additions in
// association order.
func (m *Machine) linkedIssues(st *itemState) []domain.IssueRef {
	var out []domain.IssueRef
	seen := make(map[string]bool)
	add := func(ref domain.IssueRef) {
		if ref.ID == "" || seen[ref.ID] {
			return
		}
		seen[ref.ID] = true
		out = append(out, ref)
	}
	if st.backport != nil {
		for _, ref := range st.backport.Issues {
			add(ref)
		}
	} else if t := issueTitleRegex.FindStringSubmatch(st.pr.Title); t != nil {
		add(domain.IssueRef{ID: t[1], Title: t[2]})
	}
	for _, ref := range latchedIssues(st.pr.Comments, st.bot) {
		add(ref)
	}
	return out
}

// dispatchCommands handles every not-yet-replied command invocation in
// comment order. Each reply carries a hidden marker naming the comment
// it answers, which is both the dedup record and the resume point.
func (m *Machine) dispatchCommands(ctx context.Context, st *itemState) error {
	for _, c := range st.pr.Comments {
		if c.Author.Username == st.bot.Username {
			continue
		}
		for _, inv := range domain.ParseCommands(c) {
			if st.replied[inv.CommentID] {
				continue
			}
			if err := m.handleCommand(ctx, st, inv); err != nil {
				return err
			}
			st.replied[inv.CommentID] = true
		}
	}
	return nil
}

// reply posts a bot comment answering a command invocation.
func (m *Machine) reply(ctx context.Context, st *itemState, inv domain.Invocation,
	format string, args ...any) error {
	body := replyMarker(inv.CommentID) + "\n@" + inv.User.Username + " " + fmt.Sprintf(format, args...)
	_, err := m.Forge.PostComment(ctx, st.pr.ID, body)
	return err
}

// postOnce posts a comment unless an identical one already exists,
// keeping repeated evaluations from spamming the PR.
func (m *Machine) postOnce(ctx context.Context, st *itemState, body string) error {
	for _, c := range botComments(st.pr.Comments, st.bot) {
		if strings.TrimSpace(c.Body) == strings.TrimSpace(body) {
			return nil
		}
	}
	posted, err := m.Forge.PostComment(ctx, st.pr.ID, body)
	if err != nil {
		return err
	}
	st.pr.Comments = append(st.pr.Comments, posted)
	return nil
}

func commandWord(cmd domain.Command) string {
	switch cmd.(type) {
	case domain.Integrate:
		return "/integrate"
	case domain.Sponsor:
		return "/sponsor"
	case domain.Open:
		return "/open"
	default:
		return "/?"
	}
}
