package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openforge/mergebot/internal/domain"
)

// Command authorization is checked before any label mutation: a failed
// authorization produces exactly one reply comment and nothing else.

func (m *Machine) handleCommand(ctx context.Context, st *itemState, inv domain.Invocation) error {
	if inv.Command == nil {
		// A known command word with malformed arguments.
		return m.reply(ctx, st, inv, "Invalid command arguments - see the documentation for accepted syntax.")
	}
	switch cmd := inv.Command.(type) {
	case domain.Integrate:
		return m.handleIntegrate(ctx, st, inv, cmd)
	case domain.Sponsor:
		return m.handleSponsor(ctx, st, inv)
	case domain.CSR:
		return m.handleCSR(ctx, st, inv, cmd)
	case domain.Reviewers:
		return m.handleReviewers(ctx, st, inv, cmd)
	case domain.Contributor:
		return m.handleContributor(ctx, st, inv, cmd)
	case domain.IssueEdit:
		return m.handleIssueEdit(ctx, st, inv, cmd)
	case domain.Open:
		return m.reply(ctx, st, inv, "This pull request is already open.")
	default:
		return m.reply(ctx, st, inv, "Unknown command.")
	}
}

func (m *Machine) handleIntegrate(ctx context.Context, st *itemState, inv domain.Invocation,
	cmd domain.Integrate) error {
	pr := st.pr
	// An earlier command in this same batch may already have pushed and
	// closed the pull request; integration must never run twice.
	if pr.State != domain.PROpen || pr.HasLabel(domain.LabelIntegrated) {
		return m.reply(ctx, st, inv, "The command `/integrate` can only be used in open pull requests.")
	}
	isAuthor := inv.User.Username == pr.Author.Username

	mode, deprecated := cmd.Mode.Deprecated()
	var note string
	if deprecated {
		note = fmt.Sprintf("\n\nNote: `/integrate %s` is deprecated and will be removed in a future version. "+
			"Use `/integrate %s` instead.", cmd.Mode, mode)
	}

	switch mode {
	case domain.IntegrateAuto:
		if !isAuthor {
			return m.replyUnauthorizedIntegrate(ctx, st, inv)
		}
		if err := m.addLabel(ctx, st, domain.LabelAuto); err != nil {
			return err
		}
		return m.reply(ctx, st, inv,
			"This pull request will be automatically integrated when it is ready.%s", note)
	case domain.IntegrateManual:
		if !isAuthor {
			return m.replyUnauthorizedIntegrate(ctx, st, inv)
		}
		if err := m.removeLabel(ctx, st, domain.LabelAuto); err != nil {
			return err
		}
		return m.reply(ctx, st, inv,
			"This pull request will have to be integrated manually using the `/integrate` command.%s", note)
	case domain.IntegrateDelegate:
		if !isAuthor {
			return m.replyUnauthorizedIntegrate(ctx, st, inv)
		}
		if err := m.addLabel(ctx, st, domain.LabelDelegated); err != nil {
			return err
		}
		return m.reply(ctx, st, inv,
			"Integration of this pull request has been delegated and may be completed by any project committer "+
				"using the `/integrate` command.%s", note)
	case domain.IntegrateUndelegate:
		if !isAuthor {
			return m.replyUnauthorizedIntegrate(ctx, st, inv)
		}
		if err := m.removeLabel(ctx, st, domain.LabelDelegated); err != nil {
			return err
		}
		return m.reply(ctx, st, inv,
			"Integration of this pull request is no longer delegated and may only be completed by the author.%s", note)
	}

	// Direct integration, optionally guarded by a target hash.
	if cmd.RawTarget != "" {
		return m.reply(ctx, st, inv, "`%s` is not a valid commit hash.", cmd.RawTarget)
	}
	if !isAuthor {
		if !pr.HasLabel(domain.LabelDelegated) || !m.Census.IsCommitter(inv.User.Username) {
			return m.replyUnauthorizedIntegrate(ctx, st, inv)
		}
		return m.tryIntegrate(ctx, st, inv.User, inv.CommentID, cmd.Target)
	}

	if !st.verdict.Ready {
		return m.reply(ctx, st, inv,
			"This pull request has not yet been marked as ready for integration:\n\n%s",
			bulletList(st.verdict.Reasons))
	}
	if !m.Census.IsCommitter(pr.Author.Username) {
		// The sponsor flow: latch the request and wait for a committer.
		if err := m.addLabel(ctx, st, domain.LabelSponsor); err != nil {
			return err
		}
		return m.reply(ctx, st, inv,
			"Your change (at version %s) is now ready to be sponsored by a Committer. "+
				"An eligible Committer can sponsor it by typing `/sponsor` in a new comment.%s",
			pr.HeadHash.Abbreviate(), suggestSponsors(st))
	}
	return m.tryIntegrate(ctx, st, inv.User, inv.CommentID, cmd.Target)
}

func (m *Machine) handleSponsor(ctx context.Context, st *itemState, inv domain.Invocation) error {
	pr := st.pr
	if pr.State != domain.PROpen || pr.HasLabel(domain.LabelIntegrated) {
		return m.reply(ctx, st, inv, "The command `/sponsor` can only be used in open pull requests.")
	}
	if !m.Census.IsCommitter(inv.User.Username) {
		return m.reply(ctx, st, inv,
			"Only project Committers are allowed to sponsor changes.")
	}
	if inv.User.Username == pr.Author.Username {
		return m.reply(ctx, st, inv, "You cannot sponsor your own change.")
	}
	if !pr.HasLabel(domain.LabelSponsor) {
		return m.reply(ctx, st, inv,
			"The change author (@%s) must issue the `/integrate` command before the integration can be sponsored.",
			pr.Author.Username)
	}
	if !st.verdict.Ready {
		return m.reply(ctx, st, inv,
			"This pull request has not yet been marked as ready for integration:\n\n%s",
			bulletList(st.verdict.Reasons))
	}
	return m.tryIntegrate(ctx, st, inv.User, inv.CommentID, "")
}

func (m *Machine) handleCSR(ctx context.Context, st *itemState, inv domain.Invocation, cmd domain.CSR) error {
	if cmd.Needed {
		if err := m.addLabel(ctx, st, domain.LabelCSR); err != nil {
			return err
		}
		return m.reply(ctx, st, inv,
			"This pull request will not be integrated until all associated CSR requests are approved.")
	}
	if !m.Census.IsReviewer(inv.User.Username) {
		return m.reply(ctx, st, inv,
			"Only project Reviewers can determine that a CSR is not needed.")
	}
	if err := m.removeLabel(ctx, st, domain.LabelCSR); err != nil {
		return err
	}
	return m.reply(ctx, st, inv,
		"Determined that a CSR request is not needed for this pull request.")
}

func (m *Machine) handleReviewers(ctx context.Context, st *itemState, inv domain.Invocation,
	cmd domain.Reviewers) error {
	if !m.Census.IsReviewer(inv.User.Username) {
		return m.reply(ctx, st, inv,
			"Only project Reviewers are allowed to change the number of required reviewers.")
	}
	noun := "review"
	if cmd.Count != 1 {
		noun = "reviews"
	}
	return m.reply(ctx, st, inv, "%s\nThe number of required %s for this pull request is now set to %d.",
		reviewersMarker(cmd.Count), noun, cmd.Count)
}

func (m *Machine) handleContributor(ctx context.Context, st *itemState, inv domain.Invocation,
	cmd domain.Contributor) error {
	if inv.User.Username != st.pr.Author.Username {
		return m.reply(ctx, st, inv,
			"Only the author (@%s) is allowed to modify the list of additional contributors.", st.pr.Author.Username)
	}
	if cmd.Who.Name == "" || !strings.Contains(cmd.Who.Email, "@") {
		return m.reply(ctx, st, inv,
			"A contributor must be specified on the form `Full Name <email@address>`.")
	}
	if cmd.Add {
		return m.reply(ctx, st, inv, "%s\nContributor `%s` successfully added.",
			contributorMarker(true, cmd.Who), cmd.Who)
	}
	return m.reply(ctx, st, inv, "%s\nContributor `%s` successfully removed.",
		contributorMarker(false, cmd.Who), cmd.Who)
}

func (m *Machine) handleIssueEdit(ctx context.Context, st *itemState, inv domain.Invocation,
	cmd domain.IssueEdit) error {
	if inv.User.Username != st.pr.Author.Username {
		return m.reply(ctx, st, inv,
			"Only the author (@%s) is allowed to modify the list of associated issues.", st.pr.Author.Username)
	}
	if !cmd.Add {
		return m.reply(ctx, st, inv, "%s\nRemoving additional issue from issue list: `%s`.",
			issueMarker(false, domain.IssueRef{ID: cmd.ID}), cmd.ID)
	}
	issue, err := m.Tracker.Issue(ctx, cmd.ID)
	if err != nil {
		m.Log.Warn("issue lookup failed", zap.String("issue", cmd.ID), zap.Error(err))
		return m.reply(ctx, st, inv,
			"The issue `%s` could not be found in the issue tracker - check that the id is correct.", cmd.ID)
	}
	ref := domain.IssueRef{ID: issue.ID, Title: issue.Title}
	return m.reply(ctx, st, inv, "%s\nAdding additional issue to issue list: `%s`.",
		issueMarker(true, ref), ref)
}

func (m *Machine) handleOpen(ctx context.Context, st *itemState, inv domain.Invocation) error {
	pr := st.pr
	if inv.User.Username != pr.Author.Username && !m.Census.IsCommitter(inv.User.Username) {
		return m.reply(ctx, st, inv,
			"Only the pull request author (@%s) and project Committers are allowed to reopen it.", pr.Author.Username)
	}
	if err := m.Forge.SetState(ctx, pr.ID, domain.PROpen); err != nil {
		return fmt.Errorf("failed to reopen pull request: %w", err)
	}
	pr.State = domain.PROpen
	return m.reply(ctx, st, inv, "This pull request is now open.")
}

func (m *Machine) replyUnauthorizedIntegrate(ctx context.Context, st *itemState, inv domain.Invocation) error {
	msg := fmt.Sprintf("Only the author (@%s) is allowed to issue the `/integrate` command.", st.pr.Author.Username)
	if st.pr.HasLabel(domain.LabelSponsor) && m.Census.IsCommitter(inv.User.Username) {
		msg += " As this pull request is ready to be sponsored, and you are an eligible sponsor, " +
			"did you mean to issue the `/sponsor` command?"
	}
	return m.reply(ctx, st, inv, "%s", msg)
}

func (m *Machine) addLabel(ctx context.Context, st *itemState, name string) error {
	if st.pr.HasLabel(name) {
		return nil
	}
	if err := m.Forge.AddLabel(ctx, st.pr.ID, name); err != nil {
		return err
	}
	st.pr.Labels = append(st.pr.Labels, name)
	return nil
}

func (m *Machine) removeLabel(ctx context.Context, st *itemState, name string) error {
	if !st.pr.HasLabel(name) {
		return nil
	}
	if err := m.Forge.RemoveLabel(ctx, st.pr.ID, name); err != nil {
		return err
	}
	for i, l := range st.pr.Labels {
		if l == name {
			st.pr.Labels = append(st.pr.Labels[:i], st.pr.Labels[i+1:]...)
			break
		}
	}
	return nil
}

// suggestSponsors names the approving reviewers who are committers as
// sponsor candidates.
func suggestSponsors(st *itemState) string {
	var candidates []string
	for _, r := range st.verdict.Reviewers {
		if r.Role >= domain.RoleCommitter {
			candidates = append(candidates, "@"+r.User.Username)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return " Possible candidates are the reviewers of this change: " + strings.Join(candidates, ", ") + "."
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return strings.TrimRight(b.String(), "\n")
}
