package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/openforge/mergebot/internal/config"
	"github.com/openforge/mergebot/internal/domain"
	"github.com/openforge/mergebot/internal/repository"
)

// progressMarker separates the human-authored body from the generated
// progress section. Everything below it is replaced wholesale each
// cycle.
const progressMarker = "<!-- Anything below this marker will be automatically updated, please do not edit! -->"

// ReadinessInput carries the per-cycle facts the evaluator combines.
// Everything here is re-derived from the live pull request before each
// evaluation; nothing is cached across cycles.
type ReadinessInput struct {
	PR       *domain.PullRequestView
	Backport *domain.BackportRecord
	Merge    bool
	// MergeProblem is the resolution failure of a merge-title PR; while
	// set, the verdict stays blocked on it.
	MergeProblem string
	// Preview renders the final commit message, given the approving
	// reviewers in order, for the ready comment.
	Preview func(reviewers []string) string
	// ReviewersOverride is the latched /reviewers count, nil when unset.
	// An override also forces full review on clean backports.
	ReviewersOverride *int
	// CSRNeeded is true while the csr label is latched.
	CSRNeeded bool
	Issues    []domain.IssueRef
	// ExtraFixVersions are backport-specific fix versions the CSR gate
	// must cover in addition to each issue's own.
	ExtraFixVersions []string
}

// ReadinessEvaluator recomputes the merge-readiness verdict and mirrors
// it onto the pull request as labels and a body checklist. The pull
// request itself is the durable state; the evaluator never persists
// anything else.
type ReadinessEvaluator struct {
	Forge  repository.Forge
	Issues repository.IssueTracker
	Census repository.Census
	Config *config.Config
	Log    *zap.Logger
}

// Evaluate produces the verdict and the rendered checklist without any
// side effects.
func (e *ReadinessEvaluator) Evaluate(ctx context.Context, in *ReadinessInput) (*domain.Verdict, []domain.ChecklistItem, error) {
	verdict := &domain.Verdict{Ready: true}
	var checklist []domain.ChecklistItem

	add := func(done bool, text string) {
		checklist = append(checklist, domain.ChecklistItem{Done: done, Text: text})
		if !done {
			verdict.Ready = false
			verdict.Reasons = append(verdict.Reasons, text)
		}
	}

	verdict.Reviewers = e.approvals(in.PR)
	required := e.requiredReviews(in)
	if required > 0 {
		noun := "review"
		if required > 1 {
			noun = "reviews"
		}
		// Only approvals from users holding a project role count toward
		// the requirement; drive-by approvals are listed but carry no
		// weight.
		qualified := 0
		for _, r := range verdict.Reviewers {
			if r.Role > domain.RoleNone {
				qualified++
			}
		}
		add(qualified >= required,
			fmt.Sprintf("Change must be properly reviewed (%d %s required)", required, noun))
	}

	if in.CSRNeeded {
		resolved, err := e.csrResolved(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		add(resolved, "All associated CSR requests must be approved")
	}

	if in.MergeProblem != "" {
		add(false, in.MergeProblem)
	}
	if in.Merge {
		switch e.Config.MergeReviewPolicy {
		case config.MergeReviewAlways:
			add(len(verdict.Reviewers) >= 1, "Merge pull requests must be reviewed")
		case config.MergeReviewCheck:
			add(e.checkPassed(in.PR), "Merge pull requests must be reviewed unless all checks pass")
		}
	}

	// The checklist line is stable; the reason names the exact check
	// state so rejections can justify themselves.
	passed, why := e.checkState(in.PR)
	checklist = append(checklist, domain.ChecklistItem{
		Done: passed,
		Text: fmt.Sprintf("All required checks must pass (%s)", e.Config.CheckName),
	})
	if !passed {
		verdict.Ready = false
		verdict.Reasons = append(verdict.Reasons, why)
	}

	return verdict, checklist, nil
}

// Apply evaluates readiness and writes the result back: the body
// checklist is replaced, the rfr/ready labels are mirrored, and exactly
// one instructional comment is posted per verdict flip. Repeated
// identical verdicts produce no writes at all.
func (e *ReadinessEvaluator) Apply(ctx context.Context, in *ReadinessInput) (*domain.Verdict, error) {
	pr := in.PR
	verdict, checklist, err := e.Evaluate(ctx, in)
	if err != nil {
		return nil, err
	}

	body := replaceProgress(pr.Body, renderChecklist(checklist))
	if body != pr.Body {
		if err := e.Forge.SetBody(ctx, pr.ID, body); err != nil {
			return nil, fmt.Errorf("failed to update pull request body: %w", err)
		}
	}

	if err := e.mirrorLabel(ctx, pr, domain.LabelRFR, e.minimallyValid(pr)); err != nil {
		return nil, err
	}

	wasReady := pr.HasLabel(domain.LabelReady)
	if verdict.Ready != wasReady {
		e.Log.Info("readiness verdict changed",
			zap.String("pr", pr.ID),
			zap.Bool("ready", verdict.Ready))
		body := notReadyComment(verdict)
		if verdict.Ready {
			body = e.readyComment(in, verdict)
		}
		if _, err := e.Forge.PostComment(ctx, pr.ID, body); err != nil {
			return nil, err
		}
	}
	if err := e.mirrorLabel(ctx, pr, domain.LabelReady, verdict.Ready); err != nil {
		return nil, err
	}

	return verdict, nil
}

// approvals collects the latest review per reviewer, keeps only
// approvals stamped against the current head, and orders them by role
// weight descending, then by time of approval.
func (e *ReadinessEvaluator) approvals(pr *domain.PullRequestView) []domain.ReviewerEntry {
	latest := make(map[string]domain.Review)
	for _, r := range pr.Reviews {
		if prev, ok := latest[r.Reviewer.Username]; !ok || r.At.After(prev.At) {
			latest[r.Reviewer.Username] = r
		}
	}
	var entries []domain.ReviewerEntry
	order := make(map[string]int)
	for _, r := range latest {
		if r.Verdict != domain.ReviewApproved || r.Hash != pr.HeadHash {
			continue
		}
		entries = append(entries, domain.ReviewerEntry{
			User: r.Reviewer,
			Role: e.Census.Role(r.Reviewer.Username),
		})
		order[r.Reviewer.Username] = int(r.At.Unix())
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Role != entries[j].Role {
			return entries[i].Role > entries[j].Role
		}
		return order[entries[i].User.Username] < order[entries[j].User.Username]
	})
	return entries
}

func (e *ReadinessEvaluator) requiredReviews(in *ReadinessInput) int {
	if in.ReviewersOverride != nil {
		return *in.ReviewersOverride
	}
	if in.Backport != nil && in.Backport.Clean && !e.Config.ReviewCleanBackport {
		return 0
	}
	return e.Config.RequiredReviewers
}

// csrResolved reports whether every linked issue that has a CSR has an
// approved one covering all required fix versions. An issue with no CSR
// at all leaves the gate open while the csr label is latched.
func (e *ReadinessEvaluator) csrResolved(ctx context.Context, in *ReadinessInput) (bool, error) {
	if len(in.Issues) == 0 {
		return false, nil
	}
	for _, ref := range in.Issues {
		csr, err := e.Issues.CSR(ctx, ref.ID)
		if err != nil {
			return false, fmt.Errorf("failed to look up CSR for %s: %w", ref.ID, err)
		}
		if csr == nil || csr.Withdrawn {
			return false, nil
		}
		if !csr.Approved {
			return false, nil
		}
		issue, err := e.Issues.Issue(ctx, ref.ID)
		if err != nil {
			return false, fmt.Errorf("failed to look up issue %s: %w", ref.ID, err)
		}
		required := append([]string{}, issue.FixVersions...)
		required = append(required, in.ExtraFixVersions...)
		if !csr.CoversAll(required) {
			return false, nil
		}
	}
	return true, nil
}

// checkPassed reports whether the required check completed successfully
// on the current head. A success stamped against a stale hash does not
// count.
func (e *ReadinessEvaluator) checkPassed(pr *domain.PullRequestView) bool {
	passed, _ := e.checkState(pr)
	return passed
}

// checkState resolves the required check against the current head and,
// when it does not pass, names the exact state it is in.
func (e *ReadinessEvaluator) checkState(pr *domain.PullRequestView) (bool, string) {
	check, ok := pr.Checks[e.Config.CheckName]
	switch {
	case !ok || check.Hash != pr.HeadHash:
		return false, fmt.Sprintf("The %s check has not been performed on commit %s yet",
			e.Config.CheckName, pr.HeadHash.Abbreviate())
	case check.Status == domain.CheckInProgress:
		return false, fmt.Sprintf("The %s check is still in progress", e.Config.CheckName)
	case check.Status == domain.CheckSuccess:
		return true, ""
	default:
		return false, fmt.Sprintf("The %s check did not complete successfully", e.Config.CheckName)
	}
}

// minimallyValid gates the rfr label: the PR is open for review once it
// is non-draft and still open.
func (e *ReadinessEvaluator) minimallyValid(pr *domain.PullRequestView) bool {
	return pr.State == domain.PROpen && !pr.Draft
}

func (e *ReadinessEvaluator) mirrorLabel(ctx context.Context, pr *domain.PullRequestView, label string, want bool) error {
	has := pr.HasLabel(label)
	if want == has {
		return nil
	}
	if want {
		return e.Forge.AddLabel(ctx, pr.ID, label)
	}
	return e.Forge.RemoveLabel(ctx, pr.ID, label)
}

func (e *ReadinessEvaluator) readyComment(in *ReadinessInput, verdict *domain.Verdict) string {
	pr := in.PR
	var b strings.Builder
	fmt.Fprintf(&b, "@%s This change now passes all *automated* pre-integration checks.\n\n", pr.Author.Username)
	if in.Preview != nil {
		var reviewers []string
		for _, r := range verdict.Reviewers {
			reviewers = append(reviewers, r.User.Username)
		}
		fmt.Fprintf(&b, "After integration, the commit message for the final commit will be:\n```\n%s\n```\n\n",
			in.Preview(reviewers))
	}
	if e.Census.IsCommitter(pr.Author.Username) {
		fmt.Fprintf(&b, "To integrate this pull request into the `%s` branch, type `/integrate` in a new comment.\n", pr.TargetRef)
	} else {
		fmt.Fprintf(&b, "As you do not have Committer status in this project, an existing Committer must agree to sponsor your change. "+
			"To flag this pull request as ready for sponsoring, type `/integrate` in a new comment; "+
			"a Committer can then type `/sponsor` to perform the integration on your behalf.\n")
	}
	return b.String()
}

func notReadyComment(verdict *domain.Verdict) string {
	var b strings.Builder
	b.WriteString("This change is no longer ready for integration - check the PR body for details.\n")
	for _, reason := range verdict.Reasons {
		fmt.Fprintf(&b, "\n- %s", reason)
	}
	return b.String()
}

// renderChecklist produces the Markdown checkbox block.
func renderChecklist(items []domain.ChecklistItem) string {
	var b strings.Builder
	b.WriteString("### Progress\n")
	for _, item := range items {
		box := " "
		if item.Done {
			box = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", box, item.Text)
	}
	return b.String()
}

// replaceProgress swaps the generated section below the marker,
// preserving the human-authored part of the body untouched. Hidden
// HTML-comment markers in the preserved part round-trip as-is.
func replaceProgress(body, progress string) string {
	head := body
	if idx := strings.Index(body, progressMarker); idx >= 0 {
		head = strings.TrimRight(body[:idx], "\n")
	} else {
		head = strings.TrimRight(body, "\n")
	}
	if head != "" {
		head += "\n\n"
	}
	return head + progressMarker + "\n\n---------\n" + progress
}
