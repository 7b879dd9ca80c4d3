package domain

// Role is a census role with a fixed weight ordering used when listing
// reviewers: lead > reviewer > committer > author.
type Role int

const (
	RoleNone Role = iota
	RoleAuthor
	RoleCommitter
	RoleReviewer
	RoleLead
)

func (r Role) String() string {
	switch r {
	case RoleLead:
		return "Lead"
	case RoleReviewer:
		return "Reviewer"
	case RoleCommitter:
		return "Committer"
	case RoleAuthor:
		return "Author"
	default:
		return "no project role"
	}
}

// ReviewerEntry is an approving reviewer together with the role that
// determined its weight.
type ReviewerEntry struct {
	User User
	Role Role
}

// Verdict is the merge-readiness result for one poll cycle. It is never
// persisted; its effects (labels, body checklist, comments) are written
// back to the pull request, which is the durable state.
type Verdict struct {
	Ready bool
	// Reasons lists unmet requirements in checklist order.
	Reasons []string
	// Reviewers lists approvals ordered by role weight descending, then
	// by time of approval.
	Reviewers []ReviewerEntry
}

// ChecklistItem is one rendered progress line.
type ChecklistItem struct {
	Done bool
	Text string
}
