package domain

// IssueRef is a linked issue reference as it appears in a commit message
// title line.
type IssueRef struct {
	ID    string
	Title string
}

func (i IssueRef) String() string {
	return i.ID + ": " + i.Title
}

// BackportRecord is the per-cycle derivation for a backport PR. It is
// replaced wholesale whenever the title changes: the original hash, the
// clean verdict and the linked-issue set are a single atomic unit.
type BackportRecord struct {
	OriginalHash Hash
	Clean        bool
	// Title is the original commit's plain title when it named no issue.
	Title        string
	Issues       []IssueRef
	Summaries    []string
	Contributors []Author
	Additional   []string
	// Warning is set when the clean classification was forced to "not
	// clean" because a diff could not be fully retrieved.
	Warning string
}

// MergeSpec is the resolved source of a branch/tag/hash merge PR.
type MergeSpec struct {
	// SourceRepo is the resolved source repository name.
	SourceRepo string
	// SourceRef is the branch, tag or hash within it.
	SourceRef string
	// AsGiven is the ref expression exactly as the title gave it, used
	// for the default merge commit message.
	AsGiven string
	// SecondParent is the tip of the resolved source; the final pushed
	// merge commit carries it as its authoritative second parent.
	SecondParent Hash
}

// FinalParents computes the parents of the final merge commit: the
// current target tip first, then the authoritative second parent. The
// human-authored merge commit's own parent claims are never trusted.
func (m *MergeSpec) FinalParents(targetTip Hash) []Hash {
	return []Hash{targetTip, m.SecondParent}
}

// IntegrityRecord is the head pair recorded on the audit ref for one
// (repository, branch) key.
type IntegrityRecord struct {
	CurrentHead  Hash
	PreviousHead Hash
}
