package domain

// CommitMessage is the structured form of a final commit message. The
// rendered text is a wire format: synthesize followed by parse must
// recover exactly these fields.
type CommitMessage struct {
	// Issues are the title lines, primary issue first, then /issue
	// additions in association order.
	Issues []IssueRef
	// Title replaces the issue lines when no issue is linked.
	Title string
	// Summaries, Contributors and Additional are appended verbatim in
	// fixed order, each omitted when empty.
	Summaries    []string
	Contributors []Author
	// Reviewers are census usernames ordered by role weight descending,
	// then by time of approval.
	Reviewers []string
	// Original is the backport origin, when this is a backport.
	Original   Hash
	Additional []string
}
