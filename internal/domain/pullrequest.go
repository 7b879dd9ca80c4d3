package domain

import (
	"regexp"
	"time"
)

// Hash is a full 40-hex commit hash.
type Hash string

var hashRegex = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsValid reports whether the hash is a well-formed lowercase 40-hex string.
func (h Hash) IsValid() bool {
	return hashRegex.MatchString(string(h))
}

// Abbreviate returns the first eight characters for log output.
func (h Hash) Abbreviate() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

func (h Hash) String() string {
	return string(h)
}

// User identifies a forge account.
type User struct {
	ID       string
	Username string
}

// Author is a commit author or contributor attribution.
type Author struct {
	Name  string
	Email string
}

func (a Author) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

var authorRegex = regexp.MustCompile(`^(.*?)\s*<(.*)>$`)

// ParseAuthor parses either "Real Name <email>" or a bare email.
func ParseAuthor(s string) Author {
	if m := authorRegex.FindStringSubmatch(s); m != nil {
		return Author{Name: m[1], Email: m[2]}
	}
	return Author{Email: s}
}

// PRState is the open/closed axis of a pull request.
type PRState string

const (
	PROpen   PRState = "open"
	PRClosed PRState = "closed"
)

// CheckStatus is the completion state of a status check.
type CheckStatus string

const (
	CheckInProgress CheckStatus = "in_progress"
	CheckSuccess    CheckStatus = "success"
	CheckFailure    CheckStatus = "failure"
)

// Check is a named status check stamped against a specific head hash.
type Check struct {
	Name    string
	Status  CheckStatus
	Title   string
	Summary string
	Hash    Hash
}

// Comment is a single PR comment. Immutable once posted, but external
// actors may remove it.
type Comment struct {
	ID        string
	Author    User
	Body      string
	CreatedAt time.Time
}

// ReviewVerdict is the outcome of a single review.
type ReviewVerdict string

const (
	ReviewApproved  ReviewVerdict = "approved"
	ReviewRequested ReviewVerdict = "changes_requested"
	ReviewComment   ReviewVerdict = "commented"
)

// Review is a review stamped against a specific head hash.
type Review struct {
	Reviewer User
	Verdict  ReviewVerdict
	Hash     Hash
	At       time.Time
}

// PullRequestView is a fresh snapshot of an externally-owned pull request.
// It is fetched once per work item and never cached across poll cycles;
// the bot mutates it only through forge calls.
type PullRequestView struct {
	ID         string
	Repo       string
	Title      string
	Body       string
	Author     User
	State      PRState
	Draft      bool
	Labels     []string
	HeadHash   Hash
	TargetRef  string
	TargetHash Hash
	SourceRepo string
	Comments   []Comment
	Checks     map[string]Check
	Reviews    []Review
}

// HasLabel reports whether the label is currently present.
func (pr *PullRequestView) HasLabel(name string) bool {
	for _, l := range pr.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// CommitMetadata describes a commit known to the VCS or forge.
type CommitMetadata struct {
	Hash      Hash
	Parents   []Hash
	Author    Author
	Committer Author
	Message   []string
	URL       string
}

// IsMerge reports whether the commit has more than one parent.
func (c CommitMetadata) IsMerge() bool {
	return len(c.Parents) > 1
}
