package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/openforge/mergebot/internal/domain"
)

// Hidden HTML-comment markers embedded in bot comments are the durable
// machine-readable state of the integration pipeline. They survive any
// bot restart because the forge stores them, and they round-trip through
// comment rendering untouched.

var (
	prepushMarkerRegex     = regexp.MustCompile(`<!-- prepush ([0-9a-f]{40}) -->`)
	pushedRegex            = regexp.MustCompile(`Pushed as commit ([0-9a-f]{40})\.`)
	replyMarkerRegex       = regexp.MustCompile(`<!-- reply ([^ ]+) -->`)
	reviewersMarkerRegex   = regexp.MustCompile(`<!-- reviewers (\d+) -->`)
	contributorMarkerRegex = regexp.MustCompile(`<!-- contributor (add|remove) (.*?) -->`)
	issueMarkerRegex       = regexp.MustCompile(`<!-- issue (add|remove) ([^:]+): (.*?) -->`)
	backportMarkerRegex    = regexp.MustCompile(`<!-- backport ([0-9a-f]{40}) -->`)
)

func prepushMarker(h domain.Hash) string {
	return fmt.Sprintf("<!-- prepush %s -->", h)
}

func replyMarker(commentID string) string {
	return fmt.Sprintf("<!-- reply %s -->", commentID)
}

func reviewersMarker(n int) string {
	return fmt.Sprintf("<!-- reviewers %d -->", n)
}

func contributorMarker(add bool, who domain.Author) string {
	verb := "remove"
	if add {
		verb = "add"
	}
	return fmt.Sprintf("<!-- contributor %s %s -->", verb, who)
}

func issueMarker(add bool, ref domain.IssueRef) string {
	verb := "remove"
	if add {
		verb = "add"
	}
	return fmt.Sprintf("<!-- issue %s %s -->", verb, ref)
}

func backportMarker(h domain.Hash) string {
	return fmt.Sprintf("<!-- backport %s -->", h)
}

// botComments filters the comment stream to those the bot authored,
// preserving order.
func botComments(comments []domain.Comment, bot domain.User) []domain.Comment {
	var out []domain.Comment
	for _, c := range comments {
		if c.Author.Username == bot.Username {
			out = append(out, c)
		}
	}
	return out
}

// repliedComments returns the set of comment ids the bot has already
// replied to. Command dedup: a command whose comment id is in this set
// has been handled on an earlier cycle.
func repliedComments(comments []domain.Comment, bot domain.User) map[string]bool {
	handled := make(map[string]bool)
	for _, c := range botComments(comments, bot) {
		for _, m := range replyMarkerRegex.FindAllStringSubmatch(c.Body, -1) {
			handled[m[1]] = true
		}
	}
	return handled
}

// latestPrepush returns the most recent pre-push marker, if any.
func latestPrepush(comments []domain.Comment, bot domain.User) (domain.Hash, bool) {
	var hash domain.Hash
	var found bool
	for _, c := range botComments(comments, bot) {
		if m := prepushMarkerRegex.FindStringSubmatch(c.Body); m != nil {
			hash, found = domain.Hash(m[1]), true
		}
	}
	return hash, found
}

// pushedHash returns the hash announced by a "Pushed as commit" comment.
func pushedHash(comments []domain.Comment, bot domain.User) (domain.Hash, bool) {
	for _, c := range botComments(comments, bot) {
		if m := pushedRegex.FindStringSubmatch(c.Body); m != nil {
			return domain.Hash(m[1]), true
		}
	}
	return "", false
}

// reviewersOverride returns the latest latched /reviewers count, nil
// when none was issued.
func reviewersOverride(comments []domain.Comment, bot domain.User) *int {
	var override *int
	for _, c := range botComments(comments, bot) {
		if m := reviewersMarkerRegex.FindStringSubmatch(c.Body); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				override = &n
			}
		}
	}
	return override
}

// latchedContributors folds contributor add/remove markers in order.
func latchedContributors(comments []domain.Comment, bot domain.User) []domain.Author {
	var out []domain.Author
	for _, c := range botComments(comments, bot) {
		for _, m := range contributorMarkerRegex.FindAllStringSubmatch(c.Body, -1) {
			who := domain.ParseAuthor(m[2])
			if m[1] == "add" {
				out = append(out, who)
				continue
			}
			for i, have := range out {
				if have == who {
					out = append(out[:i], out[i+1:]...)
					break
				}
			}
		}
	}
	return out
}

// latchedIssues folds issue add/remove markers in association order.
func latchedIssues(comments []domain.Comment, bot domain.User) []domain.IssueRef {
	var out []domain.IssueRef
	for _, c := range botComments(comments, bot) {
		for _, m := range issueMarkerRegex.FindAllStringSubmatch(c.Body, -1) {
			ref := domain.IssueRef{ID: m[2], Title: m[3]}
			if m[1] == "add" {
				out = append(out, ref)
				continue
			}
			for i, have := range out {
				if have.ID == ref.ID {
					out = append(out[:i], out[i+1:]...)
					break
				}
			}
		}
	}
	return out
}

// cleanPinComment is the manual override phrase: once any comment
// states it, the clean label survives automatic reclassification.
const cleanPinComment = "This backport pull request is now marked as clean"

// cleanPinned reports whether the clean label has been pinned manually.
func cleanPinned(comments []domain.Comment) bool {
	for _, c := range comments {
		if strings.Contains(c.Body, cleanPinComment) {
			return true
		}
	}
	return false
}

// backportOrigin returns the latched backport origin hash, set when a
// backport title was first resolved.
func backportOrigin(comments []domain.Comment, bot domain.User) (domain.Hash, bool) {
	var hash domain.Hash
	var found bool
	for _, c := range botComments(comments, bot) {
		if m := backportMarkerRegex.FindStringSubmatch(c.Body); m != nil {
			hash, found = domain.Hash(m[1]), true
		}
	}
	return hash, found
}
