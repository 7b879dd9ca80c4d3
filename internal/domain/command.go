package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// Commands form a closed set of tagged variants. Each comment is parsed
// up front and dispatched exhaustively instead of string-matching inside
// the handlers.

// Command is the closed interface over all bot commands.
type Command interface {
	commandName() string
}

// IntegrateMode is the optional word argument to /integrate.
type IntegrateMode string

const (
	IntegrateDirect     IntegrateMode = ""
	IntegrateAuto       IntegrateMode = "auto"
	IntegrateManual     IntegrateMode = "manual"
	IntegrateDelegate   IntegrateMode = "delegate"
	IntegrateUndelegate IntegrateMode = "undelegate"
	// Deprecated aliases, still functional.
	IntegrateDefer   IntegrateMode = "defer"
	IntegrateUndefer IntegrateMode = "undefer"
)

// Deprecated reports whether the mode is a deprecated alias and returns
// the replacement it maps to.
func (m IntegrateMode) Deprecated() (IntegrateMode, bool) {
	switch m {
	case IntegrateDefer:
		return IntegrateDelegate, true
	case IntegrateUndefer:
		return IntegrateUndelegate, true
	default:
		return m, false
	}
}

// Integrate is /integrate with an optional mode or target hash guard.
type Integrate struct {
	Mode IntegrateMode
	// Target, when set, requires the target branch tip to equal this
	// hash at push time.
	Target Hash
	// RawTarget preserves a syntactically invalid hash argument for the
	// rejection message.
	RawTarget string
}

func (Integrate) commandName() string { return "integrate" }

// Sponsor is /sponsor: a committer finalizing on behalf of the author.
type Sponsor struct{}

func (Sponsor) commandName() string { return "sponsor" }

// CSR is /csr needed|unneeded.
type CSR struct {
	Needed bool
}

func (CSR) commandName() string { return "csr" }

// Reviewers is /reviewers N: overrides the required review count only.
type Reviewers struct {
	Count int
}

func (Reviewers) commandName() string { return "reviewers" }

// Contributor is /contributor add|remove <attribution>.
type Contributor struct {
	Add bool
	Who Author
}

func (Contributor) commandName() string { return "contributor" }

// Open is /open: reopen a closed, non-integrated pull request.
type Open struct{}

func (Open) commandName() string { return "open" }

// IssueEdit is /issue add|remove <id>.
type IssueEdit struct {
	Add bool
	ID  string
}

func (IssueEdit) commandName() string { return "issue" }

// Invocation couples a parsed command with the comment that carried it.
type Invocation struct {
	Command   Command
	CommentID string
	User      User
}

var commandRegex = regexp.MustCompile(`(?m)^\s*/([A-Za-z]+)(?:\s+(.*))?$`)

// ParseCommands extracts every command invocation from a comment body.
// Unrecognized slash-words are ignored; malformed arguments to known
// commands yield a nil Command so the dispatcher can reply with usage.
func ParseCommands(c Comment) []Invocation {
	var out []Invocation
	for _, m := range commandRegex.FindAllStringSubmatch(c.Body, -1) {
		name := strings.ToLower(m[1])
		args := strings.TrimSpace(m[2])
		cmd, known := parseCommand(name, args)
		if !known {
			continue
		}
		out = append(out, Invocation{Command: cmd, CommentID: c.ID, User: c.Author})
	}
	return out
}

func parseCommand(name, args string) (Command, bool) {
	switch name {
	case "integrate":
		return parseIntegrate(args), true
	case "sponsor":
		return Sponsor{}, true
	case "csr":
		switch args {
		case "", "needed":
			return CSR{Needed: true}, true
		case "unneeded":
			return CSR{Needed: false}, true
		}
		return nil, true
	case "reviewers":
		n, err := strconv.Atoi(args)
		if err != nil || n < 0 {
			return nil, true
		}
		return Reviewers{Count: n}, true
	case "contributor":
		verb, rest, ok := strings.Cut(args, " ")
		if !ok {
			return nil, true
		}
		who := ParseAuthor(strings.TrimSpace(rest))
		switch verb {
		case "add":
			return Contributor{Add: true, Who: who}, true
		case "remove":
			return Contributor{Add: false, Who: who}, true
		}
		return nil, true
	case "open":
		return Open{}, true
	case "issue":
		verb, rest, ok := strings.Cut(args, " ")
		if !ok {
			verb, rest = "add", args
		}
		id := strings.TrimSpace(rest)
		if id == "" {
			return nil, true
		}
		switch verb {
		case "add":
			return IssueEdit{Add: true, ID: id}, true
		case "remove":
			return IssueEdit{Add: false, ID: id}, true
		}
		return nil, true
	}
	return nil, false
}

func parseIntegrate(args string) Command {
	if args == "" {
		return Integrate{}
	}
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return nil
	}
	arg := fields[0]
	switch IntegrateMode(arg) {
	case IntegrateAuto, IntegrateManual, IntegrateDelegate,
		IntegrateUndelegate, IntegrateDefer, IntegrateUndefer:
		return Integrate{Mode: IntegrateMode(arg)}
	}
	h := Hash(strings.ToLower(arg))
	if !h.IsValid() {
		return Integrate{RawTarget: arg}
	}
	return Integrate{Target: h}
}
