package domain

import (
	"errors"
	"fmt"
)

// The error taxonomy distinguishes how a failure is reported and
// recovered. User and authorization errors are reported as comments and
// never mutate state; precondition failures surface through the standing
// checklist; transient errors propagate to the poll boundary for a
// retry; integrity violations abort loudly.

// UserError is a correctable input problem (bad hash, bad title grammar,
// disallowed source repository).
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// NewUserError creates a UserError with a formatted message.
func NewUserError(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError signals a command issued by the wrong actor. The
// message names the correct actor or command.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// NewAuthorizationError creates an AuthorizationError with a formatted message.
func NewAuthorizationError(format string, args ...any) *AuthorizationError {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

// Backport resolution errors.
var (
	// ErrBackportNotFound: the title carries no backport token.
	ErrBackportNotFound = errors.New("title does not designate a backport")
	// ErrNoSuchCommit: the designated hash does not resolve.
	ErrNoSuchCommit = errors.New("no such commit")
	// ErrIsAncestor: the designated commit is an ancestor of the PR's own
	// head, so the backport would reference itself.
	ErrIsAncestor = errors.New("commit is an ancestor of the pull request")
)

// Merge source resolution errors.
var (
	ErrInvalidSyntax    = errors.New("invalid merge source syntax")
	ErrSourceNotAllowed = errors.New("repository is not an allowed merge source")
	ErrNoSuchProject    = errors.New("no such project")
	ErrNoSuchRef        = errors.New("no such branch, tag or hash")
	ErrUnrelatedHistory = errors.New("source and target share no common history")
	ErrNoNewCommits     = errors.New("source contributes no new commits")
)

// ErrIntegrityViolation signals that the audit trail recorded a head the
// verifier did not expect: a competing writer has pushed to the target.
// It must never be swallowed or auto-resolved.
var ErrIntegrityViolation = errors.New("integrity violation")

// IsUserError reports whether err belongs to the user-correctable class.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// IsAuthorizationError reports whether err is a wrong-actor rejection.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}
