package repository

import (
	"github.com/openforge/mergebot/internal/domain"
)

// Census resolves project roles. A census instance is created per work
// item from an externally-maintained roster; lookups are pure.
type Census interface {
	Role(username string) domain.Role
	IsCommitter(username string) bool
	IsReviewer(username string) bool
	// Attribution returns the committer identity recorded for a census
	// member, used when a sponsor finalizes on behalf of an author.
	Attribution(username string) (domain.Author, bool)
}

// StaticCensus is a fixed roster, useful for tests and single-project
// deployments.
type StaticCensus struct {
	Roles        map[string]domain.Role
	Attributions map[string]domain.Author
}

func (c *StaticCensus) Role(username string) domain.Role {
	return c.Roles[username]
}

func (c *StaticCensus) IsCommitter(username string) bool {
	return c.Roles[username] >= domain.RoleCommitter
}

func (c *StaticCensus) IsReviewer(username string) bool {
	return c.Roles[username] >= domain.RoleReviewer
}

func (c *StaticCensus) Attribution(username string) (domain.Author, bool) {
	a, ok := c.Attributions[username]
	return a, ok
}
