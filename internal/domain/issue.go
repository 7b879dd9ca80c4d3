package domain

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Issue is a tracker issue snapshot.
type Issue struct {
	ID          string
	Title       string
	State       string
	Type        string
	FixVersions []string
}

// CSRIssue is a compatibility-review issue gating an integration.
type CSRIssue struct {
	ID          string
	Approved    bool
	Withdrawn   bool
	FixVersions []string
}

// Covers reports whether the CSR issue covers the given fix version. A
// CSR with no fix versions covers nothing; versions are compared
// numerically so "17.0.2" and "17.0.2.0" compare equal.
func (c CSRIssue) Covers(fixVersion string) bool {
	want, ok := parseFixVersion(fixVersion)
	if !ok {
		// Fall back to literal comparison for non-numeric trains.
		for _, v := range c.FixVersions {
			if v == fixVersion {
				return true
			}
		}
		return false
	}
	for _, v := range c.FixVersions {
		have, ok := parseFixVersion(v)
		if !ok {
			if v == fixVersion {
				return true
			}
			continue
		}
		if have.Equal(want) {
			return true
		}
	}
	return false
}

// parseFixVersion parses a fix version numerically. Update trains carry
// more than three segments; trailing zero segments are trimmed so
// "17.0.2.0" and "17.0.2" compare equal.
func parseFixVersion(s string) (*semver.Version, bool) {
	if v, err := semver.NewVersion(s); err == nil {
		return v, true
	}
	parts := strings.Split(s, ".")
	for len(parts) > 3 && parts[len(parts)-1] == "0" {
		parts = parts[:len(parts)-1]
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	return v, err == nil
}

// CoversAll reports whether every required fix version is covered.
func (c CSRIssue) CoversAll(fixVersions []string) bool {
	for _, fv := range fixVersions {
		if !c.Covers(fv) {
			return false
		}
	}
	return true
}
