package domain

// Diff is a textual diff between two trees, reduced to the fields the
// clean-backport comparison needs.
type Diff struct {
	From    Hash
	To      Hash
	Patches []Patch
	// Truncated is set when the diff could not be fully retrieved
	// (oversized or cut off by the forge). A truncated diff can never
	// classify a backport as clean.
	Truncated bool
}

// Patch is the per-file portion of a diff.
type Patch struct {
	Path  string
	Hunks []Hunk
}

// Hunk carries the removed and added lines of one contiguous change.
type Hunk struct {
	Removed []string
	Added   []string
}
