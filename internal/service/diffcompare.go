package service

import (
	"github.com/openforge/mergebot/internal/domain"
)

// DiffCompareService classifies whether two diffs carry the same change.
type DiffCompareService interface {
	// FuzzyEqual reports whether the two diffs are line-set equal after
	// stripping copyright-year churn, tolerating reordering of changed
	// lines within a file.
	FuzzyEqual(a, b *domain.Diff) bool
}
