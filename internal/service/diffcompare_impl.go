package service

import (
	"regexp"

	"github.com/openforge/mergebot/internal/domain"
)

// diffCompareService compares diffs per file as multisets of added and
// removed lines, which makes the comparison insensitive to reordering
// of changed lines within a file by construction.
type diffCompareService struct {
	// similarity is the fraction of lines that must match, in (0, 1].
	// 1.0 demands full multiset equality.
	similarity float64
}

// NewDiffCompareService creates a DiffCompareService with the given
// similarity threshold.
func NewDiffCompareService(similarity float64) DiffCompareService {
	if similarity <= 0 || similarity > 1 {
		similarity = 1.0
	}
	return &diffCompareService{similarity: similarity}
}

// copyrightYearRegex matches the year range portion of a copyright
// header so that lines differing only in year churn compare equal.
var copyrightYearRegex = regexp.MustCompile(`(Copyright \(c\) )([0-9]{4})(, [0-9]{4})?(,)`)

func normalizeLine(line string) string {
	return copyrightYearRegex.ReplaceAllString(line, "${1}YEAR${4}")
}

type lineCounts struct {
	added   map[string]int
	removed map[string]int
}

func collect(d *domain.Diff) map[string]*lineCounts {
	perFile := map[string]*lineCounts{}
	for _, patch := range d.Patches {
		counts, ok := perFile[patch.Path]
		if !ok {
			counts = &lineCounts{added: map[string]int{}, removed: map[string]int{}}
			perFile[patch.Path] = counts
		}
		for _, hunk := range patch.Hunks {
			for _, line := range hunk.Added {
				counts.added[normalizeLine(line)]++
			}
			for _, line := range hunk.Removed {
				counts.removed[normalizeLine(line)]++
			}
		}
	}
	return perFile
}

// FuzzyEqual reports whether the two diffs carry the same change. A
// truncated diff never compares equal.
func (s *diffCompareService) FuzzyEqual(a, b *domain.Diff) bool {
	if a == nil || b == nil || a.Truncated || b.Truncated {
		return false
	}
	aFiles := collect(a)
	bFiles := collect(b)
	if len(aFiles) != len(bFiles) {
		return false
	}
	var total, matched int
	for path, aCounts := range aFiles {
		bCounts, ok := bFiles[path]
		if !ok {
			return false
		}
		t, m := compareCounts(aCounts.added, bCounts.added)
		total, matched = total+t, matched+m
		t, m = compareCounts(aCounts.removed, bCounts.removed)
		total, matched = total+t, matched+m
	}
	if total == 0 {
		return true
	}
	return float64(matched)/float64(total) >= s.similarity
}

// compareCounts returns the union size and the intersection size of two
// line multisets.
func compareCounts(a, b map[string]int) (total, matched int) {
	for line, n := range a {
		m := b[line]
		if m < n {
			matched += m
			total += n
		} else {
			matched += n
			total += m
		}
	}
	for line, m := range b {
		if _, ok := a[line]; !ok {
			total += m
		}
	}
	return total, matched
}
