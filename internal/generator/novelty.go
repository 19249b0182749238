package generator

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Novelty scores content against earlier outputs: 1 means nothing in common
// with the closest earlier text, 0 means identical. With no earlier text the
// score is 1.
func Novelty(content string, earlier []string) float64 {
	if len(earlier) == 0 {
		return 1
	}

	dmp := diffmatchpatch.New()
	best := 1.0
	for _, prev := range earlier {
		longest := max(len([]rune(content)), len([]rune(prev)))
		if longest == 0 {
			return 0
		}
		diffs := dmp.DiffMain(prev, content, false)
		dist := float64(dmp.DiffLevenshtein(diffs)) / float64(longest)
		if dist < best {
			best = dist
		}
	}
	if best > 1 {
		best = 1
	}
	return best
}
