package utils

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

func ShortenString(s string, l int) string {
	if len(s) > l && l != 0 {
		return fmt.Sprintf("%s...", s[:l])
	}
	return s
}

// ClosestString returns the candidate with the smallest edit distance to s.
// Candidates that would need more edits than half of s's length are not
// considered similar and ok is false if none is left.
func ClosestString(s string, candidates []string) (string, bool) {
	best := ""
	bestDist := -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(s, c)
		if bestDist == -1 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist == -1 || bestDist > len(s)/2 {
		return "", false
	}
	return best, true
}
