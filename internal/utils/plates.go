package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate canonicalizes a raw plate string for comparison: lower-case
// with hyphens and all whitespace removed. An unreadable or absent plate
// normalizes to "" and must never be used as a match candidate.
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EditDistance returns the Levenshtein distance between a and b: the minimum
// number of single-character insertions, deletions and substitutions needed
// to transform one into the other. Symmetric, zero exactly on equal strings.
func EditDistance(a, b string) int {
	s1 := []rune(a)
	s2 := []rune(b)
	// Keep the working row sized to the shorter string.
	if len(s1) < len(s2) {
		s1, s2 = s2, s1
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i, c1 := range s1 {
		curr[0] = i + 1
		for j, c2 := range s2 {
			ins := prev[j+1] + 1
			del := curr[j] + 1
			sub := prev[j]
			if c1 != c2 {
				sub++
			}
			curr[j+1] = min(ins, del, sub)
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}

// PlatesMatch reports whether two pre-normalized plate strings are within
// maxDistance edits of each other. It performs no normalization itself;
// callers own that, and callers must reject empty strings before matching.
func PlatesMatch(a, b string, maxDistance int) bool {
	return EditDistance(a, b) <= maxDistance
}
