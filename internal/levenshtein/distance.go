// Package levenshtein computes edit distances between domain names for
// typo detection.
package levenshtein

// Distance returns the optimal string alignment distance between s and t:
// insertions, deletions, substitutions and swaps of two adjacent runes
// each cost one edit. "gmial.com" is one edit away from "gmail.com".
func Distance(s, t string) int {
	d, _ := distance([]rune(s), []rune(t), -1)
	return d
}

// Within reports whether s and t are at most limit edits apart. It stops
// as soon as every alignment exceeds the limit.
func Within(s, t string, limit int) bool {
	_, ok := distance([]rune(s), []rune(t), limit)
	return ok
}

// distance runs the three-row OSA recurrence. A negative limit disables
// the early exit.
func distance(a, b []rune, limit int) (int, bool) {
	if len(a) < len(b) {
		a, b = b, a
	}
	if limit >= 0 && len(a)-len(b) > limit {
		return len(a) - len(b), false
	}
	if len(b) == 0 {
		return len(a), limit < 0 || len(a) <= limit
	}

	prev2 := make([]int, len(b)+1)
	prev := make([]int, len(b)+1)
	row := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		best := row[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			v := min(prev[j]+1, row[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				v = min(v, prev2[j-2]+1)
			}
			row[j] = v
			best = min(best, v)
		}
		if limit >= 0 && best > limit {
			return best, false
		}
		prev2, prev, row = prev, row, prev2
	}

	d := prev[len(b)]
	return d, limit < 0 || d <= limit
}
