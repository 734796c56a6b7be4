package candidate

import (
	"strings"
	"unicode"
)

// Similarity scores how alike two attribute values are, in [0,1]. It is
// the best of token Dice overlap, substring containment and a damped
// edit-distance ratio for typos.
func Similarity(a, b string) float64 {
	na, nb := squash(a), squash(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	best := dice(Tokenize(a), Tokenize(b))

	short, long := na, nb
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) >= 3 && strings.Contains(long, short) {
		if c := 0.5 + 0.5*float64(len(short))/float64(len(long)); c > best {
			best = c
		}
	}

	if lr := levenshteinRatio(na, nb); lr >= 0.6 {
		if d := 0.8 * lr; d > best {
			best = d
		}
	}
	return best
}

// squash lowercases s and drops everything but letters and digits.
func squash(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func dice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]int, len(a))
	for _, t := range a {
		set[t]++
	}
	shared := 0
	for _, t := range b {
		if set[t] > 0 {
			set[t]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

func levenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
