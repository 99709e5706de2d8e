package match

import "strings"

// Similarity computes a 0–1 similarity ratio between two normalized
// descriptions: twice the number of characters in common matching blocks
// divided by the total length. Handles transpositions and partial matches
// well for bank descriptions.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	m := matchingBlockChars([]byte(a), []byte(b))
	return 2.0 * float64(m) / float64(len(a)+len(b))
}

// matchingBlockChars counts characters covered by matching blocks: find
// the longest common substring, then recurse on the pieces to its left
// and right.
func matchingBlockChars(a, b []byte) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingBlockChars(a[:ai], b[:bi])
	total += matchingBlockChars(a[ai+size:], b[bi+size:])
	return total
}

// longestCommonSubstring returns the start offsets in a and b and the
// length of their longest common substring. Ties resolve to the earliest
// position in a.
func longestCommonSubstring(a, b []byte) (ai, bi, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	// prev[j] holds the run length ending at a[i-1], b[j-1].
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}

// DescriptionsRelated reports whether two descriptions plausibly refer to
// the same merchant: containment after normalization, or any shared word
// of 3+ characters. Catches "APPLE.COM/BILL" vs "APPLE" and
// "US PATENT TRADEMARK" vs "US PATENT AND TRADEMARK OFFICE".
func DescriptionsRelated(descA, descB string) bool {
	a := NormalizeDescription(descA)
	b := NormalizeDescription(descB)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	wordsA := significantWords(a)
	for w := range significantWords(b) {
		if wordsA[w] {
			return true
		}
	}
	return false
}

func significantWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		if len(w) >= 3 {
			words[w] = true
		}
	}
	return words
}
