package match

import "math"

// SubsetSumAbs searches for a subset of amounts, of at least minSize
// elements, whose total falls within tol of target. Subset sizes are
// tried in increasing order and the first hit wins, so the smallest
// matching subset is returned. Returns the matched indices, or nil.
//
// Brute force: practical for the small item counts seen in bank splits
// and receipts (≤20 or so). Larger inputs are a scaling question this
// design deliberately does not solve.
func SubsetSumAbs(amounts []float64, target, tol float64, minSize int) []int {
	n := len(amounts)
	if minSize < 1 {
		minSize = 1
	}
	if n < minSize {
		return nil
	}
	for size := minSize; size <= n; size++ {
		if idx := searchCombos(amounts, size, func(total float64) bool {
			return math.Abs(total-target) <= tol
		}); idx != nil {
			return idx
		}
	}
	return nil
}

// SubsetSumRel is SubsetSumAbs with a relative tolerance: the subset
// total must be positive and within relTol (a fraction, e.g. 0.05) of
// target. target must be positive.
func SubsetSumRel(amounts []float64, target, relTol float64, minSize int) []int {
	if target <= 0 {
		return nil
	}
	n := len(amounts)
	if minSize < 1 {
		minSize = 1
	}
	if n < minSize {
		return nil
	}
	for size := minSize; size <= n; size++ {
		if idx := searchCombos(amounts, size, func(total float64) bool {
			return total > 0 && math.Abs(total-target)/target <= relTol
		}); idx != nil {
			return idx
		}
	}
	return nil
}

// searchCombos enumerates index combinations of the given size in
// lexicographic order and returns the first whose sum satisfies ok.
func searchCombos(amounts []float64, size int, ok func(total float64) bool) []int {
	n := len(amounts)
	combo := make([]int, size)
	for i := range combo {
		combo[i] = i
	}
	for {
		var total float64
		for _, i := range combo {
			total += amounts[i]
		}
		if ok(total) {
			out := make([]int, size)
			copy(out, combo)
			return out
		}
		// Advance to the next combination.
		i := size - 1
		for i >= 0 && combo[i] == n-size+i {
			i--
		}
		if i < 0 {
			return nil
		}
		combo[i]++
		for j := i + 1; j < size; j++ {
			combo[j] = combo[j-1] + 1
		}
	}
}
