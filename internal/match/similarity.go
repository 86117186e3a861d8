package match

// Similarity is the share of positions at which a and b hold the same rune,
// over the length of the longer string. It is positional, not an edit
// distance: one inserted letter shifts every later position.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longer, shorter := len(ra), len(rb)
	if shorter > longer {
		longer, shorter = shorter, longer
	}
	if longer == 0 {
		return 1
	}
	same := 0
	for i := 0; i < shorter; i++ {
		if ra[i] == rb[i] {
			same++
		}
	}
	return float64(same) / float64(longer)
}
