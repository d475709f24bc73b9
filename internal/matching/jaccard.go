package matching

import "strings"

// JaccardIndex returns |A∩B| / |A∪B| over the word sets of a and b. Words
// are separated by single spaces, so runs of spaces yield an empty word that
// counts like any other. An empty string is the empty set, and two empty sets
// score 0.
func JaccardIndex(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	if s == "" {
		return set
	}
	for _, w := range strings.Split(s, " ") {
		set[w] = struct{}{}
	}
	return set
}
