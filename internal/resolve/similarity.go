package resolve

import "github.com/agext/levenshtein"

// Similarity scores two normalized strings in [0,1]. The metric is
// edit-distance based with a common-prefix bonus, which behaves well on
// entity names where variants share a head ("copper wire 1" vs "copper
// wire 2"). Callers depend only on the threshold contract
// (exact > fuzzy-above-threshold > unmapped), not on the metric itself.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return levenshtein.Match(a, b, levenshtein.NewParams())
}

// BestMatch returns the candidate with the highest similarity to target
// along with its score. ok is false when candidates is empty.
func BestMatch(target string, candidates []string) (best string, score float64, ok bool) {
	for _, c := range candidates {
		if s := Similarity(target, c); !ok || s > score {
			best, score, ok = c, s, true
		}
	}
	return best, score, ok
}
