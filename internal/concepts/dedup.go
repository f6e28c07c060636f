package concepts

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultDedupThreshold is the similarity at which two labels name the same
// concept.
const DefaultDedupThreshold = 0.75

// Similarity scores two labels from 0 (unrelated) to 1 (identical), ignoring
// case and surrounding space. When one label contains the other the score
// is the length ratio, so "transactions" and "types of transactions" score
// 12/21. Otherwise it is one minus the normalized edit distance.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}

	longest := max(la, lb)
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return float64(min(la, lb)) / float64(longest)
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// dedupe keeps the first of every group of similar labels. References to a
// dropped node's id are redirected to the node that absorbed it.
func dedupe(cands []candidate, threshold float64) []candidate {
	kept := make([]candidate, 0, len(cands))
	alias := make(map[string]string)

	for _, c := range cands {
		best, bestScore := -1, 0.0
		for i := range kept {
			if s := Similarity(c.node.Label, kept[i].node.Label); s >= threshold && s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 {
			kept = append(kept, c)
			continue
		}

		canon := &kept[best]
		if c.node.ID != "" {
			if canon.node.ID == "" {
				canon.node.ID = c.node.ID
			} else {
				alias[c.node.ID] = canon.node.ID
			}
		}
		if canon.node.Explanation == "" {
			canon.node.Explanation = c.node.Explanation
		}
	}

	for i := range kept {
		if to, ok := alias[kept[i].parent]; ok {
			kept[i].parent = to
		}
	}
	return kept
}
