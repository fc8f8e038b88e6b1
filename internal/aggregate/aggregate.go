// Package aggregate collapses, ranks, and truncates the candidates a
// keyword set accepted during one run.
package aggregate

import (
	"sort"

	"BidMailer/internal/domain"
)

// Rank produces the ordered candidate list for one keyword set: duplicates
// by url_key collapse to the highest-scoring occurrence (first seen wins
// exact ties), the result is sorted by score descending, then most recent
// fetched_at, then url_key ascending, and truncated to topN. Identical
// inputs always produce identical output.
func Rank(candidates []domain.Candidate, topN int) []domain.Candidate {
	byKey := make(map[string]int, len(candidates))
	collapsed := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		idx, seen := byKey[c.Item.URLKey]
		if !seen {
			byKey[c.Item.URLKey] = len(collapsed)
			collapsed = append(collapsed, c)
			continue
		}
		if c.Score > collapsed[idx].Score {
			collapsed[idx] = c
		}
	}

	sort.SliceStable(collapsed, func(i, j int) bool {
		a, b := collapsed[i], collapsed[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Item.FetchedAt.Equal(b.Item.FetchedAt) {
			return a.Item.FetchedAt.After(b.Item.FetchedAt)
		}
		return a.Item.URLKey < b.Item.URLKey
	})

	if topN > 0 && len(collapsed) > topN {
		collapsed = collapsed[:topN]
	}
	return collapsed
}
