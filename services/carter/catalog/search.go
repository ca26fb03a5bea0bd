package catalog

import (
	"dropcarter/lib/textutil"
	"slices"

	"github.com/antzucaro/matchr"
)

type Match struct {
	Item       Item
	Similarity float64
}

// Search ranks items by how closely their code or description resembles
// `query`. exact code matches always rank first.
func Search(items []Item, query string, limit int) []Match {
	query = textutil.NormalizeName(query)

	matches := make([]Match, 0, len(items))
	for _, item := range items {
		var similarity float64
		if textutil.NormalizeName(item.Code) == query {
			similarity = 2
		} else {
			similarity = max(
				matchr.JaroWinkler(textutil.NormalizeName(item.Desc), query, false),
				matchr.JaroWinkler(textutil.NormalizeName(item.Code), query, false),
			)
		}
		if similarity <= 0 {
			continue
		}
		matches = append(matches, Match{Item: item, Similarity: similarity})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		if a.Similarity > b.Similarity {
			return -1
		}
		if a.Similarity < b.Similarity {
			return 1
		}
		return 0
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
