// Package similarity computes top-K cosine neighbors of one vector against
// the snapshot's feature matrix.
package similarity

import (
	"sort"

	"github.com/hyperjump/osusume/internal/vector"
)

// NoSelf marks the query vector as not being a matrix row (the add case:
// its own id cannot appear because it is not a row yet).
const NoSelf = -1

// excludedScore is forced onto the self entry so it can never rank.
const excludedScore = -1.0

// Match is one neighbor: a matrix row index and its cosine score.
type Match struct {
	Index int
	Score float64
}

// TopK returns up to k rows of matrix most similar to query, highest score
// first, ties broken by ascending row index. Rows are assumed L2-normalized
// so a dot product is the cosine similarity. When selfIdx >= 0 (the update
// case) that row is excluded. A zero query vector matches nothing.
func TopK(query vector.Sparse, matrix []vector.Sparse, selfIdx, k int) []Match {
	if query.IsZero() {
		return nil
	}
	candidates := len(matrix)
	if selfIdx >= 0 && selfIdx < len(matrix) {
		candidates--
	}
	if k > candidates {
		k = candidates
	}
	if k <= 0 {
		return nil
	}

	scores := make([]Match, len(matrix))
	for i, row := range matrix {
		scores[i] = Match{Index: i, Score: vector.Dot(query, row)}
	}
	if selfIdx >= 0 && selfIdx < len(scores) {
		scores[selfIdx].Score = excludedScore
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Index < scores[j].Index
	})
	return scores[:k]
}
