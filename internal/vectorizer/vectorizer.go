// Package vectorizer maps composed text to sparse weighted-term vectors
// using a vocabulary and IDF table frozen at the last full rebuild.
package vectorizer

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hyperjump/osusume/internal/vector"
)

// Vectorizer holds the frozen vocabulary and per-term IDF weights.
// It is immutable after construction: incremental operations never extend
// the vocabulary. Terms cover unigrams and bigrams (space-joined).
type Vectorizer struct {
	terms []string         // column order; position = matrix column
	index map[string]int32 // term -> column
	idf   []float32        // parallel to terms
}

// New creates a vectorizer from a term list (column order) and parallel IDF
// weights. Terms must be unique.
func New(terms []string, idf []float32) (*Vectorizer, error) {
	if len(terms) != len(idf) {
		return nil, fmt.Errorf("vectorizer: %d terms but %d idf weights", len(terms), len(idf))
	}
	index := make(map[string]int32, len(terms))
	for i, term := range terms {
		if _, dup := index[term]; dup {
			return nil, fmt.Errorf("vectorizer: duplicate term %q", term)
		}
		index[term] = int32(i)
	}
	return &Vectorizer{terms: terms, index: index, idf: idf}, nil
}

// Dim returns the vocabulary size (vector dimensionality).
func (v *Vectorizer) Dim() int {
	return len(v.terms)
}

// Terms returns the vocabulary in column order. The returned slice must not
// be modified.
func (v *Vectorizer) Terms() []string {
	return v.terms
}

// IDF returns the IDF table in column order. The returned slice must not be
// modified.
func (v *Vectorizer) IDF() []float32 {
	return v.idf
}

// TransformStats reports what the transform saw: how many term occurrences
// the text produced and how many of them were dropped because they are not
// in the frozen vocabulary.
type TransformStats struct {
	Terms   int
	Dropped int
}

// OOVRatio returns the fraction of term occurrences dropped as
// out-of-vocabulary. Zero when the text had no terms.
func (s TransformStats) OOVRatio() float64 {
	if s.Terms == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(s.Terms)
}

// Transform maps text to an L2-normalized sparse vector: raw term counts
// (unigrams + bigrams) multiplied by the frozen IDF weights. Terms absent
// from the vocabulary are dropped; the stats report how many.
func (v *Vectorizer) Transform(text string) (vector.Sparse, TransformStats) {
	tokens := Tokenize(text)

	var stats TransformStats
	counts := make(map[int32]float64)

	consume := func(term string) {
		stats.Terms++
		col, ok := v.index[term]
		if !ok {
			stats.Dropped++
			return
		}
		counts[col]++
	}

	for _, tok := range tokens {
		consume(tok)
	}
	for i := 0; i+1 < len(tokens); i++ {
		consume(tokens[i] + " " + tokens[i+1])
	}

	out := vector.Sparse{
		Indices: make([]int32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for col := range counts {
		out.Indices = append(out.Indices, col)
	}
	sort.Slice(out.Indices, func(i, j int) bool { return out.Indices[i] < out.Indices[j] })
	for _, col := range out.Indices {
		out.Values = append(out.Values, float32(counts[col])*v.idf[col])
	}
	out.Normalize()
	return out, stats
}

// Tokenize lowercases text and splits it into word tokens: maximal runs of
// letters, digits, and underscores. Matches the tokenization the vocabulary
// was built with.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
