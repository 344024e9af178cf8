// Package feature composes the weighted text blob a book is vectorized from.
//
// Weighting is literal repetition of attribute text, so the composition must
// stay in lockstep with the full rebuild that fit the vocabulary: change a
// weight here and incrementally built vectors stop being comparable with
// batch-built ones.
package feature

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperjump/osusume/internal/models"
)

// Attribute weights, expressed as repetition counts.
const (
	titleWeight     = 4
	categoryWeight  = 2
	authorWeight    = 2
	publisherWeight = 2
	formatWeight    = 2
	languageWeight  = 1
	yearWeight      = 1
)

// NormToken lowercases s, collapses whitespace runs to single underscores,
// and strips every rune that is not a letter, digit, or underscore. The
// result makes categorical equality (publisher, format, language) exact-term
// equality in the vector space.
func NormToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte('_')
			inSpace = false
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// YearBucket maps a publication year to its decade token ("2024" -> "2020s").
// Non-positive years yield an empty string.
func YearBucket(year int) string {
	if year <= 0 {
		return ""
	}
	return strconv.Itoa(year/10*10) + "s"
}

// Compose builds the weighted full text for a book. Missing attributes
// contribute empty strings.
func Compose(b *models.Book) string {
	var sb strings.Builder

	repeat := func(s string, n int) {
		if s == "" {
			return
		}
		for i := 0; i < n; i++ {
			sb.WriteString(s)
			sb.WriteByte(' ')
		}
	}

	repeat(b.Title, titleWeight)
	repeat(b.Categories, categoryWeight)
	repeat(b.AuthorName, authorWeight)
	if tok := NormToken(b.PublisherName); tok != "" {
		repeat("pub_"+tok, publisherWeight)
	}
	if tok := NormToken(b.Format); tok != "" {
		repeat("fmt_"+tok, formatWeight)
	}
	if tok := NormToken(b.Language); tok != "" {
		repeat("lang_"+tok, languageWeight)
	}
	if tok := YearBucket(b.PublicationYear); tok != "" {
		repeat("year_"+tok, yearWeight)
	}
	sb.WriteString(b.Description)

	return sb.String()
}
