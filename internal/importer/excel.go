// Package importer loads a book catalog from an Excel workbook into storage.
package importer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/catalog"
	"github.com/hyperjump/osusume/internal/models"
)

// Column headers recognized in the first row of the sheet. The category
// column carries one manually-assigned main category per book.
const (
	colTitle       = "title"
	colAuthor      = "author_name"
	colPublisher   = "publisher"
	colDescription = "description"
	colPublished   = "published_date"
	colLanguage    = "language"
	colFormat      = "format"
	colCategory    = "main_category_from_manual"
)

const defaultFormat = "paperback"

var yearRe = regexp.MustCompile(`\d{4}`)

// Importer reads workbook rows and creates catalog entries.
type Importer struct {
	books  catalog.BookWriter
	logger *zap.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets a logger for per-row skip diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(i *Importer) { i.logger = l }
}

// New creates an importer writing to books.
func New(books catalog.BookWriter, opts ...Option) *Importer {
	imp := &Importer{books: books}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// Summary reports the outcome of an import run.
type Summary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportFile reads the first sheet of the workbook at path. The first row
// must be a header row; rows lacking a title or a category are skipped, as
// they cannot produce a usable feature vector later.
func (i *Importer) ImportFile(ctx context.Context, path string) (*Summary, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}

	cols, err := headerIndex(rows[0])
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	for n, row := range rows[1:] {
		book, ok := i.parseRow(cols, row)
		if !ok {
			sum.Skipped++
			continue
		}
		if _, err := i.books.CreateBook(ctx, book); err != nil {
			return sum, fmt.Errorf("import row %d (%s): %w", n+2, book.Title, err)
		}
		sum.Imported++
	}
	if i.logger != nil {
		i.logger.Info("catalog import finished",
			zap.String("file", path),
			zap.Int("imported", sum.Imported),
			zap.Int("skipped", sum.Skipped),
		)
	}
	return sum, nil
}

// headerIndex maps recognized header names to their column positions. Title
// and category are required; everything else is optional.
func headerIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for idx, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	if _, ok := cols[colTitle]; !ok {
		return nil, fmt.Errorf("header row has no %q column", colTitle)
	}
	if _, ok := cols[colCategory]; !ok {
		return nil, fmt.Errorf("header row has no %q column", colCategory)
	}
	return cols, nil
}

func (i *Importer) parseRow(cols map[string]int, row []string) (*models.Book, bool) {
	title := cell(cols, row, colTitle)
	category := cell(cols, row, colCategory)
	if title == "" || category == "" {
		if i.logger != nil {
			i.logger.Debug("skipping row without title or category", zap.String("title", title))
		}
		return nil, false
	}

	format := cell(cols, row, colFormat)
	if format == "" {
		format = defaultFormat
	}

	return &models.Book{
		Title:           title,
		Description:     cell(cols, row, colDescription),
		AuthorName:      cell(cols, row, colAuthor),
		PublisherName:   cell(cols, row, colPublisher),
		Format:          format,
		Language:        cell(cols, row, colLanguage),
		PublicationYear: parseYear(cell(cols, row, colPublished)),
		Categories:      joinCategories(category),
	}, true
}

// cell returns the trimmed value of a named column, or "" when the column is
// absent or the row is short.
func cell(cols map[string]int, row []string, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	s := strings.TrimSpace(row[idx])
	switch strings.ToLower(s) {
	case "nan", "none", "null", "na", "n/a":
		return ""
	}
	return s
}

// parseYear extracts the first 4-digit year from a date-ish string such as
// "2017-05-01" or "2019". Unparseable or implausible values yield zero.
func parseYear(s string) int {
	m := yearRe.FindString(s)
	if m == "" {
		return 0
	}
	year := 0
	for _, r := range m {
		year = year*10 + int(r-'0')
	}
	if year < 1000 || year > 2100 {
		return 0
	}
	return year
}

// joinCategories normalizes a comma-separated category cell into the sorted
// space-joined form the catalog stores. Spaces inside one category name are
// collapsed to underscores so the joined list stays splittable.
func joinCategories(raw string) string {
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, strings.Join(strings.Fields(p), "_"))
		}
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}
