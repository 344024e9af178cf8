// Package cli provides CLI utilities for Osusume.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/mutator"
	"github.com/hyperjump/osusume/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// SimilarResponse is what the similar command serializes.
type SimilarResponse struct {
	BookID  int64                 `json:"book_id"`
	Algo    string                `json:"algo"`
	Similar []*models.SimilarBook `json:"similar"`
}

// WriteSimilarBooks writes a neighbor listing to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSimilarBooks(w io.Writer, response *SimilarResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeSimilarBooksText(w, response)
		return nil
	}
}

func writeSimilarBooksText(w io.Writer, response *SimilarResponse) {
	fmt.Fprintf(w, "\n%d similar books for book %d (%s)\n\n",
		len(response.Similar), response.BookID, response.Algo)
	for i, sb := range response.Similar {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | ID: %d\n", i+1, sb.Score, sb.BookID)
		fmt.Fprintf(w, "Title: %s\n", Truncate(sb.Title, 120))
		if sb.AuthorName != "" {
			fmt.Fprintf(w, "Author: %s\n", sb.AuthorName)
		}
		fmt.Fprintln(w)
	}
}

// WriteMutationResult writes an add/update/delete outcome to w.
func WriteMutationResult(w io.Writer, res *mutator.Result, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	default:
		fmt.Fprintf(w, "%s book %d: %d neighbors, %d rows in model (%s)\n",
			res.Op, res.BookID, res.Neighbors, res.Rows, res.Elapsed)
		if res.Fallback {
			switch res.Op {
			case "add":
				fmt.Fprintln(w, "note: book was not in the model yet, added it")
			case "update":
				fmt.Fprintln(w, "note: book was already in the model, updated it")
			}
		}
		return nil
	}
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}
