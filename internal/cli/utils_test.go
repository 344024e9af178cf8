package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/mutator"
)

func TestWriteSimilarBooks_JSON(t *testing.T) {
	response := &SimilarResponse{
		BookID: 42,
		Algo:   "TFIDF",
		Similar: []*models.SimilarBook{
			{BookID: 7, Title: "Dune", AuthorName: "Frank Herbert", Score: 0.91, Reason: "cb_tfidf"},
			{BookID: 9, Title: "Dune Messiah", AuthorName: "Frank Herbert", Score: 0.74, Reason: "cb_tfidf"},
		},
	}
	var buf bytes.Buffer
	if err := WriteSimilarBooks(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSimilarBooks(json): %v", err)
	}
	var decoded SimilarResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.BookID != 42 || decoded.Algo != "TFIDF" {
		t.Errorf("decoded header: %+v", decoded)
	}
	if len(decoded.Similar) != 2 || decoded.Similar[0].BookID != 7 {
		t.Errorf("decoded similar: %+v", decoded.Similar)
	}
}

func TestWriteSimilarBooks_JSON_empty(t *testing.T) {
	response := &SimilarResponse{BookID: 1, Algo: "TFIDF"}
	var buf bytes.Buffer
	if err := WriteSimilarBooks(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSimilarBooks(json): %v", err)
	}
	var decoded SimilarResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("empty response JSON decode: %v", err)
	}
	if len(decoded.Similar) != 0 {
		t.Errorf("expected no neighbors, got %+v", decoded.Similar)
	}
}

func TestWriteSimilarBooks_text(t *testing.T) {
	response := &SimilarResponse{
		BookID: 42,
		Algo:   "TFIDF",
		Similar: []*models.SimilarBook{
			{BookID: 7, Title: "Dune", AuthorName: "Frank Herbert", Score: 0.91},
		},
	}
	var buf bytes.Buffer
	if err := WriteSimilarBooks(&buf, response, OutputText); err != nil {
		t.Fatalf("WriteSimilarBooks(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"1 similar books for book 42", "Rank: 1", "Score: 0.9100", "Dune", "Frank Herbert"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected %q in output:\n%s", sub, out)
		}
	}
}

func TestWriteSimilarBooks_unknownFormatTreatedAsText(t *testing.T) {
	response := &SimilarResponse{BookID: 1, Algo: "TFIDF"}
	var buf bytes.Buffer
	if err := WriteSimilarBooks(&buf, response, OutputFormat("unknown")); err != nil {
		t.Fatalf("WriteSimilarBooks(unknown): %v", err)
	}
	if !strings.Contains(buf.String(), "similar books") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

func TestWriteMutationResult(t *testing.T) {
	res := &mutator.Result{
		Op:        "add",
		OpID:      "op-1",
		BookID:    42,
		Neighbors: 3,
		Rows:      10,
		Elapsed:   12 * time.Millisecond,
	}
	var buf bytes.Buffer
	if err := WriteMutationResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "add book 42") || !strings.Contains(out, "3 neighbors") {
		t.Errorf("unexpected text output: %q", out)
	}

	buf.Reset()
	if err := WriteMutationResult(&buf, res, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded mutator.Result
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("result JSON decode: %v", err)
	}
	if decoded.OpID != "op-1" || decoded.Neighbors != 3 {
		t.Errorf("decoded result: %+v", decoded)
	}
}

func TestWriteMutationResult_fallbackNote(t *testing.T) {
	res := &mutator.Result{Op: "add", BookID: 5, Fallback: true}
	var buf bytes.Buffer
	if err := WriteMutationResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "not in the model") {
		t.Errorf("expected fallback note, got %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"empty", "", 5, ""},
		{"short", "hi", 5, "hi"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hello..."},
		{"maxLen zero", "ab", 0, "ab"},
		{"maxLen negative", "ab", -1, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.s, tt.maxLen)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}
