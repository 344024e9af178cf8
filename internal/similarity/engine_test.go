package similarity

import (
	"math"
	"testing"

	"github.com/hyperjump/osusume/internal/vector"
)

func row(vals ...float32) vector.Sparse {
	var v vector.Sparse
	for i, x := range vals {
		if x != 0 {
			v.Indices = append(v.Indices, int32(i))
			v.Values = append(v.Values, x)
		}
	}
	return v
}

// Three items over vocabulary {a, b, c}: item at row 0 = (1,0,0),
// row 1 = (0,1,0), row 2 = (0.707,0.707,0).
func testMatrix() []vector.Sparse {
	return []vector.Sparse{
		row(1, 0, 0),
		row(0, 1, 0),
		row(0.707, 0.707, 0),
	}
}

func TestTopKAddCase(t *testing.T) {
	// New item (1,0,0), not yet a row: no self exclusion needed.
	got := TopK(row(1, 0, 0), testMatrix(), NoSelf, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Index != 0 || math.Abs(got[0].Score-1.0) > 1e-6 {
		t.Errorf("top neighbor = %+v, want row 0 score 1.0", got[0])
	}
	if got[1].Index != 2 || math.Abs(got[1].Score-0.707) > 1e-3 {
		t.Errorf("second neighbor = %+v, want row 2 score ~0.707", got[1])
	}
	if got[2].Index != 1 || got[2].Score != 0 {
		t.Errorf("third neighbor = %+v, want row 1 score 0", got[2])
	}
	if !(got[1].Score > got[2].Score) {
		t.Error("row 2 must rank strictly above row 1")
	}
}

func TestTopKExcludesSelf(t *testing.T) {
	got := TopK(row(1, 0, 0), testMatrix(), 0, 10)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, m := range got {
		if m.Index == 0 {
			t.Errorf("self row returned: %+v", m)
		}
	}
	if got[0].Index != 2 {
		t.Errorf("best non-self neighbor = %+v, want row 2", got[0])
	}
}

func TestTopKBound(t *testing.T) {
	m := testMatrix()
	if got := TopK(row(1), m, NoSelf, 2); len(got) != 2 {
		t.Errorf("len = %d, want 2 (requested k)", len(got))
	}
	// k capped at N-1 with self excluded.
	if got := TopK(row(1), m, 0, 10); len(got) != 2 {
		t.Errorf("len = %d, want 2 (N-1)", len(got))
	}
}

func TestTopKEmptyCases(t *testing.T) {
	if got := TopK(row(1), nil, NoSelf, 5); got != nil {
		t.Errorf("empty matrix should yield nil, got %v", got)
	}
	// Single row which is the query itself.
	if got := TopK(row(1), []vector.Sparse{row(1)}, 0, 5); got != nil {
		t.Errorf("self-only matrix should yield nil, got %v", got)
	}
	if got := TopK(row(1), testMatrix(), NoSelf, 0); got != nil {
		t.Errorf("k=0 should yield nil, got %v", got)
	}
}

func TestTopKZeroQuery(t *testing.T) {
	if got := TopK(vector.Sparse{}, testMatrix(), NoSelf, 5); got != nil {
		t.Errorf("zero query should match nothing, got %v", got)
	}
}

func TestTopKTieBreakAscendingIndex(t *testing.T) {
	// Rows 0, 1, 2 all identical: equal scores, expect ascending index order.
	m := []vector.Sparse{row(0, 1), row(0, 1), row(0, 1), row(1, 0)}
	got := TopK(row(0, 1), m, NoSelf, 4)
	want := []int{0, 1, 2, 3}
	for i, w := range want {
		if got[i].Index != w {
			t.Fatalf("tie-break order = %v, want %v", got, want)
		}
	}
}

func TestTopKDeterministic(t *testing.T) {
	m := testMatrix()
	a := TopK(row(0.5, 0.5), m, NoSelf, 3)
	b := TopK(row(0.5, 0.5), m, NoSelf, 3)
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("TopK is not deterministic")
		}
	}
}
