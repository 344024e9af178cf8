// Package vector provides the sparse weighted-term vector type and similarity helpers.
package vector

import (
	"math"

	"github.com/hyperjump/osusume/pkg/utils"
)

// Sparse is a sparse non-negative vector: parallel slices of column indices
// (ascending, unique) and weights. The zero value is the zero vector.
type Sparse struct {
	Indices []int32
	Values  []float32
}

// NNZ returns the number of stored (non-zero) entries.
func (v Sparse) NNZ() int {
	return len(v.Indices)
}

// IsZero reports whether the vector has no non-zero entries.
func (v Sparse) IsZero() bool {
	return len(v.Indices) == 0
}

// Dot returns the inner product of two sparse vectors. For L2-normalized
// vectors this equals their cosine similarity.
func Dot(a, b Sparse) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += float64(a.Values[i]) * float64(b.Values[j])
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Norm returns the L2 norm.
func (v Sparse) Norm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales the vector in place to unit L2 norm.
// The zero vector is unchanged.
func (v Sparse) Normalize() {
	utils.NormalizeL2(v.Values)
}

// Clone returns a deep copy.
func (v Sparse) Clone() Sparse {
	out := Sparse{
		Indices: make([]int32, len(v.Indices)),
		Values:  make([]float32, len(v.Values)),
	}
	copy(out.Indices, v.Indices)
	copy(out.Values, v.Values)
	return out
}
