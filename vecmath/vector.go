// Package vecmath provides the pure numerical routines shared by the
// retriever, reinforce, and pretrain packages: cosine similarity, the
// residual linear transform, softmax, and the outer-product gradients
// that back the REINFORCE updater and the offline InfoNCE pretrainer.
//
// Everything here is allocation-light and side-effect free: no I/O, no
// logging, no persistence. Degradation policy (log-and-continue) is the
// caller's responsibility, per spec §4.1 and §7.
package vecmath

import (
	"math"
	"math/rand"
)

// Matrix is a dense d×d row-major matrix.
type Matrix [][]float64

// NewZeroMatrix returns a d×d matrix of zeros.
func NewZeroMatrix(d int) Matrix {
	m := make(Matrix, d)
	for i := range m {
		m[i] = make([]float64, d)
	}
	return m
}

// NewGaussianMatrix returns a d×d matrix whose entries are drawn from
// N(0, stddev²) via the basic (trigonometric) Box-Muller transform. Shared by every
// cold-start initialization of W_q/W_m — the online reranker state
// (persist.defaultRerankerState) and the offline pretrainer
// (pretrain.NewInitializedMatrix) both call this rather than each
// carrying their own copy, per the Data Model invariant that W_q/W_m
// start as small Gaussian noise, never zero.
func NewGaussianMatrix(d int, stddev float64, rnd *rand.Rand) Matrix {
	m := NewZeroMatrix(d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			m[i][j] = boxMuller(rnd) * stddev
		}
	}
	return m
}

// boxMuller draws one standard-normal sample via the classic
// Box-Muller transform in its basic (trigonometric) form.
func boxMuller(rnd *rand.Rand) float64 {
	u1 := rnd.Float64()
	u2 := rnd.Float64()
	for u1 == 0 {
		u1 = rnd.Float64()
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Dim returns the matrix's dimension, or 0 for a nil/empty matrix.
func (m Matrix) Dim() int {
	return len(m)
}

// Clone returns a deep copy of m.
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// ZeroMatrix zeroes m in place.
func ZeroMatrix(m Matrix) {
	for i := range m {
		for j := range m[i] {
			m[i][j] = 0
		}
	}
}

// L2Norm returns the Euclidean norm of v.
func L2Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns cos(a, b) in [-1, 1].
//
// Returns ErrDimensionMismatch if len(a) != len(b), ErrZeroNorm if either
// vector has zero norm.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0, ErrZeroNorm
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (na * nb), nil
}

// MatVec returns W·x for a d×d matrix W and length-d vector x.
func MatVec(w Matrix, x []float64) ([]float64, error) {
	d := len(x)
	if w.Dim() != d {
		return nil, ErrDimensionMismatch
	}
	out := make([]float64, d)
	for i := 0; i < d; i++ {
		if len(w[i]) != d {
			return nil, ErrDimensionMismatch
		}
		var sum float64
		row := w[i]
		for j := 0; j < d; j++ {
			sum += row[j] * x[j]
		}
		out[i] = sum
	}
	return out, nil
}

// ResidualTransform computes x' = x + W·x, the skip-connected linear
// layer used to adapt both query and memory embeddings. W=0 reproduces
// plain vector similarity, per spec §4.1.
func ResidualTransform(x []float64, w Matrix) ([]float64, error) {
	wx, err := MatVec(w, x)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] + wx[i]
	}
	return out, nil
}

// OuterProduct returns u·vᵀ, a len(u)×len(v) matrix.
func OuterProduct(u, v []float64) Matrix {
	out := make(Matrix, len(u))
	for i, ui := range u {
		row := make([]float64, len(v))
		for j, vj := range v {
			row[j] = ui * vj
		}
		out[i] = row
	}
	return out
}

// ScaleMatrix returns a copy of m scaled by s.
func ScaleMatrix(m Matrix, s float64) Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		newRow := make([]float64, len(row))
		for j, v := range row {
			newRow[j] = v * s
		}
		out[i] = newRow
	}
	return out
}

// AddMatrixInPlace adds src into dst: dst += src. Dimensions must match.
func AddMatrixInPlace(dst, src Matrix) error {
	if dst.Dim() != src.Dim() {
		return ErrDimensionMismatch
	}
	for i := range dst {
		if len(dst[i]) != len(src[i]) {
			return ErrDimensionMismatch
		}
		for j := range dst[i] {
			dst[i][j] += src[i][j]
		}
	}
	return nil
}

// SubMatrixInPlace subtracts src from dst: dst -= src. Dimensions must match.
func SubMatrixInPlace(dst, src Matrix) error {
	if dst.Dim() != src.Dim() {
		return ErrDimensionMismatch
	}
	for i := range dst {
		if len(dst[i]) != len(src[i]) {
			return ErrDimensionMismatch
		}
		for j := range dst[i] {
			dst[i][j] -= src[i][j]
		}
	}
	return nil
}

// ClipMatrixInPlace clamps every element of m to [-threshold, threshold].
func ClipMatrixInPlace(m Matrix, threshold float64) {
	if threshold <= 0 {
		return
	}
	for i := range m {
		for j, v := range m[i] {
			if v > threshold {
				m[i][j] = threshold
			} else if v < -threshold {
				m[i][j] = -threshold
			}
		}
	}
}

// Softmax computes a numerically stable softmax of scores/tau.
//
// Uses max-subtraction for stability. tau must be positive; callers are
// expected to validate this ahead of time (RerankerState's invariant).
func Softmax(scores []float64, tau float64) []float64 {
	n := len(scores)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for i, s := range scores {
		e := math.Exp((s - maxScore) / tau)
		out[i] = e
		sum += e
	}
	if sum == 0 {
		// Degenerate: fall back to a uniform distribution rather than
		// dividing by zero.
		uniform := 1.0 / float64(n)
		for i := range out {
			out[i] = uniform
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// WeightedSum returns Σ weights[i]*vectors[i], the expectation of a set
// of vectors under a probability distribution. All vectors must share
// dimension d; weights and vectors must be the same length.
func WeightedSum(weights []float64, vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	d := len(vectors[0])
	out := make([]float64, d)
	for i, v := range vectors {
		w := weights[i]
		for j := 0; j < d && j < len(v); j++ {
			out[j] += w * v[j]
		}
	}
	return out
}

// SubVectors returns a - b elementwise. Lengths must match.
func SubVectors(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, ErrDimensionMismatch
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out, nil
}

// CosineSimilarityGradient returns the full derivative of
// cos(u, v) = u·v / (|u| |v|) with respect to u and v:
//
//	d/du cos(u,v) = v/(|u||v|) - cos(u,v)*u/|u|^2
//	d/dv cos(u,v) = u/(|u||v|) - cos(u,v)*v/|v|^2
//
// This is the "full" derivative including the cos·u/|u| correction term
// that a cheap approximation would drop (spec §9 numerical hygiene).
// Returns ErrZeroNorm if either vector has zero norm (caller should treat
// the sample as a zero-gradient skip, never propagate NaN).
func CosineSimilarityGradient(u, v []float64) (du, dv []float64, err error) {
	if len(u) != len(v) {
		return nil, nil, ErrDimensionMismatch
	}
	nu, nv := L2Norm(u), L2Norm(v)
	if nu == 0 || nv == 0 {
		return nil, nil, ErrZeroNorm
	}
	cos, err := CosineSimilarity(u, v)
	if err != nil {
		return nil, nil, err
	}
	du = make([]float64, len(u))
	dv = make([]float64, len(v))
	invNuNv := 1.0 / (nu * nv)
	for i := range u {
		du[i] = v[i]*invNuNv - cos*u[i]/(nu*nu)
		dv[i] = u[i]*invNuNv - cos*v[i]/(nv*nv)
	}
	return du, dv, nil
}

// SampleWithoutReplacement draws up to m distinct indices from
// [0, len(probs)) according to the categorical distribution probs, using
// the supplied uniform random source rnd (values in [0,1)). Ties in the
// residual renormalisation are broken deterministically by ascending
// index (lower vector-store rank first), matching spec §4.6 step 8.
//
// If m >= len(probs), all indices are returned in rank order.
func SampleWithoutReplacement(probs []float64, m int, rnd func() float64) []int {
	n := len(probs)
	if m >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	remaining := append([]float64(nil), probs...)
	available := make([]int, n)
	for i := range available {
		available[i] = i
	}

	selected := make([]int, 0, m)
	for len(selected) < m && len(available) > 0 {
		var total float64
		for _, idx := range available {
			total += remaining[idx]
		}
		if total <= 0 {
			// Degenerate remainder: take by ascending index (rank order).
			selected = append(selected, available[0])
			available = available[1:]
			continue
		}
		r := rnd() * total
		var cum float64
		pick := -1
		for pos, idx := range available {
			cum += remaining[idx]
			if r <= cum {
				pick = pos
				break
			}
		}
		if pick == -1 {
			pick = len(available) - 1
		}
		selected = append(selected, available[pick])
		available = append(available[:pick], available[pick+1:]...)
	}
	return selected
}
