package vecmath_test

import (
	"math"
	"testing"

	"github.com/smallnest/rmm/vecmath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	sim, err := vecmath.CosineSimilarity([]float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = vecmath.CosineSimilarity([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	_, err = vecmath.CosineSimilarity([]float64{1, 0, 0}, []float64{1, 0})
	assert.ErrorIs(t, err, vecmath.ErrDimensionMismatch)

	_, err = vecmath.CosineSimilarity([]float64{0, 0}, []float64{1, 0})
	assert.ErrorIs(t, err, vecmath.ErrZeroNorm)
}

func TestResidualTransform_ZeroMatrixIsIdentity(t *testing.T) {
	t.Parallel()

	x := []float64{1, 2, 3}
	w := vecmath.NewZeroMatrix(3)

	out, err := vecmath.ResidualTransform(x, w)
	require.NoError(t, err)
	assert.Equal(t, x, out)
}

func TestResidualTransform_AppliesMatrix(t *testing.T) {
	t.Parallel()

	// W = diag(1, 0) -> x' = x + [x0, 0]
	w := vecmath.Matrix{{1, 0}, {0, 0}}
	x := []float64{1, 0.5}

	out, err := vecmath.ResidualTransform(x, w)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 0.5}, out, 1e-9)
}

func TestSoftmax_SumsToOne(t *testing.T) {
	t.Parallel()

	scores := []float64{2.1, -0.3, 5.0, 0.0}
	probs := vecmath.Softmax(scores, 0.5)

	var sum float64
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	for _, p := range probs {
		assert.False(t, math.IsNaN(p))
	}
}

func TestSoftmax_DegenerateAllEqual(t *testing.T) {
	t.Parallel()

	probs := vecmath.Softmax([]float64{1, 1, 1}, 1.0)
	for _, p := range probs {
		assert.InDelta(t, 1.0/3, p, 1e-9)
	}
}

func TestOuterProductAndScale(t *testing.T) {
	t.Parallel()

	op := vecmath.OuterProduct([]float64{1, 2}, []float64{3, 4})
	assert.Equal(t, vecmath.Matrix{{3, 4}, {6, 8}}, op)

	scaled := vecmath.ScaleMatrix(op, 0.5)
	assert.Equal(t, vecmath.Matrix{{1.5, 2}, {3, 4}}, scaled)
}

func TestClipMatrixInPlace(t *testing.T) {
	t.Parallel()

	m := vecmath.Matrix{{200, -200}, {5, -5}}
	vecmath.ClipMatrixInPlace(m, 100)
	assert.Equal(t, vecmath.Matrix{{100, -100}, {5, -5}}, m)
}

func TestCosineSimilarityGradient_ZeroNorm(t *testing.T) {
	t.Parallel()

	_, _, err := vecmath.CosineSimilarityGradient([]float64{0, 0}, []float64{1, 0})
	assert.ErrorIs(t, err, vecmath.ErrZeroNorm)
}

func TestCosineSimilarityGradient_MatchesFiniteDifference(t *testing.T) {
	t.Parallel()

	u := []float64{1.0, 0.3}
	v := []float64{0.2, 0.9}
	du, _, err := vecmath.CosineSimilarityGradient(u, v)
	require.NoError(t, err)

	const h = 1e-6
	base, err := vecmath.CosineSimilarity(u, v)
	require.NoError(t, err)

	for i := range u {
		up := append([]float64(nil), u...)
		up[i] += h
		bumped, err := vecmath.CosineSimilarity(up, v)
		require.NoError(t, err)
		numeric := (bumped - base) / h
		assert.InDelta(t, numeric, du[i], 1e-3)
	}
}

func TestSampleWithoutReplacement_ReturnsDistinctAndDeterministic(t *testing.T) {
	t.Parallel()

	probs := []float64{0.7, 0.2, 0.1}
	// Deterministic "random" source: always pick the first candidate.
	rnd := func() float64 { return 0 }

	selected := vecmath.SampleWithoutReplacement(probs, 2, rnd)
	assert.Len(t, selected, 2)
	assert.NotEqual(t, selected[0], selected[1])
	assert.Equal(t, []int{0, 1}, selected)
}

func TestSampleWithoutReplacement_MoreThanAvailableReturnsAllInOrder(t *testing.T) {
	t.Parallel()

	probs := []float64{0.5, 0.5}
	selected := vecmath.SampleWithoutReplacement(probs, 5, func() float64 { return 0.5 })
	assert.Equal(t, []int{0, 1}, selected)
}
