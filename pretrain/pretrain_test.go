package pretrain_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/smallnest/rmm/pretrain"
	"github.com/smallnest/rmm/vecmath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMeanLoss_ZeroWeightsReducesToClosedForm pins the round-trip
// property: with W_q=W_m=0 the residual transform is the identity, so
// one positive and one negative at τ=1 reduces InfoNCE's
// -log(softmax(sim_pos)) to the closed form
// log(1+exp(sim_neg-sim_pos)).
func TestMeanLoss_ZeroWeightsReducesToClosedForm(t *testing.T) {
	t.Parallel()

	query := []float64{1, 0}
	positive := []float64{0.8, 0.6}
	negative := []float64{0, 1}

	simPos, err := vecmath.CosineSimilarity(query, positive)
	require.NoError(t, err)
	simNeg, err := vecmath.CosineSimilarity(query, negative)
	require.NoError(t, err)

	sample := pretrain.Sample{Query: query, Positive: positive, Negatives: [][]float64{negative}}
	wq := vecmath.NewZeroMatrix(2)
	wm := vecmath.NewZeroMatrix(2)

	loss := pretrain.MeanLoss([]pretrain.Sample{sample}, wq, wm, 1.0)
	expected := math.Log(1 + math.Exp(simNeg-simPos))

	assert.InDelta(t, expected, loss, 1e-6)
}

// scenarioESamples builds 16 triples at d=4 where the positive is a
// small perturbation of the query and negatives are drawn from
// unrelated directions, so a few epochs of training should visibly
// pull the positive closer than the negatives.
func scenarioESamples() []pretrain.Sample {
	rnd := rand.New(rand.NewSource(7))
	samples := make([]pretrain.Sample, 0, 16)
	basis := [][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	for i := 0; i < 16; i++ {
		axis := basis[i%len(basis)]
		query := jitter(axis, rnd)
		positive := jitter(axis, rnd)
		negatives := make([][]float64, 0, 3)
		for j := 1; j <= 3; j++ {
			other := basis[(i+j)%len(basis)]
			negatives = append(negatives, jitter(other, rnd))
		}
		samples = append(samples, pretrain.Sample{Query: query, Positive: positive, Negatives: negatives})
	}
	return samples
}

func jitter(v []float64, rnd *rand.Rand) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x + rnd.Float64()*0.05
	}
	return out
}

func TestTrainer_ScenarioE_LossNonIncreasingAndRecallImproves(t *testing.T) {
	t.Parallel()

	samples := scenarioESamples()
	rnd := rand.New(rand.NewSource(42))
	wq := pretrain.NewInitializedMatrix(4, rnd)
	wm := pretrain.NewInitializedMatrix(4, rnd)

	initialRecall := pretrain.RecallAt5(samples, wq, wm)

	cfg := pretrain.Config{Temperature: 0.07, LearningRate: 0.01, Epochs: 20}
	trainer := pretrain.New(wq, wm, cfg)
	reports := trainer.Train(samples)

	require.Len(t, reports, 20)

	for i := 1; i < len(reports); i++ {
		prev, cur := reports[i-1].Loss, reports[i].Loss
		if cur > prev {
			rebound := (cur - prev) / prev
			assert.LessOrEqualf(t, rebound, 0.05, "epoch %d loss rebounded by %.4f, exceeding 5%% tolerance", i, rebound)
		}
	}

	finalRecall := pretrain.RecallAt5(samples, trainer.Wq, trainer.Wm)
	assert.GreaterOrEqual(t, finalRecall, initialRecall)
}

func TestNewInitializedMatrix_HasRequestedDimension(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewSource(1))
	m := pretrain.NewInitializedMatrix(8, rnd)
	assert.Equal(t, 8, m.Dim())
}

func TestInferDimension_DefaultsWhenEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, pretrain.DefaultDimension, pretrain.InferDimension(nil))
}

func TestInferDimension_UsesFirstSample(t *testing.T) {
	t.Parallel()

	samples := []pretrain.Sample{{Query: []float64{1, 2, 3}}}
	assert.Equal(t, 3, pretrain.InferDimension(samples))
}

// A zero-norm vector anywhere in the triple must skip the sample's
// gradient and loss contribution, never panic or propagate NaN.
func TestTrainer_ZeroNormSampleIsSkippedNotNaN(t *testing.T) {
	t.Parallel()

	d := 2
	wq := vecmath.NewZeroMatrix(d)
	wm := vecmath.NewZeroMatrix(d)

	samples := []pretrain.Sample{
		{Query: []float64{0, 0}, Positive: []float64{1, 0}, Negatives: [][]float64{{0, 1}}},
		{Query: []float64{1, 0}, Positive: []float64{1, 0}, Negatives: [][]float64{{0, 1}}},
	}

	cfg := pretrain.Config{Temperature: 0.5, LearningRate: 0.1, Epochs: 1}
	trainer := pretrain.New(wq, wm, cfg)
	reports := trainer.Train(samples)

	require.Len(t, reports, 1)
	assert.False(t, isNaN(reports[0].Loss))

	loss := pretrain.MeanLoss(samples, trainer.Wq, trainer.Wm, 0.5)
	assert.False(t, isNaN(loss))
}

func isNaN(f float64) bool {
	return f != f
}

func TestMeanLoss_EmptySamplesReturnsZero(t *testing.T) {
	t.Parallel()

	wq := vecmath.NewZeroMatrix(2)
	wm := vecmath.NewZeroMatrix(2)
	assert.Equal(t, 0.0, pretrain.MeanLoss(nil, wq, wm, 0.5))
}

func TestRecallAt5_PerfectSeparationScoresOne(t *testing.T) {
	t.Parallel()

	wq := vecmath.NewZeroMatrix(2)
	wm := vecmath.NewZeroMatrix(2)
	samples := []pretrain.Sample{
		{Query: []float64{1, 0}, Positive: []float64{1, 0}, Negatives: [][]float64{{-1, 0}}},
	}
	assert.Equal(t, 1.0, pretrain.RecallAt5(samples, wq, wm))
}
