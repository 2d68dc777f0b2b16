// Package pretrain implements the Offline Pretrainer (spec §4.9):
// batch-mode supervised training of W_q and W_m from labelled
// (query, positive, negatives...) triples, using an InfoNCE
// contrastive loss over cosine similarities of the adapted
// embeddings.
//
// Gradients are computed analytically with the full cosine-similarity
// derivative (vecmath.CosineSimilarityGradient), composed
// via outer product with the ORIGINAL (pre-transform) query and memory
// vectors — never the adapted ones.
package pretrain

import (
	"math"
	"math/rand"

	"github.com/smallnest/rmm/vecmath"
)

// DefaultDimension is used when a caller asks for an initialised
// matrix before any sample has been seen.
const DefaultDimension = 768

// InitStdDev is the standard deviation of the Gaussian used to
// initialise W_q and W_m (spec §4.9: N(0, 0.01²)).
const InitStdDev = 0.01

// Sample is one labelled training triple. Positive and Negatives are
// the un-adapted embedding vectors; Query is the un-adapted query
// embedding. All vectors must share the same dimension.
type Sample struct {
	Query     []float64
	Positive  []float64
	Negatives [][]float64
}

// Config governs one training run.
type Config struct {
	Temperature  float64
	LearningRate float64
	Epochs       int
}

// DefaultConfig returns spec-reasonable defaults for offline training.
func DefaultConfig() Config {
	return Config{Temperature: 0.07, LearningRate: 0.01, Epochs: 10}
}

// Logger is the ambient logging capability for per-epoch loss
// reporting and degraded-sample warnings.
type Logger interface {
	Printf(format string, args ...any)
}

// EpochReport is the per-epoch progress signal spec §4.9 requires
// ("loss is reported per epoch"). Storing full weight state per epoch
// is deliberately not offered here, per spec §4.9's memory note.
type EpochReport struct {
	Epoch int
	Loss  float64
}

// NewInitializedMatrix returns a d×d matrix whose entries are drawn
// from N(0, InitStdDev²) using the Box-Muller transform, per spec
// §4.9's initialisation rule. This is the same vecmath.NewGaussianMatrix
// the online reranker state's cold-start uses (persist.defaultRerankerState),
// just pinned to InitStdDev.
func NewInitializedMatrix(d int, rnd *rand.Rand) vecmath.Matrix {
	return vecmath.NewGaussianMatrix(d, InitStdDev, rnd)
}

// InferDimension returns the embedding dimension implied by the first
// sample, or DefaultDimension if samples is empty.
func InferDimension(samples []Sample) int {
	if len(samples) == 0 {
		return DefaultDimension
	}
	return len(samples[0].Query)
}

// allCandidates returns {positive, negatives...} in a fixed order:
// index 0 is always the positive.
func allCandidates(s Sample) [][]float64 {
	out := make([][]float64, 0, 1+len(s.Negatives))
	out = append(out, s.Positive)
	out = append(out, s.Negatives...)
	return out
}

// sampleGradient computes one sample's InfoNCE loss and its
// contribution to gradWq/gradWm. Returns ok=false for a degenerate
// sample (any zero-norm vector), in which case the sample must be
// skipped entirely rather than contributing a NaN.
func sampleGradient(s Sample, wq, wm vecmath.Matrix, temperature float64) (loss float64, gradWq, gradWm vecmath.Matrix, ok bool) {
	qAdapted, err := vecmath.ResidualTransform(s.Query, wq)
	if err != nil {
		return 0, nil, nil, false
	}

	candidates := allCandidates(s)
	adapted := make([][]float64, len(candidates))
	for i, c := range candidates {
		a, err := vecmath.ResidualTransform(c, wm)
		if err != nil {
			return 0, nil, nil, false
		}
		adapted[i] = a
	}

	sims := make([]float64, len(adapted))
	dq := make([][]float64, len(adapted))
	dv := make([][]float64, len(adapted))
	for i, a := range adapted {
		sim, err := vecmath.CosineSimilarity(qAdapted, a)
		if err != nil {
			return 0, nil, nil, false
		}
		du, dvi, err := vecmath.CosineSimilarityGradient(qAdapted, a)
		if err != nil {
			return 0, nil, nil, false
		}
		sims[i] = sim
		dq[i] = du
		dv[i] = dvi
	}

	probs := vecmath.Softmax(sims, temperature)
	// InfoNCE loss: -log(p_positive), positive is always index 0.
	const epsilon = 1e-12
	loss = -math.Log(probs[0] + epsilon)

	dim := len(s.Query)
	gradWq = vecmath.NewZeroMatrix(dim)
	gradWm = vecmath.NewZeroMatrix(dim)

	dqAccum := make([]float64, dim)
	for i := range adapted {
		target := 0.0
		if i == 0 {
			target = 1.0
		}
		dLdSim := (probs[i] - target) / temperature

		for j := 0; j < dim; j++ {
			dqAccum[j] += dLdSim * dq[i][j]
		}

		dCandidate := make([]float64, dim)
		for j := 0; j < dim; j++ {
			dCandidate[j] = dLdSim * dv[i][j]
		}
		candidateGrad := vecmath.OuterProduct(dCandidate, candidates[i])
		_ = vecmath.AddMatrixInPlace(gradWm, candidateGrad)
	}

	queryGrad := vecmath.OuterProduct(dqAccum, s.Query)
	_ = vecmath.AddMatrixInPlace(gradWq, queryGrad)

	return loss, gradWq, gradWm, true
}

// Trainer holds the matrices being trained and drives the epoch loop.
type Trainer struct {
	Wq     vecmath.Matrix
	Wm     vecmath.Matrix
	Config Config
	logger Logger
}

// New builds a Trainer with the given initial matrices.
func New(wq, wm vecmath.Matrix, cfg Config) *Trainer {
	return &Trainer{Wq: wq, Wm: wm, Config: cfg, logger: noopLogger{}}
}

// WithLogger overrides the default no-op logger.
func (t *Trainer) WithLogger(l Logger) *Trainer {
	t.logger = l
	return t
}

// Train runs Config.Epochs passes over samples, applying one
// averaged-gradient-descent update per epoch (spec §4.9: "apply
// W ← W − η · avgGrad"). Returns one EpochReport per epoch.
func (t *Trainer) Train(samples []Sample) []EpochReport {
	reports := make([]EpochReport, 0, t.Config.Epochs)
	dim := t.Wq.Dim()

	for epoch := 0; epoch < t.Config.Epochs; epoch++ {
		sumGradWq := vecmath.NewZeroMatrix(dim)
		sumGradWm := vecmath.NewZeroMatrix(dim)
		var totalLoss float64
		var counted int

		for _, s := range samples {
			loss, gradWq, gradWm, ok := sampleGradient(s, t.Wq, t.Wm, t.Config.Temperature)
			if !ok {
				t.logger.Printf("pretrain: epoch %d: zero-norm sample skipped", epoch)
				continue
			}
			totalLoss += loss
			_ = vecmath.AddMatrixInPlace(sumGradWq, gradWq)
			_ = vecmath.AddMatrixInPlace(sumGradWm, gradWm)
			counted++
		}

		if counted == 0 {
			reports = append(reports, EpochReport{Epoch: epoch, Loss: 0})
			continue
		}

		avgGradWq := vecmath.ScaleMatrix(sumGradWq, 1.0/float64(counted))
		avgGradWm := vecmath.ScaleMatrix(sumGradWm, 1.0/float64(counted))

		deltaWq := vecmath.ScaleMatrix(avgGradWq, t.Config.LearningRate)
		deltaWm := vecmath.ScaleMatrix(avgGradWm, t.Config.LearningRate)
		_ = vecmath.SubMatrixInPlace(t.Wq, deltaWq)
		_ = vecmath.SubMatrixInPlace(t.Wm, deltaWm)

		meanLoss := totalLoss / float64(counted)
		t.logger.Printf("pretrain: epoch %d: loss=%.6f (%d/%d samples)", epoch, meanLoss, counted, len(samples))
		reports = append(reports, EpochReport{Epoch: epoch, Loss: meanLoss})
	}

	return reports
}

// MeanLoss evaluates the InfoNCE loss averaged over samples under the
// current Wq/Wm, skipping degenerate (zero-norm) samples.
func MeanLoss(samples []Sample, wq, wm vecmath.Matrix, temperature float64) float64 {
	var total float64
	var counted int
	for _, s := range samples {
		loss, _, _, ok := sampleGradient(s, wq, wm, temperature)
		if !ok {
			continue
		}
		total += loss
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

// RecallAt5 returns the fraction of samples where the positive ranks
// in the top 5 by adapted cosine similarity — i.e. fewer than 5
// negatives score higher than the positive (spec §4.9).
func RecallAt5(samples []Sample, wq, wm vecmath.Matrix) float64 {
	var hits int
	var counted int
	for _, s := range samples {
		qAdapted, err := vecmath.ResidualTransform(s.Query, wq)
		if err != nil {
			continue
		}
		pAdapted, err := vecmath.ResidualTransform(s.Positive, wm)
		if err != nil {
			continue
		}
		posSim, err := vecmath.CosineSimilarity(qAdapted, pAdapted)
		if err != nil {
			continue
		}

		higherCount := 0
		degenerate := false
		for _, neg := range s.Negatives {
			nAdapted, err := vecmath.ResidualTransform(neg, wm)
			if err != nil {
				degenerate = true
				break
			}
			negSim, err := vecmath.CosineSimilarity(qAdapted, nAdapted)
			if err != nil {
				degenerate = true
				break
			}
			if negSim > posSim {
				higherCount++
			}
		}
		if degenerate {
			continue
		}

		counted++
		if higherCount < 5 {
			hits++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(hits) / float64(counted)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}
