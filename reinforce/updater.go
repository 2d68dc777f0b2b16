// Package reinforce implements the REINFORCE Updater (spec §4.8), the
// numerical heart of the reflective memory management core: it
// accumulates policy gradients across turns for W_q and W_m, using the
// mean-field baseline form, and applies a batched update when the
// batch fills or the session ends.
//
// Two precision points govern every line of this file (spec §4.8):
// the chain rule uses the ORIGINAL q and m_i, never the adapted q'/m_i',
// as the right-hand outer-product factor; and the mean-field baseline
// form (m_i' - E[m']) must be used verbatim, never the score-function
// form (indicator_i - P_i), which silently shrinks the gradient by
// roughly (1 - P_i).
package reinforce

import (
	"context"
	"log"
	"os"

	"github.com/smallnest/rmm/rmmtypes"
	"github.com/smallnest/rmm/vecmath"
)

// Logger is the ambient logging capability every skip/degrade path in
// this package uses.
type Logger interface {
	Printf(format string, args ...any)
}

// WeightPersister is the narrow persistence capability the updater
// needs after a flush: best-effort saves of the updated weights and
// the (now-zeroed) accumulator. A nil WeightPersister is itself a
// skip condition (spec §4.8: "if the persistence store is missing").
type WeightPersister interface {
	SaveState(ctx context.Context, userID string, state *rmmtypes.RerankerState) bool
	SaveAccumulator(ctx context.Context, userID string, acc *rmmtypes.GradientAccumulator) bool
}

// Updater runs the REINFORCE accumulate/flush step in afterModel.
type Updater struct {
	persister WeightPersister
	logger    Logger
}

// New builds an Updater. persister may be nil; AfterModel then always
// skips with a logged warning, per spec §4.8's "persistence store
// missing" skip condition.
func New(persister WeightPersister) *Updater {
	return &Updater{persister: persister, logger: log.New(os.Stderr, "rmm/reinforce: ", log.LstdFlags)}
}

// WithLogger overrides the default stderr logger.
func (u *Updater) WithLogger(l Logger) *Updater {
	u.logger = l
	return u
}

// AfterModel accumulates this turn's policy gradient into acc and, if
// a flush condition is met, applies the batched update to state and
// persists both. Returns true if a flush occurred.
//
// Skip conditions (spec §4.8), each a logged no-op rather than an
// error: missing userID, missing persister, no citations, or an
// incomplete TurnContext/state/accumulator.
func (u *Updater) AfterModel(ctx context.Context, userID string, state *rmmtypes.RerankerState, acc *rmmtypes.GradientAccumulator, turnCtx *rmmtypes.TurnContext, citations []rmmtypes.CitationRecord, sessionEnd bool) bool {
	if userID == "" {
		u.logger.Printf("reinforce: skip: missing userId")
		return false
	}
	if u.persister == nil {
		u.logger.Printf("reinforce: skip: persistence store missing")
		return false
	}
	if len(citations) == 0 {
		u.logger.Printf("reinforce: skip: no citations")
		return false
	}
	if state == nil || acc == nil || !turnContextComplete(turnCtx) {
		u.logger.Printf("reinforce: skip: incomplete turn context")
		return false
	}

	cfg := state.Config
	dim := state.Dim()

	idByMemory := make(map[string]int, len(turnCtx.RetrievedMemories))
	for i, m := range turnCtx.RetrievedMemories {
		idByMemory[m.ID] = i
	}

	expectedMemory := vecmath.WeightedSum(turnCtx.SamplingProbabilities, turnCtx.AdaptedMemoryEmbeddings)

	turnGradWq := vecmath.NewZeroMatrix(dim)
	turnGradWm := vecmath.NewZeroMatrix(dim)

	for _, c := range citations {
		idx, ok := idByMemory[c.MemoryID]
		if !ok {
			u.logger.Printf("reinforce: citation for unknown memory %s, skipping", c.MemoryID)
			continue
		}
		advantage := c.Reward - cfg.Baseline
		if advantage == 0 {
			continue
		}

		mAdapted := turnCtx.AdaptedMemoryEmbeddings[idx]
		mOriginal := turnCtx.OriginalMemoryEmbeddings[idx]

		diff, err := vecmath.SubVectors(mAdapted, expectedMemory)
		if err != nil {
			u.logger.Printf("reinforce: dimension mismatch computing advantage direction, skipping citation: %v", err)
			continue
		}

		scale := advantage / cfg.Temperature

		// gradW_q uses the ORIGINAL query as the outer-product's
		// right-hand factor — never q' (spec §4.8 precision point 1).
		gradWq := vecmath.ScaleMatrix(vecmath.OuterProduct(diff, turnCtx.OriginalQuery), scale)
		if err := vecmath.AddMatrixInPlace(turnGradWq, gradWq); err != nil {
			u.logger.Printf("reinforce: dimension mismatch accumulating gradWq: %v", err)
			continue
		}

		// gradW_m uses the adapted query q' and the ORIGINAL memory
		// vector m_i (spec §4.8's resolved Open Question: the simpler
		// scorer-derivative form q' ⊗ m_i, not a symmetric mean-field
		// expectation over memories).
		gradWm := vecmath.ScaleMatrix(vecmath.OuterProduct(turnCtx.AdaptedQuery, mOriginal), scale)
		if err := vecmath.AddMatrixInPlace(turnGradWm, gradWm); err != nil {
			u.logger.Printf("reinforce: dimension mismatch accumulating gradWm: %v", err)
			continue
		}
	}

	// Per-sample division by batchSize so the accumulated sum across a
	// full batch equals the batch mean (spec §4.8 batching rule).
	if cfg.BatchSize > 0 {
		turnGradWq = vecmath.ScaleMatrix(turnGradWq, 1.0/float64(cfg.BatchSize))
		turnGradWm = vecmath.ScaleMatrix(turnGradWm, 1.0/float64(cfg.BatchSize))
	}
	_ = vecmath.AddMatrixInPlace(acc.GradWq, turnGradWq)
	_ = vecmath.AddMatrixInPlace(acc.GradWm, turnGradWm)
	acc.TurnsInBatch++

	if acc.TurnsInBatch < cfg.BatchSize && !sessionEnd {
		return false
	}

	u.flush(ctx, userID, state, acc, cfg)
	return true
}

// ForceFlush flushes whatever partial batch is currently accumulated,
// regardless of batch size, used at session end (spec §6's afterAgent
// "final REINFORCE flush"). A no-op if nothing is accumulated.
func (u *Updater) ForceFlush(ctx context.Context, userID string, state *rmmtypes.RerankerState, acc *rmmtypes.GradientAccumulator) bool {
	if userID == "" || u.persister == nil || state == nil || acc == nil || acc.TurnsInBatch == 0 {
		return false
	}
	u.flush(ctx, userID, state, acc, state.Config)
	return true
}

// flush clips the accumulated gradient, applies the ascent update
// W ← W + η·grad (the mean-field baseline form is a reward-ascent
// direction; Scenario B's hand-computed expectation pins the sign),
// zeroes the accumulator, and persists both — best-effort, per spec
// §4.8's persistence discipline.
func (u *Updater) flush(ctx context.Context, userID string, state *rmmtypes.RerankerState, acc *rmmtypes.GradientAccumulator, cfg rmmtypes.Config) {
	vecmath.ClipMatrixInPlace(acc.GradWq, cfg.ClipThreshold)
	vecmath.ClipMatrixInPlace(acc.GradWm, cfg.ClipThreshold)

	deltaWq := vecmath.ScaleMatrix(acc.GradWq, cfg.LearningRate)
	deltaWm := vecmath.ScaleMatrix(acc.GradWm, cfg.LearningRate)
	_ = vecmath.AddMatrixInPlace(state.QueryTransform, deltaWq)
	_ = vecmath.AddMatrixInPlace(state.MemoryTransform, deltaWm)

	acc.Reset()

	if !u.persister.SaveState(ctx, userID, state) {
		u.logger.Printf("reinforce: save weights for %s failed, in-memory weights updated but unsaved", userID)
	}
	if !u.persister.SaveAccumulator(ctx, userID, acc) {
		u.logger.Printf("reinforce: save accumulator for %s failed, in-memory accumulator reset but unsaved", userID)
	}
}

func turnContextComplete(tc *rmmtypes.TurnContext) bool {
	if tc == nil {
		return false
	}
	return len(tc.OriginalQuery) > 0 &&
		len(tc.AdaptedQuery) > 0 &&
		len(tc.RetrievedMemories) > 0 &&
		len(tc.OriginalMemoryEmbeddings) == len(tc.RetrievedMemories) &&
		len(tc.AdaptedMemoryEmbeddings) == len(tc.RetrievedMemories) &&
		len(tc.SamplingProbabilities) == len(tc.RetrievedMemories)
}
