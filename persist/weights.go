package persist

import (
	"context"
	"math/rand"
	"time"

	"github.com/smallnest/rmm/rmmtypes"
	"github.com/smallnest/rmm/vecmath"
)

const (
	keyRerankerState = "reranker/state"
	keyGradientAccum = "reranker/gradient-accumulator"

	// initStdDev is the cold-start Gaussian init std-dev for W_q/W_m
	// (spec's Data Model invariant: "initialised with small Gaussian
	// noise (σ = 0.01)", never zero). Matches pretrain.InitStdDev.
	initStdDev = 0.01
)

// WeightStore layers the RerankerState and GradientAccumulator logical
// keys (spec §4.10) on top of a raw Store, namespaced per user.
type WeightStore struct {
	store     Store
	logger    Logger
	namespace []string
	cfg       rmmtypes.Config
	rnd       *rand.Rand
}

// NewWeightStore builds a WeightStore. namespace is the root namespace
// prefix (e.g. []string{"rmm"}); cfg supplies the default config and
// embedding dimension used when no persisted state exists yet.
func NewWeightStore(store Store, namespace []string, cfg rmmtypes.Config) *WeightStore {
	return &WeightStore{
		store:     store,
		logger:    defaultLogger(),
		namespace: namespace,
		cfg:       cfg,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithLogger overrides the default stderr logger.
func (w *WeightStore) WithLogger(l Logger) *WeightStore {
	w.logger = l
	return w
}

func (w *WeightStore) userNamespace(userID string) []string {
	return append(append([]string{}, w.namespace...), userID)
}

// LoadState loads a user's RerankerState, falling back to a fresh
// Gaussian-initialized state on any load/validation failure (spec §7
// PersistenceLoadFailure, SchemaValidationFailure).
func (w *WeightStore) LoadState(ctx context.Context, userID string) *rmmtypes.RerankerState {
	var state rmmtypes.RerankerState
	ok := loadJSON(ctx, w.store, w.logger, w.userNamespace(userID), keyRerankerState, &state, validateRerankerState(w.cfg.EmbeddingDimension))
	if !ok {
		return w.defaultRerankerState()
	}
	return &state
}

// SaveState best-effort persists a user's RerankerState.
func (w *WeightStore) SaveState(ctx context.Context, userID string, state *rmmtypes.RerankerState) bool {
	return saveJSON(ctx, w.store, w.logger, w.userNamespace(userID), keyRerankerState, state)
}

// LoadAccumulator loads a user's GradientAccumulator, falling back to a
// fresh zero accumulator on any failure.
func (w *WeightStore) LoadAccumulator(ctx context.Context, userID string) *rmmtypes.GradientAccumulator {
	var acc rmmtypes.GradientAccumulator
	ok := loadJSON(ctx, w.store, w.logger, w.userNamespace(userID), keyGradientAccum, &acc, validateAccumulator(w.cfg.EmbeddingDimension))
	if !ok {
		return rmmtypes.NewGradientAccumulator(w.cfg.EmbeddingDimension)
	}
	return &acc
}

// SaveAccumulator best-effort persists a user's GradientAccumulator.
func (w *WeightStore) SaveAccumulator(ctx context.Context, userID string, acc *rmmtypes.GradientAccumulator) bool {
	return saveJSON(ctx, w.store, w.logger, w.userNamespace(userID), keyGradientAccum, acc)
}

// defaultRerankerState builds a cold-start RerankerState with W_q/W_m
// drawn from N(0, initStdDev²) rather than zeroed — the Data Model
// invariant explicitly rules out exact-zero init, since a zero W_q/W_m
// would make the residual transform an identity, so every memory's
// initial adapted score would be its plain cosine similarity until the
// first REINFORCE update.
func (w *WeightStore) defaultRerankerState() *rmmtypes.RerankerState {
	return &rmmtypes.RerankerState{
		QueryTransform:  vecmath.NewGaussianMatrix(w.cfg.EmbeddingDimension, initStdDev, w.rnd),
		MemoryTransform: vecmath.NewGaussianMatrix(w.cfg.EmbeddingDimension, initStdDev, w.rnd),
		Config:          w.cfg,
	}
}

func validateRerankerState(dim int) func(*rmmtypes.RerankerState) bool {
	return func(s *rmmtypes.RerankerState) bool {
		if s.QueryTransform.Dim() != dim || s.MemoryTransform.Dim() != dim {
			return false
		}
		return s.Config.Validate() == nil
	}
}

func validateAccumulator(dim int) func(*rmmtypes.GradientAccumulator) bool {
	return func(a *rmmtypes.GradientAccumulator) bool {
		return a.GradWq.Dim() == dim && a.GradWm.Dim() == dim
	}
}
