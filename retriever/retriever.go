// Package retriever implements the Retrospective Retriever (spec
// §4.6): per-turn, embed the query, search the vector store's top-K,
// adapt both query and memory embeddings with the user's learned
// residual transforms, score by cosine similarity, and softmax-sample
// the top-M memories to surface to the LLM, stashing the turn-local
// scratch space the REINFORCE updater consumes afterwards.
package retriever

import (
	"context"
	"log"
	"math/rand"
	"os"

	"github.com/smallnest/rmm/rmmtypes"
	"github.com/smallnest/rmm/vecmath"
	"github.com/smallnest/rmm/vectorstore"
)

// Logger is the ambient logging capability every degrade-and-continue
// path in this package uses.
type Logger interface {
	Printf(format string, args ...any)
}

// Embedder is the embedding capability the retriever needs for both
// the query and each returned memory summary.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// Store is the narrow vector-store search capability the retriever
// needs (spec §4.2).
type Store interface {
	SimilaritySearch(ctx context.Context, queryText string, k int) ([]vectorstore.SearchResult, error)
}

// Retriever runs Retrospective Retrieval for one user at a time.
type Retriever struct {
	embedder Embedder
	store    Store
	logger   Logger
	rnd      func() float64
}

// Config configures a Retriever.
type Config struct {
	Embedder Embedder
	Store    Store
	Logger   Logger
	// Rand supplies the uniform [0,1) source used by sampling without
	// replacement. Defaults to math/rand's global source. Tests that
	// need determinism should inject a fixed sequence.
	Rand func() float64
}

// New builds a Retriever.
func New(cfg Config) (*Retriever, error) {
	if cfg.Embedder == nil || cfg.Store == nil {
		return nil, errMissingCollaborator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "rmm/retriever: ", log.LstdFlags)
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Retriever{embedder: cfg.Embedder, store: cfg.Store, logger: logger, rnd: rnd}, nil
}

// Result is what BeforeModel returns: the memories surfaced to the LLM
// plus the turn context for the updater. It carries no turn counter;
// the caller keeps and increments that.
type Result struct {
	RetrievedMemories []rmmtypes.RetrievedMemory
	TurnContext       *rmmtypes.TurnContext // nil when no query or on full degradation
}

// BeforeModel runs the retriever for one turn, per spec §4.6.
//
// queryText is the human query for this turn; an empty string means
// "no human query in the message history" (step 1): the turn counter
// still increments at the caller, but no search, no TurnContext.
func (r *Retriever) BeforeModel(ctx context.Context, queryText string, state *rmmtypes.RerankerState) Result {
	if queryText == "" {
		return Result{}
	}

	cfg := state.Config

	queryEmbedding, err := r.embedder.EmbedDocument(ctx, queryText)
	if err != nil {
		r.logger.Printf("retriever: embed query failed, returning no memories: %v", err)
		return Result{}
	}
	q := toFloat64(queryEmbedding)

	docs, err := r.store.SimilaritySearch(ctx, queryText, cfg.TopK)
	if err != nil {
		r.logger.Printf("retriever: similarity search failed, degrading to empty: %v", err)
		return Result{}
	}
	if len(docs) == 0 {
		return Result{}
	}

	retrieved := make([]rmmtypes.RetrievedMemory, 0, len(docs))
	originalMemories := make([][]float64, 0, len(docs))
	for _, d := range docs {
		embedding, err := r.embedder.EmbedDocument(ctx, d.PageContent)
		if err != nil {
			r.logger.Printf("retriever: embed memory %s failed, skipping: %v", d.ID, err)
			continue
		}
		m := toFloat64(embedding)
		rm := rmmtypes.RetrievedMemory{
			MemoryEntry: rmmtypes.MemoryEntry{
				ID:           d.ID,
				TopicSummary: d.PageContent,
				RawDialogue:  d.RawDialogue,
				SessionID:    d.SessionID,
				Timestamp:    d.Timestamp,
				TurnRefs:     d.TurnRefs,
			},
			Embedding:      m,
			RelevanceScore: d.Score,
		}
		retrieved = append(retrieved, rm)
		originalMemories = append(originalMemories, m)
	}
	if len(retrieved) == 0 {
		return Result{}
	}

	qAdapted, err := vecmath.ResidualTransform(q, state.QueryTransform)
	if err != nil {
		r.logger.Printf("retriever: residual transform on query failed, degrading to empty: %v", err)
		return Result{}
	}

	adaptedMemories := make([][]float64, len(originalMemories))
	scores := make([]float64, len(originalMemories))
	for i, m := range originalMemories {
		mAdapted, err := vecmath.ResidualTransform(m, state.MemoryTransform)
		if err != nil {
			r.logger.Printf("retriever: residual transform on memory failed, degrading to empty: %v", err)
			return Result{}
		}
		adaptedMemories[i] = mAdapted

		sim, err := vecmath.CosineSimilarity(qAdapted, mAdapted)
		if err != nil {
			// ZeroNorm in inference degrades to a uniform score (spec §7).
			sim = 0
		}
		scores[i] = sim
	}

	probs := vecmath.Softmax(scores, cfg.Temperature)
	selected := vecmath.SampleWithoutReplacement(probs, cfg.TopM, r.rnd)

	surfaced := make([]rmmtypes.RetrievedMemory, len(selected))
	for i, idx := range selected {
		surfaced[i] = retrieved[idx]
	}

	turnCtx := &rmmtypes.TurnContext{
		OriginalQuery:            q,
		AdaptedQuery:             qAdapted,
		OriginalMemoryEmbeddings: originalMemories,
		AdaptedMemoryEmbeddings:  adaptedMemories,
		SamplingProbabilities:    probs,
		SelectedIndices:          selected,
		RetrievedMemories:        retrieved,
	}

	return Result{RetrievedMemories: surfaced, TurnContext: turnCtx}
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
