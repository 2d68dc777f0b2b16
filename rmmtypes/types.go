// Package rmmtypes holds the data model shared across the reflective
// memory management core: the persisted MemoryEntry/RerankerState
// records, the turn-local views the retriever and reinforce updater
// pass between themselves, and the explicit Config struct every dynamic
// "config = {...}" pattern in the source collapses into (spec §9).
package rmmtypes

import (
	"time"

	"github.com/smallnest/rmm/vecmath"
)

// MemoryEntry is a durable memory record persisted in the vector store.
type MemoryEntry struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	TopicSummary  string    `json:"topic_summary"`
	RawDialogue   string    `json:"raw_dialogue"`
	Timestamp     int64     `json:"timestamp"` // ms since epoch
	TurnRefs      []int     `json:"turn_references"`
	CreatedAtTime time.Time `json:"-"`
}

// RetrievedMemory is the turn-local view of a MemoryEntry once it has
// been pulled back from the vector store and embedded.
type RetrievedMemory struct {
	MemoryEntry
	Embedding      []float64 `json:"embedding,omitempty"`
	RelevanceScore *float64  `json:"relevance_score,omitempty"` // nil if the store didn't return one
}

// Config is the single explicit configuration structure every dynamic
// config object in the source collapses into (spec §9).
type Config struct {
	EmbeddingDimension int     `json:"embedding_dimension"`
	TopK               int     `json:"top_k"`
	TopM               int     `json:"top_m"`
	Temperature        float64 `json:"temperature"`
	LearningRate       float64 `json:"learning_rate"`
	Baseline           float64 `json:"baseline"`
	BatchSize          int     `json:"batch_size"`
	ClipThreshold      float64 `json:"clip_threshold"`
}

// DefaultConfig returns the spec §3 defaults.
func DefaultConfig(embeddingDimension int) Config {
	return Config{
		EmbeddingDimension: embeddingDimension,
		TopK:               20,
		TopM:               5,
		Temperature:        0.5,
		LearningRate:       0.001,
		Baseline:           0.5,
		BatchSize:          8,
		ClipThreshold:      100,
	}
}

// Validate checks the invariants spec §3 places on Config: topM <= topK,
// temperature > 0, embedding dimension positive.
func (c Config) Validate() error {
	if c.EmbeddingDimension <= 0 {
		return ErrInvalidConfig
	}
	if c.Temperature <= 0 {
		return ErrInvalidConfig
	}
	if c.TopM > c.TopK {
		return ErrInvalidConfig
	}
	if c.TopK <= 0 || c.TopM <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// RerankerState holds the learned residual transforms W_q, W_m for one
// user, plus the config governing retrieval and learning for that user.
type RerankerState struct {
	QueryTransform  vecmath.Matrix `json:"query_transform"`
	MemoryTransform vecmath.Matrix `json:"memory_transform"`
	Config          Config         `json:"config"`
}

// Dim returns the embedding dimension implied by the reranker's
// matrices.
func (r *RerankerState) Dim() int {
	return r.QueryTransform.Dim()
}

// GradientAccumulator sums per-sample gradients across a batch of turns
// for one user, flushed into a weight update when the batch is full or
// the session ends (spec §3, §4.8).
type GradientAccumulator struct {
	GradWq      vecmath.Matrix `json:"grad_wq"`
	GradWm      vecmath.Matrix `json:"grad_wm"`
	TurnsInBatch int           `json:"turns_in_batch"`
}

// NewGradientAccumulator returns a zeroed accumulator for dimension d.
func NewGradientAccumulator(d int) *GradientAccumulator {
	return &GradientAccumulator{
		GradWq:       vecmath.NewZeroMatrix(d),
		GradWm:       vecmath.NewZeroMatrix(d),
		TurnsInBatch: 0,
	}
}

// Reset zeroes the accumulator in place (post-flush, spec §4.8).
func (g *GradientAccumulator) Reset() {
	vecmath.ZeroMatrix(g.GradWq)
	vecmath.ZeroMatrix(g.GradWm)
	g.TurnsInBatch = 0
}

// TurnContext is the turn-local scratch space produced by the
// retriever's BeforeModel step and consumed by the REINFORCE updater's
// AfterModel step. It replaces the "stash magic keys on shared agent
// state" pattern (spec §9) with a single explicit, core-owned value.
type TurnContext struct {
	OriginalQuery             []float64
	AdaptedQuery              []float64
	OriginalMemoryEmbeddings  [][]float64
	AdaptedMemoryEmbeddings   [][]float64
	SamplingProbabilities     []float64
	SelectedIndices           []int
	RetrievedMemories         []RetrievedMemory
}

// CitationRecord is the REINFORCE signal for one selected memory in one
// turn: whether the assistant's response cited it, converted to a
// reward.
type CitationRecord struct {
	MemoryID  string
	TurnIndex int
	Cited     bool
	Reward    float64
}

// DialogueTurn is one serialized turn of raw dialogue buffered between
// sessions (spec §3 MessageBuffer).
type DialogueTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageBuffer accumulates raw dialogue for a user between prospective
// reflection passes.
type MessageBuffer struct {
	Turns               []DialogueTurn `json:"turns"`
	HumanMessageCount   int            `json:"human_message_count"`
	LastMessageTimestamp time.Time     `json:"last_message_timestamp"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Append adds a turn to the buffer, bumping HumanMessageCount when the
// role is "user".
func (b *MessageBuffer) Append(turn DialogueTurn) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = turn.Timestamp
	}
	b.Turns = append(b.Turns, turn)
	b.LastMessageTimestamp = turn.Timestamp
	if turn.Role == "user" {
		b.HumanMessageCount++
	}
}

// Clone returns a deep copy of the buffer, used to take the staging
// snapshot before prospective reflection runs (spec §4.5 step 2).
func (b *MessageBuffer) Clone() *MessageBuffer {
	clone := &MessageBuffer{
		HumanMessageCount:    b.HumanMessageCount,
		LastMessageTimestamp: b.LastMessageTimestamp,
		CreatedAt:            b.CreatedAt,
	}
	clone.Turns = append(clone.Turns, b.Turns...)
	return clone
}
