// Package vectorstore is the narrow, typed facade the RMM core consumes
// to talk to an external vector store (spec §4.2). Any backend
// implementing Store suffices; ChromemStore adapts philippgille/chromem-go.
//
// Every exported method on ChromemStore is wrapped by the guard-and-degrade
// policy spec §4.2 and §7 require: a similarity search failure returns an
// empty slice, an add failure logs and continues, a delete failure is
// logged and not propagated. The reflector's MERGE inserts the merged
// memory under a new id, so after a failed delete the old entry stays
// in the store beside it.
package vectorstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/philippgille/chromem-go"
)

// Document is what the facade adds to the store: a page of content (the
// memory's topicSummary) plus the metadata spec §3 requires MemoryEntry
// to carry.
type Document struct {
	ID            string
	PageContent   string
	SessionID     string
	Timestamp     int64
	TurnRefs      []int
	RawDialogue   string
}

// SearchResult is one hit from SimilaritySearch: the stored page content,
// its metadata, and an optional relevance score (spec §3
// RetrievedMemory.relevanceScore "may be absent; use sentinel").
type SearchResult struct {
	ID          string
	PageContent string
	SessionID   string
	Timestamp   int64
	TurnRefs    []int
	RawDialogue string
	Score       *float64
}

// Embedder is the minimal embedding capability the store needs to turn
// text into vectors for indexing and query. Concrete implementations
// live in llmclient.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// Logger is the ambient logging capability every degrade-and-continue
// path in this package uses. Satisfied by the standard library's *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Store is the narrow interface the RMM core depends on, per spec §4.2.
type Store interface {
	// SimilaritySearch returns up to k hits ordered by decreasing
	// similarity. Never returns an error for operational failures —
	// those degrade to an empty slice (guard-and-degrade policy).
	SimilaritySearch(ctx context.Context, queryText string, k int) ([]SearchResult, error)

	// AddDocuments inserts documents (upsert by id).
	AddDocuments(ctx context.Context, docs []Document) error

	// Delete is best-effort: backends without delete support may no-op.
	Delete(ctx context.Context, ids []string) error
}

// ChromemStore implements Store over a chromem-go collection.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	logger     Logger
}

// Config configures a ChromemStore.
type Config struct {
	// PersistenceDir, if set, backs the store with chromem-go's on-disk
	// persistence under PersistenceDir/rmm-memories.db; empty means
	// in-memory only.
	PersistenceDir string
	CollectionName string
	Embedder       Embedder
	Logger         Logger
}

// New creates a ChromemStore, adapted from rag/store/chromem.go's
// NewChromemVectorStore: reuse an existing collection if present,
// otherwise create it.
func New(cfg Config) (*ChromemStore, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("vectorstore: embedder is required")
	}

	var db *chromem.DB
	var err error
	if cfg.PersistenceDir != "" {
		if err := os.MkdirAll(cfg.PersistenceDir, 0o755); err != nil {
			return nil, fmt.Errorf("vectorstore: create persistence dir: %w", err)
		}
		dbPath := filepath.Join(cfg.PersistenceDir, "rmm-memories.db")
		db, err = chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: open persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collectionName := cfg.CollectionName
	if collectionName == "" {
		collectionName = "rmm-memories"
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return cfg.Embedder.EmbedDocument(ctx, text)
	}

	collection := db.GetCollection(collectionName, embeddingFunc)
	if collection == nil {
		collection, err = db.CreateCollection(collectionName, nil, embeddingFunc)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: create collection: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "rmm/vectorstore: ", log.LstdFlags)
	}

	return &ChromemStore{db: db, collection: collection, embedder: cfg.Embedder, logger: logger}, nil
}

// AddDocuments adds documents to the chromem collection, tagging them
// with the MemoryEntry metadata spec §3 requires. On failure this logs
// and continues (spec §4.2 failure policy: "an add failure logs and
// continues").
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedDocument(ctx, text)
	}

	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		metadata := toStringMetadata(d)
		doc, err := chromem.NewDocument(ctx, d.ID, metadata, nil, d.PageContent, embeddingFunc)
		if err != nil {
			s.logger.Printf("vectorstore: skip add for %s: %v", d.ID, err)
			continue
		}
		chromemDocs = append(chromemDocs, doc)
	}

	if len(chromemDocs) == 0 {
		return nil
	}

	if err := s.collection.AddDocuments(ctx, chromemDocs, numWorkers(len(chromemDocs))); err != nil {
		s.logger.Printf("vectorstore: add documents failed, degrading: %v", err)
		return nil
	}
	return nil
}

// SimilaritySearch queries the collection for the k nearest documents to
// queryText. On any backend failure it logs and returns an empty slice
// (spec §4.2, §7 VectorStoreFailure).
func (s *ChromemStore) SimilaritySearch(ctx context.Context, queryText string, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	count := s.collection.Count()
	if k > count {
		k = count
	}
	if k == 0 {
		return []SearchResult{}, nil
	}

	queryEmbedding, err := s.embedder.EmbedDocument(ctx, queryText)
	if err != nil {
		s.logger.Printf("vectorstore: query embedding failed, degrading to empty: %v", err)
		return []SearchResult{}, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, queryEmbedding, k, nil, nil)
	if err != nil {
		s.logger.Printf("vectorstore: similarity search failed, degrading to empty: %v", err)
		return []SearchResult{}, nil
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		score := float64(r.Similarity)
		out[i] = fromChromemResult(r.ID, r.Content, r.Metadata, &score)
	}
	return out, nil
}

// Delete removes documents by id. Best-effort: a failure is logged, not
// propagated.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		s.logger.Printf("vectorstore: delete failed (recoverable via upsert-on-add): %v", err)
	}
	return nil
}

func toStringMetadata(d Document) map[string]string {
	return map[string]string{
		"id":            d.ID,
		"session_id":    d.SessionID,
		"timestamp":     fmt.Sprintf("%d", d.Timestamp),
		"turn_refs":     encodeIntsCSV(d.TurnRefs),
		"raw_dialogue":  d.RawDialogue,
	}
}

func fromChromemResult(id, content string, metadata map[string]string, score *float64) SearchResult {
	return SearchResult{
		ID:          id,
		PageContent: content,
		SessionID:   metadata["session_id"],
		Timestamp:   parseInt64(metadata["timestamp"]),
		TurnRefs:    decodeIntsCSV(metadata["turn_refs"]),
		RawDialogue: metadata["raw_dialogue"],
		Score:       score,
	}
}

func numWorkers(n int) int {
	switch {
	case n < 10:
		return 1
	case n < 100:
		return 2
	case n < 1000:
		return 4
	default:
		return 8
	}
}
