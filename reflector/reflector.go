// Package reflector implements the Prospective Reflector (spec §4.5):
// at session end, it turns the session's buffered dialogue into
// durable memories, merging into existing entries where the decider
// says to and adding fresh ones otherwise.
//
// The crash-safety discipline is the point of this package: the
// message buffer is staged to a separate slot before any LLM call, so
// a crash mid-reflection leaves a replayable staging copy rather than
// losing the session's turns.
package reflector

import (
	"context"
	"log"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/rmm/decider"
	"github.com/smallnest/rmm/extractor"
	"github.com/smallnest/rmm/persist"
	"github.com/smallnest/rmm/rmmtypes"
	"github.com/smallnest/rmm/vectorstore"
)

// Logger is the ambient logging capability for per-candidate failures.
type Logger interface {
	Printf(format string, args ...any)
}

// Extractor is the narrow capability this package needs from
// extractor.Extractor.
type Extractor interface {
	Extract(ctx context.Context, turns []extractor.Turn) ([]extractor.Candidate, error)
}

// Decider is the narrow capability this package needs from
// decider.Decider.
type Decider interface {
	Decide(ctx context.Context, candidate string, existing []decider.Existing) (decider.Decision, error)
}

// Reflector runs one afterAgent pass for a user.
//
// There is no separate embedding step here: vectorstore.Store's
// SimilaritySearch takes the candidate's raw summary text and embeds
// it internally (spec §4.2), so the "embed candidate summary" step
// spec §4.5 names is folded into the store call rather than duplicated
// here.
type Reflector struct {
	extractor Extractor
	decider   Decider
	store     vectorstore.Store
	buffers   *persist.BufferStore
	logger    Logger
	now       func() time.Time
	newID     func() string
	topK      int
}

// Config wires a Reflector's collaborators.
type Config struct {
	Extractor Extractor
	Decider   Decider
	Store     vectorstore.Store
	Buffers   *persist.BufferStore
	Logger    Logger
	// TopK is how many existing memories the merge decider considers
	// per candidate. Defaults to 5.
	TopK int
}

// New builds a Reflector. Extractor, Decider, Store, and Buffers must
// all be non-nil.
func New(cfg Config) (*Reflector, error) {
	if cfg.Extractor == nil || cfg.Decider == nil || cfg.Store == nil || cfg.Buffers == nil {
		return nil, errMissingCollaborator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "rmm/reflector: ", log.LstdFlags)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Reflector{
		extractor: cfg.Extractor,
		decider:   cfg.Decider,
		store:     cfg.Store,
		buffers:   cfg.Buffers,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		topK:      topK,
	}, nil
}

// WithClock overrides the time source (for deterministic tests).
func (r *Reflector) WithClock(now func() time.Time) *Reflector {
	r.now = now
	return r
}

// WithIDGenerator overrides the new-memory id generator (for
// deterministic tests).
func (r *Reflector) WithIDGenerator(gen func() string) *Reflector {
	r.newID = gen
	return r
}

// Result summarizes what one AfterAgent pass did, mostly for tests and
// observability; callers driving the hook surface don't need to
// inspect it.
type Result struct {
	CandidatesFound int
	Added           int
	Merged          int
}

// AfterAgent runs the full prospective reflection algorithm (spec
// §4.5) for userID. Returns zero-value Result if there was nothing to
// reflect on.
func (r *Reflector) AfterAgent(ctx context.Context, userID string) Result {
	buffer := r.buffers.LoadBuffer(ctx, userID)
	if buffer == nil || len(buffer.Turns) == 0 {
		return Result{}
	}

	// Stage before any asynchronous work — this is the crash-safety
	// discipline spec §4.5 step 2 requires. If reflection aborts here
	// or later, the staging slot lets the next boot replay from the
	// snapshot instead of losing the turns.
	staged := buffer.Clone()
	if !r.buffers.SaveStaging(ctx, userID, staged) {
		r.logger.Printf("reflector: failed to stage buffer for %s, aborting reflection this pass", userID)
		return Result{}
	}

	turns := make([]extractor.Turn, len(staged.Turns))
	for i, t := range staged.Turns {
		turns[i] = extractor.Turn{Role: t.Role, Content: t.Content}
	}

	candidates, err := r.extractor.Extract(ctx, turns)
	if err != nil || len(candidates) == 0 {
		// NO_TRAIT, empty dialogue, or an extraction failure (already
		// degraded to NO_TRAIT semantics by the extractor itself): clear
		// staging and return, spec §4.5 step 3.
		r.trimReflectedTurns(ctx, userID, staged)
		r.buffers.ClearStaging(ctx, userID)
		return Result{}
	}

	result := Result{CandidatesFound: len(candidates)}
	for _, candidate := range candidates {
		r.reflectCandidate(ctx, candidate, &result)
	}

	r.trimReflectedTurns(ctx, userID, staged)
	r.buffers.ClearStaging(ctx, userID)
	return result
}

// trimReflectedTurns drops the staged prefix from the live buffer,
// re-loaded fresh so any turn appended while reflection was running
// (spec §8 Scenario D) is preserved rather than discarded. The staged
// snapshot is always a prefix of the live buffer's turns because new
// turns only ever append.
func (r *Reflector) trimReflectedTurns(ctx context.Context, userID string, staged *rmmtypes.MessageBuffer) {
	live := r.buffers.LoadBuffer(ctx, userID)
	if len(live.Turns) < len(staged.Turns) {
		// Live buffer shrank underneath us somehow; nothing safe to trim.
		return
	}
	remaining := live.Turns[len(staged.Turns):]
	trimmed := &rmmtypes.MessageBuffer{}
	for _, t := range remaining {
		trimmed.Append(t)
	}
	r.buffers.SaveBuffer(ctx, userID, trimmed)
}

// reflectCandidate processes one extracted candidate. Failures here
// are isolated per spec §4.5: a failing candidate never aborts its
// siblings and is simply logged and skipped.
func (r *Reflector) reflectCandidate(ctx context.Context, candidate extractor.Candidate, result *Result) {
	hits, err := r.store.SimilaritySearch(ctx, candidate.Summary, r.topK)
	if err != nil {
		r.logger.Printf("reflector: similarity search failed for candidate, skipping: %v", err)
		return
	}

	existing := make([]decider.Existing, len(hits))
	for i, h := range hits {
		existing[i] = decider.Existing{Index: i, Summary: h.PageContent}
	}

	decision, err := r.decider.Decide(ctx, candidate.Summary, existing)
	if err != nil {
		// decider.Decide already degrades internally to ADD on LLM
		// failure; an error here would be unexpected, but fall back to
		// ADD rather than drop the candidate.
		r.logger.Printf("reflector: decider error, defaulting to ADD: %v", err)
		decision = decider.Decision{Action: decider.Add}
	}

	switch decision.Action {
	case decider.Merge:
		r.mergeCandidate(ctx, candidate, decision, hits, result)
	default:
		r.addCandidate(ctx, candidate, result)
	}
}

func (r *Reflector) addCandidate(ctx context.Context, candidate extractor.Candidate, result *Result) {
	doc := vectorstore.Document{
		ID:          r.newID(),
		PageContent: candidate.Summary,
		Timestamp:   r.now().UnixMilli(),
		TurnRefs:    candidate.Reference,
	}
	if err := r.store.AddDocuments(ctx, []vectorstore.Document{doc}); err != nil {
		r.logger.Printf("reflector: add failed for candidate, skipping: %v", err)
		return
	}
	result.Added++
}

func (r *Reflector) mergeCandidate(ctx context.Context, candidate extractor.Candidate, decision decider.Decision, hits []vectorstore.SearchResult, result *Result) {
	if decision.Index < 0 || decision.Index >= len(hits) {
		r.logger.Printf("reflector: merge target index out of range, falling back to add")
		r.addCandidate(ctx, candidate, result)
		return
	}
	target := hits[decision.Index]

	// Delete is best-effort (spec §4.5 step 4): if it fails, the merged
	// memory is still inserted under its new id, which leaves the old
	// entry behind as a stale duplicate rather than losing the merged
	// memory.
	if err := r.store.Delete(ctx, []string{target.ID}); err != nil {
		r.logger.Printf("reflector: best-effort delete of merge target %s failed: %v", target.ID, err)
	}

	mergedRefs := mergeTurnRefs(target.TurnRefs, candidate.Reference)
	doc := vectorstore.Document{
		ID:          r.newID(),
		PageContent: decision.NewSummary,
		Timestamp:   r.now().UnixMilli(),
		TurnRefs:    mergedRefs,
		SessionID:   target.SessionID,
	}
	if err := r.store.AddDocuments(ctx, []vectorstore.Document{doc}); err != nil {
		r.logger.Printf("reflector: merge insert failed for candidate, skipping: %v", err)
		return
	}
	result.Merged++
}

// mergeTurnRefs returns the union of a and b, sorted ascending and
// without duplicates, so the merged record's turnReferences is always
// a superset of both sources (spec §8 universal invariant).
func mergeTurnRefs(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, refs := range [][]int{a, b} {
		for _, v := range refs {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Ints(out)
	return out
}
