// Package rmm is the top-level hook surface (spec §6) a dialogue
// agent host calls directly: beforeModel, afterModel, and afterAgent.
// It composes the retriever, citation scorer, REINFORCE updater, and
// prospective reflector over a per-user cached RerankerState/
// GradientAccumulator pair, owning the TurnContext handoff between
// beforeModel and afterModel so the host never has to stash it itself
// (spec §9's "side-channel state → explicit per-turn value").
package rmm

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/smallnest/rmm/citation"
	"github.com/smallnest/rmm/persist"
	"github.com/smallnest/rmm/reflector"
	"github.com/smallnest/rmm/reinforce"
	"github.com/smallnest/rmm/retriever"
	"github.com/smallnest/rmm/rmmtypes"
	"github.com/smallnest/rmm/userstate"
)

// Logger is the ambient logging capability Core uses directly; its
// collaborators carry their own loggers.
type Logger interface {
	Printf(format string, args ...any)
}

// Core wires together one RMM deployment's collaborators. It is safe
// for concurrent use across different users; per spec §5, turns for a
// single user are expected to run serially.
type Core struct {
	retriever *retriever.Retriever
	scorer    citation.Scorer
	updater   *reinforce.Updater
	reflector *reflector.Reflector
	cache     *userstate.Cache
	buffers   *persist.BufferStore
	logger    Logger
	now       func() time.Time
}

// Config wires Core's collaborators. Retriever, Updater, Cache, and
// Buffers are required; Reflector and Scorer fall back to sensible
// defaults (reflector.New requires its own collaborators, so a nil
// Reflector here simply means afterAgent's reflection step is
// skipped — e.g. for a deployment running pretraining only).
type Config struct {
	Retriever *retriever.Retriever
	Scorer    citation.Scorer
	Updater   *reinforce.Updater
	Reflector *reflector.Reflector
	Cache     *userstate.Cache
	Buffers   *persist.BufferStore
	Logger    Logger
}

// New builds a Core. Retriever, Updater, Cache, and Buffers must be
// non-nil.
func New(cfg Config) (*Core, error) {
	if cfg.Retriever == nil || cfg.Updater == nil || cfg.Cache == nil || cfg.Buffers == nil {
		return nil, errMissingCollaborator
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = citation.NewDefaultScorer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "rmm: ", log.LstdFlags)
	}
	return &Core{
		retriever: cfg.Retriever,
		scorer:    scorer,
		updater:   cfg.Updater,
		reflector: cfg.Reflector,
		cache:     cfg.Cache,
		buffers:   cfg.Buffers,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// WithClock overrides the time source (for deterministic tests).
func (c *Core) WithClock(now func() time.Time) *Core {
	c.now = now
	return c
}

// Session is one agent run's worth of hook calls for one user. It
// owns the session-local turn counter and the in-flight TurnContext
// between beforeModel and afterModel — state spec §9 says the core,
// never the host, must own.
type Session struct {
	core       *Core
	userID     string
	turnCount  int
	pendingCtx *rmmtypes.TurnContext
	pending    []rmmtypes.RetrievedMemory
}

// NewSession starts a session for userID. Every beforeModel/
// afterModel/afterAgent call for one agent run must share the same
// Session.
func (c *Core) NewSession(userID string) *Session {
	return &Session{core: c, userID: userID}
}

// BeforeModelResult is beforeModel's return shape (spec §6).
type BeforeModelResult struct {
	RetrievedMemories  []rmmtypes.RetrievedMemory
	TurnCountInSession int
	TurnContext        *rmmtypes.TurnContext
}

// BeforeModel runs retrospective retrieval for this turn and records
// the human query on the session's message buffer for later
// prospective reflection.
func (s *Session) BeforeModel(ctx context.Context, queryText string) BeforeModelResult {
	core := s.core
	state, _ := core.cache.Get(ctx, s.userID)

	result := core.retriever.BeforeModel(ctx, queryText, state)
	s.turnCount++
	s.pendingCtx = result.TurnContext
	s.pending = result.RetrievedMemories

	if queryText != "" {
		core.appendBufferTurn(ctx, s.userID, rmmtypes.DialogueTurn{
			Role: "user", Content: queryText, Timestamp: core.now(),
		})
	}

	return BeforeModelResult{
		RetrievedMemories:  result.RetrievedMemories,
		TurnCountInSession: s.turnCount,
		TurnContext:        result.TurnContext,
	}
}

// AfterModelResult is afterModel's return shape (spec §6).
type AfterModelResult struct {
	UpdatedWeights     bool
	ClearedTurnContext *rmmtypes.TurnContext
}

// AfterModel scores citations against the LLM's response, feeds them
// into the REINFORCE updater, and records the assistant's response on
// the message buffer. sessionEnd forces a batch flush regardless of
// batch size.
func (s *Session) AfterModel(ctx context.Context, responseText string, sessionEnd bool) AfterModelResult {
	core := s.core
	state, acc := core.cache.Get(ctx, s.userID)

	clearedCtx := s.pendingCtx

	var flushed bool
	if clearedCtx != nil {
		citations := citation.Score(core.scorer, responseText, s.pending, s.turnCount)
		flushed = core.updater.AfterModel(ctx, s.userID, state, acc, clearedCtx, citations, sessionEnd)
	}
	if flushed {
		core.cache.Flush(ctx, s.userID)
	}

	if responseText != "" {
		core.appendBufferTurn(ctx, s.userID, rmmtypes.DialogueTurn{
			Role: "assistant", Content: responseText, Timestamp: core.now(),
		})
	}

	s.pendingCtx = nil
	s.pending = nil

	return AfterModelResult{UpdatedWeights: flushed, ClearedTurnContext: clearedCtx}
}

// AfterAgent ends the session: it forces any partial REINFORCE batch
// to flush, then runs prospective reflection over the session's
// buffered dialogue (spec §6's afterAgent).
func (s *Session) AfterAgent(ctx context.Context) reflector.Result {
	core := s.core
	state, acc := core.cache.Get(ctx, s.userID)
	if core.updater.ForceFlush(ctx, s.userID, state, acc) {
		core.cache.Flush(ctx, s.userID)
	}

	if core.reflector == nil {
		return reflector.Result{}
	}
	return core.reflector.AfterAgent(ctx, s.userID)
}

func (c *Core) appendBufferTurn(ctx context.Context, userID string, turn rmmtypes.DialogueTurn) {
	buf := c.buffers.LoadBuffer(ctx, userID)
	buf.Append(turn)
	if !c.buffers.SaveBuffer(ctx, userID, buf) {
		c.logger.Printf("rmm: failed to persist message buffer for %s, turn kept in memory only", userID)
	}
}
