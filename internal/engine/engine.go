// Package engine is the layered memory core: the write pipeline
// (retain, reflect, index) run after every turn, the retrieval pipeline
// (hybrid search, rerank, capped injection) run before every turn, and the
// heartbeat maintenance job. All durable state goes through the injected
// store; all file artifacts go through the files layer.
package engine

import (
	"sync/atomic"

	"github.com/bowerhall/bridgemem/internal/config"
	"github.com/bowerhall/bridgemem/internal/embedder"
	"github.com/bowerhall/bridgemem/internal/store"
)

type Engine struct {
	store *store.Store
	files *Files
	emb   embedder.Embedder
	cfg   config.Engine

	heartbeatRunning atomic.Bool
}

// New builds an engine with the default offline hash embedder.
func New(st *store.Store, filesRoot string, cfg config.Engine) (*Engine, error) {
	return NewWithEmbedder(st, filesRoot, embedder.NewHash(cfg.EmbeddingDim), cfg)
}

// NewWithEmbedder builds an engine around a caller-supplied embedder, for
// bridges that run a real embedding model.
func NewWithEmbedder(st *store.Store, filesRoot string, emb embedder.Embedder, cfg config.Engine) (*Engine, error) {
	files, err := NewFiles(filesRoot)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store: st,
		files: files,
		emb:   emb,
		cfg:   cfg,
	}, nil
}

func (e *Engine) Store() *store.Store {
	return e.store
}

// TurnState is the session bookkeeping handed back to the caller before a
// turn: the external reasoning-session handle (empty after a session reset)
// and the session counters.
type TurnState struct {
	ChatID    string
	ThreadID  string
	SessionNo int
	TurnCount int
}

// TurnContext is the product of PrepareTurn.
type TurnContext struct {
	State                 TurnState
	WorkingMemory         []store.Exchange
	Retrieval             *Retrieval
	DeveloperInstructions string
}

// TurnInput feeds the write pipeline after the reasoning engine has replied.
type TurnInput struct {
	ChatID        string
	State         TurnState
	UserText      string
	AssistantText string
	WorkingMemory string
}

type RetainResult struct {
	FactCount     int
	EpisodeCount  int
	OpenLoopCount int
	DailyPath     string
}

type HeartbeatResult struct {
	RunID              string
	WeeklyUpdated      int
	ContradictionCount int
	ChatCount          int
}

// Status is the read-only diagnostic view behind /memory commands.
type Status struct {
	ChatID         string
	SessionNo      int
	TurnCount      int
	ThreadID       string
	Facts          []store.Fact
	OpenLoops      []store.OpenLoop
	Contradictions []store.Contradiction
	FilePaths      []string
}

// StartNewSession bumps the session counter and clears the thread handle;
// prior sessions stay queryable.
func (e *Engine) StartNewSession(chatID string) (*TurnState, error) {
	chat, err := e.store.StartNewSession(chatID)
	if err != nil {
		return nil, err
	}
	return &TurnState{
		ChatID:    chat.ID,
		ThreadID:  chat.ThreadID,
		SessionNo: chat.SessionNo,
	}, nil
}

func (e *Engine) MemoryStatus(chatID string) (*Status, error) {
	chat, err := e.store.EnsureChat(chatID)
	if err != nil {
		return nil, err
	}

	turns, err := e.store.SessionTurnCount(chatID, chat.SessionNo)
	if err != nil {
		return nil, err
	}

	facts, err := e.store.TopFacts(chatID, 20, 0)
	if err != nil {
		return nil, err
	}

	loops, err := e.store.OpenLoops(chatID, "", 20)
	if err != nil {
		return nil, err
	}

	contradictions, err := e.store.OpenContradictions(chatID)
	if err != nil {
		return nil, err
	}

	return &Status{
		ChatID:         chatID,
		SessionNo:      chat.SessionNo,
		TurnCount:      turns,
		ThreadID:       chat.ThreadID,
		Facts:          facts,
		OpenLoops:      loops,
		Contradictions: contradictions,
		FilePaths:      e.files.CanonicalPaths(chatID, chat.SessionNo),
	}, nil
}
