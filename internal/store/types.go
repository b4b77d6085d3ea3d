package store

import (
	"database/sql"
	"time"
)

type Store struct {
	db *sql.DB
}

type Chat struct {
	ID        string
	ThreadID  string
	SessionNo int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SessionState struct {
	ChatID    string
	SessionNo int
	TurnCount int
	CreatedAt time.Time
}

// Exchange is one immutable turn of conversation.
type Exchange struct {
	ID            int64
	ChatID        string
	SessionNo     int
	DateKey       string
	CreatedAt     time.Time
	UserText      string
	AssistantText string
}

type Fact struct {
	ID              int64
	ChatID          string
	Subject         string
	Predicate       string
	Object          string
	Confidence      float64
	Tags            []string
	CreatedAt       time.Time
	LastConfirmedAt time.Time
	SourceFile      string
	SourceExcerpt   string
	Active          bool
}

type Episode struct {
	ID         int64
	ChatID     string
	Summary    string
	Entities   []string
	Tags       []string
	Salience   float64
	StartedAt  time.Time
	EndedAt    time.Time
	SourceRefs []string
	Embedding  []float32
	CreatedAt  time.Time
}

type DocumentChunk struct {
	ID         int64
	ChatID     string
	Path       string
	ChunkIndex int
	Text       string
	Embedding  []float32
	Tags       []string
	UpdatedAt  time.Time
}

type OpenLoop struct {
	ID         int64
	ChatID     string
	Text       string
	Status     string
	Tags       []string
	Confidence float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Contradiction struct {
	ID         int64
	ChatID     string
	Subject    string
	Predicate  string
	Objects    []string
	Status     string
	DetectedAt time.Time
	ResolvedAt *time.Time
}

// FactHit and friends carry the raw full-text rank alongside the row so the
// retrieval pipeline can fold it into its own score.
type FactHit struct {
	Fact Fact
	Rank int
}

type EpisodeHit struct {
	Episode Episode
	Rank    int
}

type EpisodeMatch struct {
	Episode Episode
	Cosine  float64
}

type DocumentHit struct {
	Chunk DocumentChunk
	Rank  int
}

const (
	LoopOpen     = "open"
	LoopResolved = "resolved"
)
