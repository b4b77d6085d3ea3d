package store

import (
	"sort"
	"strings"
)

type EpisodeInput struct {
	ChatID     string
	Summary    string
	Entities   []string
	Tags       []string
	Salience   float64
	StartedAt  string
	EndedAt    string
	SourceRefs []string
	Embedding  []float32
}

// InsertEpisode appends a point-in-time narrative record. Episodes are never
// merged or deleted.
func (s *Store) InsertEpisode(in EpisodeInput) (*Episode, error) {
	now := nowUTC()
	startedAt := in.StartedAt
	if startedAt == "" {
		startedAt = now
	}
	endedAt := in.EndedAt
	if endedAt == "" {
		endedAt = now
	}

	result, err := s.db.Exec(`
		INSERT INTO episodes (chat_id, summary, entities, tags, salience, started_at, ended_at, source_refs, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ChatID, in.Summary, marshalStrings(in.Entities), marshalStrings(in.Tags),
		in.Salience, startedAt, endedAt, marshalStrings(in.SourceRefs),
		encodeEmbedding(in.Embedding), now)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()

	content := in.Summary + " " + strings.Join(in.Entities, " ") + " " + strings.Join(in.Tags, " ")
	if _, err := s.db.Exec("INSERT INTO episodes_fts (rowid, content) VALUES (?, ?)", id, content); err != nil {
		return nil, err
	}

	return &Episode{
		ID:         id,
		ChatID:     in.ChatID,
		Summary:    in.Summary,
		Entities:   in.Entities,
		Tags:       in.Tags,
		Salience:   in.Salience,
		StartedAt:  parseTime(startedAt),
		EndedAt:    parseTime(endedAt),
		SourceRefs: in.SourceRefs,
		Embedding:  in.Embedding,
		CreatedAt:  parseTime(now),
	}, nil
}

func (s *Store) SearchEpisodesKeyword(chatID, query string, limit int) ([]EpisodeHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT e.id, e.chat_id, e.summary, e.entities, e.tags, e.salience, e.started_at, e.ended_at, e.source_refs, e.embedding, e.created_at
		FROM episodes_fts
		JOIN episodes e ON e.id = episodes_fts.rowid
		WHERE episodes_fts MATCH ? AND e.chat_id = ?
		ORDER BY bm25(episodes_fts)
		LIMIT ?`,
		match, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	episodes, err := scanEpisodes(rows)
	if err != nil {
		return nil, err
	}

	hits := make([]EpisodeHit, len(episodes))
	for i, e := range episodes {
		hits[i] = EpisodeHit{Episode: e, Rank: i}
	}
	return hits, nil
}

// SearchEpisodesExact matches episodes whose entity or tag sets intersect
// the given sets, case-insensitively.
func (s *Store) SearchEpisodesExact(chatID string, entities, tags []string, limit int) ([]Episode, error) {
	if len(entities) == 0 && len(tags) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	entitySet := lowerSet(entities)
	tagSet := lowerSet(tags)

	rows, err := s.db.Query(`
		SELECT id, chat_id, summary, entities, tags, salience, started_at, ended_at, source_refs, embedding, created_at
		FROM episodes WHERE chat_id = ?
		ORDER BY created_at DESC LIMIT 500`,
		chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	episodes, err := scanEpisodes(rows)
	if err != nil {
		return nil, err
	}

	var matched []Episode
	for _, e := range episodes {
		if intersects(e.Entities, entitySet) || intersects(e.Tags, tagSet) {
			matched = append(matched, e)
			if len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

func intersects(vals []string, set map[string]bool) bool {
	for _, v := range vals {
		if set[strings.ToLower(v)] {
			return true
		}
	}
	return false
}

// SearchEpisodesVector is brute-force cosine similarity over the most recent
// candidateLimit episodes. Per-conversation working sets are small, so a
// linear scan beats maintaining a vector index; episodes past the window are
// invisible to vector recall (see config.Engine.VectorCandidates).
func (s *Store) SearchEpisodesVector(chatID string, queryEmbedding []float32, limit, candidateLimit int) ([]EpisodeMatch, error) {
	if len(queryEmbedding) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if candidateLimit <= 0 {
		candidateLimit = 200
	}

	rows, err := s.db.Query(`
		SELECT id, chat_id, summary, entities, tags, salience, started_at, ended_at, source_refs, embedding, created_at
		FROM episodes WHERE chat_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		chatID, candidateLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	episodes, err := scanEpisodes(rows)
	if err != nil {
		return nil, err
	}

	var matches []EpisodeMatch
	for _, e := range episodes {
		if len(e.Embedding) == 0 {
			continue
		}
		if sim := cosine(queryEmbedding, e.Embedding); sim > 0 {
			matches = append(matches, EpisodeMatch{Episode: e, Cosine: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Cosine > matches[j].Cosine })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func scanEpisodes(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Episode, error) {
	var episodes []Episode
	for rows.Next() {
		var e Episode
		var entitiesRaw, tagsRaw, refsRaw, startedAt, endedAt, createdAt string
		var blob []byte
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Summary, &entitiesRaw, &tagsRaw,
			&e.Salience, &startedAt, &endedAt, &refsRaw, &blob, &createdAt); err != nil {
			return nil, err
		}
		e.Entities = unmarshalStrings(entitiesRaw)
		e.Tags = unmarshalStrings(tagsRaw)
		e.SourceRefs = unmarshalStrings(refsRaw)
		e.Embedding = decodeEmbedding(blob)
		e.StartedAt = parseTime(startedAt)
		e.EndedAt = parseTime(endedAt)
		e.CreatedAt = parseTime(createdAt)
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}
