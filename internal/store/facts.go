package store

import (
	"strings"
	"time"
)

type FactInput struct {
	ChatID        string
	Subject       string
	Predicate     string
	Object        string
	Confidence    float64
	Tags          []string
	SourceFile    string
	SourceExcerpt string
}

// UpsertFact inserts the triple or merges it into the existing row for the
// same (chat, fact key): confidence is raised to the max of old and new
// (reassertion never lowers it), last_confirmed_at refreshes, tags union.
// Returns the stored fact and whether the call inserted a new row.
func (s *Store) UpsertFact(in FactInput) (*Fact, bool, error) {
	key := FactKey(in.Subject, in.Predicate, in.Object)
	now := nowUTC()

	var existing Fact
	var tagsRaw, createdAt, confirmedAt string
	err := s.db.QueryRow(`
		SELECT id, subject, predicate, object, confidence, tags, created_at, last_confirmed_at, source_file, source_excerpt, active
		FROM facts WHERE chat_id = ? AND fact_key = ?
		ORDER BY confidence DESC, last_confirmed_at DESC LIMIT 1`,
		in.ChatID, key).
		Scan(&existing.ID, &existing.Subject, &existing.Predicate, &existing.Object,
			&existing.Confidence, &tagsRaw, &createdAt, &confirmedAt,
			&existing.SourceFile, &existing.SourceExcerpt, &existing.Active)

	if err == nil {
		merged := existing.Confidence
		if in.Confidence > merged {
			merged = in.Confidence
		}
		tags := mergeTags(unmarshalStrings(tagsRaw), in.Tags)

		_, err = s.db.Exec(`
			UPDATE facts SET confidence = ?, tags = ?, last_confirmed_at = ?, active = 1
			WHERE id = ?`,
			merged, marshalStrings(tags), now, existing.ID)
		if err != nil {
			return nil, false, err
		}

		existing.ChatID = in.ChatID
		existing.Confidence = merged
		existing.Tags = tags
		existing.CreatedAt = parseTime(createdAt)
		existing.LastConfirmedAt = parseTime(now)
		existing.Active = true

		if err := s.refreshFactFTS(existing.ID, &existing); err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}

	result, err := s.db.Exec(`
		INSERT INTO facts (chat_id, fact_key, subject, predicate, object, confidence, tags, created_at, last_confirmed_at, source_file, source_excerpt, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		in.ChatID, key, in.Subject, in.Predicate, in.Object, in.Confidence,
		marshalStrings(in.Tags), now, now, in.SourceFile, in.SourceExcerpt)
	if err != nil {
		return nil, false, err
	}

	id, _ := result.LastInsertId()
	fact := &Fact{
		ID:              id,
		ChatID:          in.ChatID,
		Subject:         in.Subject,
		Predicate:       in.Predicate,
		Object:          in.Object,
		Confidence:      in.Confidence,
		Tags:            in.Tags,
		CreatedAt:       parseTime(now),
		LastConfirmedAt: parseTime(now),
		SourceFile:      in.SourceFile,
		SourceExcerpt:   in.SourceExcerpt,
		Active:          true,
	}

	if err := s.refreshFactFTS(id, fact); err != nil {
		return nil, false, err
	}
	return fact, true, nil
}

func (s *Store) refreshFactFTS(id int64, f *Fact) error {
	if _, err := s.db.Exec("DELETE FROM facts_fts WHERE rowid = ?", id); err != nil {
		return err
	}
	content := f.Subject + " " + f.Predicate + " " + f.Object + " " + strings.Join(f.Tags, " ")
	_, err := s.db.Exec("INSERT INTO facts_fts (rowid, content) VALUES (?, ?)", id, content)
	return err
}

// TopFacts returns active facts at or above minConfidence, strongest and
// most recently confirmed first.
func (s *Store) TopFacts(chatID string, limit int, minConfidence float64) ([]Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, chat_id, subject, predicate, object, confidence, tags, created_at, last_confirmed_at, source_file, source_excerpt, active
		FROM facts
		WHERE chat_id = ? AND active = 1 AND confidence >= ?
		ORDER BY confidence DESC, last_confirmed_at DESC
		LIMIT ?`,
		chatID, minConfidence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// SearchFactsKeyword runs an OR-joined full-text query over the fact index.
// Results carry the bm25 rank position; scoring is the caller's job.
func (s *Store) SearchFactsKeyword(chatID, query string, limit int) ([]FactHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT f.id, f.chat_id, f.subject, f.predicate, f.object, f.confidence, f.tags, f.created_at, f.last_confirmed_at, f.source_file, f.source_excerpt, f.active
		FROM facts_fts
		JOIN facts f ON f.id = facts_fts.rowid
		WHERE facts_fts MATCH ? AND f.chat_id = ? AND f.active = 1
		ORDER BY bm25(facts_fts)
		LIMIT ?`,
		match, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}

	hits := make([]FactHit, len(facts))
	for i, f := range facts {
		hits[i] = FactHit{Fact: f, Rank: i}
	}
	return hits, nil
}

// SearchFactsExact matches active facts whose subject, predicate, or any tag
// is in the given sets. All comparisons are case-insensitive.
func (s *Store) SearchFactsExact(chatID string, entities, predicates, tags []string, limit int) ([]Fact, error) {
	if len(entities) == 0 && len(predicates) == 0 && len(tags) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	entitySet := lowerSet(entities)
	predicateSet := lowerSet(predicates)
	tagSet := lowerSet(tags)

	rows, err := s.db.Query(`
		SELECT id, chat_id, subject, predicate, object, confidence, tags, created_at, last_confirmed_at, source_file, source_excerpt, active
		FROM facts
		WHERE chat_id = ? AND active = 1
		ORDER BY confidence DESC, last_confirmed_at DESC
		LIMIT 500`,
		chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}

	var matched []Fact
	for _, f := range facts {
		if matchesExact(&f, entitySet, predicateSet, tagSet) {
			matched = append(matched, f)
			if len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

func matchesExact(f *Fact, entities, predicates, tags map[string]bool) bool {
	if entities[strings.ToLower(f.Subject)] {
		return true
	}
	if predicates[strings.ToLower(f.Predicate)] {
		return true
	}
	for _, t := range f.Tags {
		if tags[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

func lowerSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		if v != "" {
			set[strings.ToLower(v)] = true
		}
	}
	return set
}

// DecayFactConfidence lowers confidence by step for every active fact not
// confirmed within daysOld, clamped at the 0.1 floor so facts stay
// recoverable. Returns the number of rows touched.
func (s *Store) DecayFactConfidence(chatID string, daysOld int, step float64) (int, error) {
	cutoff := formatTime(time.Now().UTC().AddDate(0, 0, -daysOld))

	result, err := s.db.Exec(`
		UPDATE facts SET confidence = MAX(0.1, confidence - ?)
		WHERE chat_id = ? AND active = 1 AND last_confirmed_at < ? AND confidence > 0.1`,
		step, chatID, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// DedupeFacts is invariant repair: the upsert path should never produce two
// rows for one (chat, fact key), but schema evolution or crash recovery can.
// Keeps the highest-confidence, most recently confirmed row per group.
func (s *Store) DedupeFacts() (int, error) {
	rows, err := s.db.Query(`
		SELECT chat_id, fact_key FROM facts
		GROUP BY chat_id, fact_key
		HAVING COUNT(*) > 1`)
	if err != nil {
		return 0, err
	}

	type group struct{ chatID, key string }
	var groups []group
	for rows.Next() {
		var g group
		if err := rows.Scan(&g.chatID, &g.key); err != nil {
			rows.Close()
			return 0, err
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, g := range groups {
		var keepID int64
		err := s.db.QueryRow(`
			SELECT id FROM facts
			WHERE chat_id = ? AND fact_key = ?
			ORDER BY confidence DESC, last_confirmed_at DESC LIMIT 1`,
			g.chatID, g.key).Scan(&keepID)
		if err != nil {
			return removed, err
		}

		result, err := s.db.Exec(
			"DELETE FROM facts WHERE chat_id = ? AND fact_key = ? AND id != ?",
			g.chatID, g.key, keepID)
		if err != nil {
			return removed, err
		}
		n, _ := result.RowsAffected()
		removed += int(n)

		kept, err := s.getFact(keepID)
		if err != nil {
			return removed, err
		}
		if err := s.refreshFactFTS(keepID, kept); err != nil {
			return removed, err
		}
	}

	if len(groups) > 0 {
		// drop index rows for the deleted facts
		if _, err := s.db.Exec("DELETE FROM facts_fts WHERE rowid NOT IN (SELECT id FROM facts)"); err != nil {
			return removed, err
		}
	}

	return removed, nil
}

func (s *Store) getFact(id int64) (*Fact, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, subject, predicate, object, confidence, tags, created_at, last_confirmed_at, source_file, source_excerpt, active
		FROM facts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, errNotFound
	}
	return &facts[0], nil
}

func scanFacts(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Fact, error) {
	var facts []Fact
	for rows.Next() {
		var f Fact
		var tagsRaw, createdAt, confirmedAt string
		if err := rows.Scan(&f.ID, &f.ChatID, &f.Subject, &f.Predicate, &f.Object,
			&f.Confidence, &tagsRaw, &createdAt, &confirmedAt,
			&f.SourceFile, &f.SourceExcerpt, &f.Active); err != nil {
			return nil, err
		}
		f.Tags = unmarshalStrings(tagsRaw)
		f.CreatedAt = parseTime(createdAt)
		f.LastConfirmedAt = parseTime(confirmedAt)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
