package store

type OpenLoopInput struct {
	ChatID     string
	Text       string
	Tags       []string
	Confidence float64
}

// UpsertOpenLoop inserts an open loop or, when the same (chat, text, status)
// already exists, merges tags and raises confidence to the max.
func (s *Store) UpsertOpenLoop(in OpenLoopInput) (*OpenLoop, error) {
	now := nowUTC()

	var existing OpenLoop
	var tagsRaw, createdAt string
	err := s.db.QueryRow(`
		SELECT id, confidence, tags, created_at
		FROM open_loops WHERE chat_id = ? AND text = ? AND status = ?`,
		in.ChatID, in.Text, LoopOpen).
		Scan(&existing.ID, &existing.Confidence, &tagsRaw, &createdAt)

	if err == nil {
		conf := existing.Confidence
		if in.Confidence > conf {
			conf = in.Confidence
		}
		tags := mergeTags(unmarshalStrings(tagsRaw), in.Tags)

		_, err = s.db.Exec(`
			UPDATE open_loops SET confidence = ?, tags = ?, updated_at = ?
			WHERE id = ?`,
			conf, marshalStrings(tags), now, existing.ID)
		if err != nil {
			return nil, err
		}

		return &OpenLoop{
			ID:         existing.ID,
			ChatID:     in.ChatID,
			Text:       in.Text,
			Status:     LoopOpen,
			Tags:       tags,
			Confidence: conf,
			CreatedAt:  parseTime(createdAt),
			UpdatedAt:  parseTime(now),
		}, nil
	}

	result, err := s.db.Exec(`
		INSERT INTO open_loops (chat_id, text, status, tags, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ChatID, in.Text, LoopOpen, marshalStrings(in.Tags), in.Confidence, now, now)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &OpenLoop{
		ID:         id,
		ChatID:     in.ChatID,
		Text:       in.Text,
		Status:     LoopOpen,
		Tags:       in.Tags,
		Confidence: in.Confidence,
		CreatedAt:  parseTime(now),
		UpdatedAt:  parseTime(now),
	}, nil
}

// ResolveOpenLoop moves a loop to its terminal resolved status.
func (s *Store) ResolveOpenLoop(id int64) error {
	_, err := s.db.Exec(`
		UPDATE open_loops SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		LoopResolved, nowUTC(), id, LoopOpen)
	return err
}

// OpenLoops lists open loops for a chat. A non-empty keyword filters by
// token overlap with the loop text; when the filter matches nothing the
// default recency/confidence ordering is returned instead.
func (s *Store) OpenLoops(chatID, keyword string, limit int) ([]OpenLoop, error) {
	if limit <= 0 {
		limit = 10
	}

	loops, err := s.openLoopsDefault(chatID, 200)
	if err != nil {
		return nil, err
	}

	if keyword != "" {
		queryTokens := lowerSet(Tokenize(keyword))
		var filtered []OpenLoop
		for _, l := range loops {
			if overlapsTokens(l.Text, queryTokens) {
				filtered = append(filtered, l)
			}
		}
		if len(filtered) > 0 {
			loops = filtered
		}
	}

	if len(loops) > limit {
		loops = loops[:limit]
	}
	return loops, nil
}

func overlapsTokens(text string, tokens map[string]bool) bool {
	for _, t := range Tokenize(text) {
		if tokens[t] {
			return true
		}
	}
	return false
}

func (s *Store) openLoopsDefault(chatID string, limit int) ([]OpenLoop, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, text, status, tags, confidence, created_at, updated_at
		FROM open_loops
		WHERE chat_id = ? AND status = ?
		ORDER BY updated_at DESC, confidence DESC
		LIMIT ?`,
		chatID, LoopOpen, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loops []OpenLoop
	for rows.Next() {
		var l OpenLoop
		var tagsRaw, createdAt, updatedAt string
		if err := rows.Scan(&l.ID, &l.ChatID, &l.Text, &l.Status, &tagsRaw, &l.Confidence, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		l.Tags = unmarshalStrings(tagsRaw)
		l.CreatedAt = parseTime(createdAt)
		l.UpdatedAt = parseTime(updatedAt)
		loops = append(loops, l)
	}
	return loops, rows.Err()
}
