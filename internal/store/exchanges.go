package store

import "time"

// AppendExchange records one immutable turn. Exchanges are never updated.
func (s *Store) AppendExchange(chatID string, sessionNo int, userText, assistantText string) (*Exchange, error) {
	now := time.Now().UTC()
	dateKey := now.Format("2006-01-02")

	result, err := s.db.Exec(`
		INSERT INTO exchanges (chat_id, session_no, date_key, created_at, user_text, assistant_text)
		VALUES (?, ?, ?, ?, ?, ?)`,
		chatID, sessionNo, dateKey, formatTime(now), userText, assistantText)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Exchange{
		ID:            id,
		ChatID:        chatID,
		SessionNo:     sessionNo,
		DateKey:       dateKey,
		CreatedAt:     now,
		UserText:      userText,
		AssistantText: assistantText,
	}, nil
}

// RecentExchanges returns up to limit exchanges, newest first. A non-nil
// sessionNo scopes the query to one session.
func (s *Store) RecentExchanges(chatID string, limit int, sessionNo *int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, chat_id, session_no, date_key, created_at, user_text, assistant_text
		FROM exchanges WHERE chat_id = ?`
	args := []any{chatID}
	if sessionNo != nil {
		query += " AND session_no = ?"
		args = append(args, *sessionNo)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var e Exchange
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ChatID, &e.SessionNo, &e.DateKey, &createdAt, &e.UserText, &e.AssistantText); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}
