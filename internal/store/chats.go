package store

import (
	"database/sql"
	"fmt"
)

// EnsureChat returns the chat row for id, creating it on first access.
func (s *Store) EnsureChat(chatID string) (*Chat, error) {
	chat, err := s.getChat(chatID)
	if err == nil {
		return chat, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	now := nowUTC()
	_, err = s.db.Exec(`
		INSERT INTO chats (id, thread_id, session_no, created_at, updated_at)
		VALUES (?, '', 1, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		chatID, now, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.EnsureSessionState(chatID, 1); err != nil {
		return nil, err
	}

	return s.getChat(chatID)
}

func (s *Store) getChat(chatID string) (*Chat, error) {
	var c Chat
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, thread_id, session_no, created_at, updated_at
		FROM chats WHERE id = ?`, chatID).
		Scan(&c.ID, &c.ThreadID, &c.SessionNo, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// EnsureSessionState lazily creates the per-session counter row.
func (s *Store) EnsureSessionState(chatID string, sessionNo int) (*SessionState, error) {
	_, err := s.db.Exec(`
		INSERT INTO session_states (chat_id, session_no, turn_count, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(chat_id, session_no) DO NOTHING`,
		chatID, sessionNo, nowUTC())
	if err != nil {
		return nil, err
	}

	var st SessionState
	var createdAt string
	err = s.db.QueryRow(`
		SELECT chat_id, session_no, turn_count, created_at
		FROM session_states WHERE chat_id = ? AND session_no = ?`,
		chatID, sessionNo).
		Scan(&st.ChatID, &st.SessionNo, &st.TurnCount, &createdAt)
	if err != nil {
		return nil, err
	}
	st.CreatedAt = parseTime(createdAt)
	return &st, nil
}

// StartNewSession increments the session counter and clears the external
// thread handle. The old session's state and exchanges stay queryable.
func (s *Store) StartNewSession(chatID string) (*Chat, error) {
	if _, err := s.EnsureChat(chatID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var sessionNo int
	if err := tx.QueryRow("SELECT session_no FROM chats WHERE id = ?", chatID).Scan(&sessionNo); err != nil {
		return nil, err
	}

	sessionNo++
	if _, err := tx.Exec(
		"UPDATE chats SET session_no = ?, thread_id = '', updated_at = ? WHERE id = ?",
		sessionNo, nowUTC(), chatID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		INSERT INTO session_states (chat_id, session_no, turn_count, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(chat_id, session_no) DO NOTHING`,
		chatID, sessionNo, nowUTC()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.getChat(chatID)
}

func (s *Store) SetThreadID(chatID, threadID string) error {
	res, err := s.db.Exec(
		"UPDATE chats SET thread_id = ?, updated_at = ? WHERE id = ?",
		threadID, nowUTC(), chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown chat %q", chatID)
	}
	return nil
}

func (s *Store) IncrementTurnCount(chatID string, sessionNo int) error {
	if _, err := s.EnsureSessionState(chatID, sessionNo); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		UPDATE session_states SET turn_count = turn_count + 1
		WHERE chat_id = ? AND session_no = ?`,
		chatID, sessionNo)
	return err
}

func (s *Store) SessionTurnCount(chatID string, sessionNo int) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT turn_count FROM session_states
		WHERE chat_id = ? AND session_no = ?`,
		chatID, sessionNo).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// ChatIDs lists every known chat, for maintenance passes.
func (s *Store) ChatIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM chats ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
