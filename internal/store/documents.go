package store

import "strings"

type DocumentChunkInput struct {
	ChatID     string
	Path       string
	ChunkIndex int
	Text       string
	Embedding  []float32
	Tags       []string
}

// UpsertDocumentChunk overwrites the chunk for (chat, path, index) in place,
// so re-indexing a file is idempotent.
func (s *Store) UpsertDocumentChunk(in DocumentChunkInput) (*DocumentChunk, error) {
	now := nowUTC()

	_, err := s.db.Exec(`
		INSERT INTO document_chunks (chat_id, path, chunk_index, text, embedding, tags, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, path, chunk_index) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		in.ChatID, in.Path, in.ChunkIndex, in.Text,
		encodeEmbedding(in.Embedding), marshalStrings(in.Tags), now)
	if err != nil {
		return nil, err
	}

	var id int64
	err = s.db.QueryRow(
		"SELECT id FROM document_chunks WHERE chat_id = ? AND path = ? AND chunk_index = ?",
		in.ChatID, in.Path, in.ChunkIndex).Scan(&id)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec("DELETE FROM documents_fts WHERE rowid = ?", id); err != nil {
		return nil, err
	}
	content := in.Path + " " + in.Text + " " + strings.Join(in.Tags, " ")
	if _, err := s.db.Exec("INSERT INTO documents_fts (rowid, content) VALUES (?, ?)", id, content); err != nil {
		return nil, err
	}

	return &DocumentChunk{
		ID:         id,
		ChatID:     in.ChatID,
		Path:       in.Path,
		ChunkIndex: in.ChunkIndex,
		Text:       in.Text,
		Embedding:  in.Embedding,
		Tags:       in.Tags,
		UpdatedAt:  parseTime(now),
	}, nil
}

func (s *Store) SearchDocumentsKeyword(chatID, query string, limit int) ([]DocumentHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT d.id, d.chat_id, d.path, d.chunk_index, d.text, d.embedding, d.tags, d.updated_at
		FROM documents_fts
		JOIN document_chunks d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ? AND d.chat_id = ?
		ORDER BY bm25(documents_fts)
		LIMIT ?`,
		match, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []DocumentHit
	rank := 0
	for rows.Next() {
		var d DocumentChunk
		var tagsRaw, updatedAt string
		var blob []byte
		if err := rows.Scan(&d.ID, &d.ChatID, &d.Path, &d.ChunkIndex, &d.Text, &blob, &tagsRaw, &updatedAt); err != nil {
			return nil, err
		}
		d.Embedding = decodeEmbedding(blob)
		d.Tags = unmarshalStrings(tagsRaw)
		d.UpdatedAt = parseTime(updatedAt)
		hits = append(hits, DocumentHit{Chunk: d, Rank: rank})
		rank++
	}
	return hits, rows.Err()
}
