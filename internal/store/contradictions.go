package store

import "sort"

// DetectContradictions groups active facts at or above minConfidence by
// (subject, predicate) and flags every group holding more than one distinct
// object. One open contradiction row is upserted per group; the full
// (re)detected set is returned.
func (s *Store) DetectContradictions(chatID string, minConfidence float64) ([]Contradiction, error) {
	rows, err := s.db.Query(`
		SELECT subject, predicate, object
		FROM facts
		WHERE chat_id = ? AND active = 1 AND confidence >= ?`,
		chatID, minConfidence)
	if err != nil {
		return nil, err
	}

	type group struct{ subject, predicate string }
	objects := make(map[group]map[string]string) // normalized -> original
	order := make(map[group][2]string)
	for rows.Next() {
		var subject, predicate, object string
		if err := rows.Scan(&subject, &predicate, &object); err != nil {
			rows.Close()
			return nil, err
		}
		g := group{normalizePart(subject), normalizePart(predicate)}
		if objects[g] == nil {
			objects[g] = make(map[string]string)
			order[g] = [2]string{subject, predicate}
		}
		objects[g][normalizePart(object)] = object
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var detected []Contradiction
	for g, objs := range objects {
		if len(objs) < 2 {
			continue
		}

		var list []string
		for _, orig := range objs {
			list = append(list, orig)
		}
		sort.Strings(list)

		subject, predicate := order[g][0], order[g][1]
		c, err := s.upsertContradiction(chatID, subject, predicate, list)
		if err != nil {
			return nil, err
		}
		detected = append(detected, *c)
	}

	sort.Slice(detected, func(i, j int) bool {
		if detected[i].Subject != detected[j].Subject {
			return detected[i].Subject < detected[j].Subject
		}
		return detected[i].Predicate < detected[j].Predicate
	})
	return detected, nil
}

func (s *Store) upsertContradiction(chatID, subject, predicate string, objs []string) (*Contradiction, error) {
	now := nowUTC()

	var id int64
	var detectedAt string
	err := s.db.QueryRow(`
		SELECT id, detected_at FROM contradictions
		WHERE chat_id = ? AND subject = ? AND predicate = ? AND status = 'open'`,
		chatID, subject, predicate).Scan(&id, &detectedAt)

	if err == nil {
		if _, err := s.db.Exec(
			"UPDATE contradictions SET objects = ? WHERE id = ?",
			marshalStrings(objs), id); err != nil {
			return nil, err
		}
		return &Contradiction{
			ID: id, ChatID: chatID, Subject: subject, Predicate: predicate,
			Objects: objs, Status: "open", DetectedAt: parseTime(detectedAt),
		}, nil
	}

	result, err := s.db.Exec(`
		INSERT INTO contradictions (chat_id, subject, predicate, objects, status, detected_at)
		VALUES (?, ?, ?, ?, 'open', ?)`,
		chatID, subject, predicate, marshalStrings(objs), now)
	if err != nil {
		return nil, err
	}

	id, _ = result.LastInsertId()
	return &Contradiction{
		ID: id, ChatID: chatID, Subject: subject, Predicate: predicate,
		Objects: objs, Status: "open", DetectedAt: parseTime(now),
	}, nil
}

func (s *Store) OpenContradictions(chatID string) ([]Contradiction, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, subject, predicate, objects, status, detected_at, resolved_at
		FROM contradictions
		WHERE chat_id = ? AND status = 'open'
		ORDER BY detected_at DESC`,
		chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contradiction
	for rows.Next() {
		var c Contradiction
		var objsRaw, detectedAt string
		var resolvedAt *string
		if err := rows.Scan(&c.ID, &c.ChatID, &c.Subject, &c.Predicate, &objsRaw, &c.Status, &detectedAt, &resolvedAt); err != nil {
			return nil, err
		}
		c.Objects = unmarshalStrings(objsRaw)
		c.DetectedAt = parseTime(detectedAt)
		if resolvedAt != nil {
			t := parseTime(*resolvedAt)
			c.ResolvedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveContradiction is the manual resolution path; detection only records.
func (s *Store) ResolveContradiction(id int64) error {
	_, err := s.db.Exec(`
		UPDATE contradictions SET status = 'resolved', resolved_at = ?
		WHERE id = ? AND status = 'open'`,
		nowUTC(), id)
	return err
}
