package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndClose(t *testing.T) {
	s := newTestStore(t)
	if s.DB() == nil {
		t.Fatal("expected live db handle")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()

	// opening an already-migrated database must not re-apply steps
	s, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d applied migrations, got %d", len(migrations), count)
	}
}

func TestEnsureChatIdempotent(t *testing.T) {
	s := newTestStore(t)

	chat, err := s.EnsureChat("telegram:42")
	if err != nil {
		t.Fatalf("ensure chat: %v", err)
	}
	if chat.SessionNo != 1 {
		t.Errorf("expected session 1, got %d", chat.SessionNo)
	}

	again, err := s.EnsureChat("telegram:42")
	if err != nil {
		t.Fatalf("ensure chat again: %v", err)
	}
	if again.SessionNo != 1 {
		t.Errorf("expected session 1 after re-ensure, got %d", again.SessionNo)
	}
}

func TestStartNewSession(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.EnsureChat("c1"); err != nil {
		t.Fatalf("ensure chat: %v", err)
	}
	if err := s.SetThreadID("c1", "thread-abc"); err != nil {
		t.Fatalf("set thread: %v", err)
	}
	if _, err := s.AppendExchange("c1", 1, "hello", "hi"); err != nil {
		t.Fatalf("append exchange: %v", err)
	}
	if err := s.IncrementTurnCount("c1", 1); err != nil {
		t.Fatalf("increment: %v", err)
	}

	chat, err := s.StartNewSession("c1")
	if err != nil {
		t.Fatalf("start new session: %v", err)
	}

	if chat.SessionNo != 2 {
		t.Errorf("expected session 2, got %d", chat.SessionNo)
	}
	if chat.ThreadID != "" {
		t.Errorf("expected cleared thread id, got %q", chat.ThreadID)
	}

	turns, err := s.SessionTurnCount("c1", 2)
	if err != nil {
		t.Fatalf("turn count: %v", err)
	}
	if turns != 0 {
		t.Errorf("expected 0 turns in new session, got %d", turns)
	}

	// old session history stays queryable
	old := 1
	exchanges, err := s.RecentExchanges("c1", 10, &old)
	if err != nil {
		t.Fatalf("recent exchanges: %v", err)
	}
	if len(exchanges) != 1 {
		t.Errorf("expected 1 exchange in old session, got %d", len(exchanges))
	}
}

func TestUpsertFactIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	_, inserted, err := s.UpsertFact(FactInput{
		ChatID: "c1", Subject: "user", Predicate: "timezone", Object: "Europe/Berlin",
		Confidence: 0.6,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !inserted {
		t.Error("expected insert on first upsert")
	}

	fact, inserted, err := s.UpsertFact(FactInput{
		ChatID: "c1", Subject: "User", Predicate: "Timezone", Object: "europe/berlin",
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Error("expected merge on second upsert")
	}
	if fact.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", fact.Confidence)
	}

	facts, err := s.TopFacts("c1", 10, 0)
	if err != nil {
		t.Fatalf("top facts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected exactly 1 fact, got %d", len(facts))
	}
}

func TestUpsertFactNeverLowersConfidence(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	s.UpsertFact(FactInput{ChatID: "c1", Subject: "user", Predicate: "name", Object: "Kim", Confidence: 0.9})
	fact, _, err := s.UpsertFact(FactInput{ChatID: "c1", Subject: "user", Predicate: "name", Object: "Kim", Confidence: 0.4})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if fact.Confidence != 0.9 {
		t.Errorf("reassertion lowered confidence to %v", fact.Confidence)
	}
}

func TestDecayFloor(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	s.UpsertFact(FactInput{ChatID: "c1", Subject: "user", Predicate: "editor", Object: "vim", Confidence: 0.2})

	// backdate the confirmation so the fact counts as stale
	stale := time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)
	if _, err := s.db.Exec("UPDATE facts SET last_confirmed_at = ?", stale); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := s.DecayFactConfidence("c1", 14, 0.05); err != nil {
			t.Fatalf("decay: %v", err)
		}
	}

	facts, _ := s.TopFacts("c1", 10, 0)
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	if facts[0].Confidence < 0.1-1e-9 || facts[0].Confidence > 0.11 {
		t.Errorf("expected confidence at the 0.1 floor, got %v", facts[0].Confidence)
	}
}

func TestDedupeFactsRepairsDuplicates(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	s.UpsertFact(FactInput{ChatID: "c1", Subject: "user", Predicate: "city", Object: "Lagos", Confidence: 0.9})

	// simulate crash-recovery damage: a second row under the same key
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO facts (chat_id, fact_key, subject, predicate, object, confidence, tags, created_at, last_confirmed_at, active)
		VALUES ('c1', ?, 'user', 'city', 'Lagos', 0.5, '[]', ?, ?, 1)`,
		FactKey("user", "city", "Lagos"), now, now)
	if err != nil {
		t.Fatalf("inject duplicate: %v", err)
	}

	removed, err := s.DedupeFacts()
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed row, got %d", removed)
	}

	facts, _ := s.TopFacts("c1", 10, 0)
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact after dedupe, got %d", len(facts))
	}
	if facts[0].Confidence != 0.9 {
		t.Errorf("expected the high-confidence row kept, got %v", facts[0].Confidence)
	}
}

func TestDetectContradictions(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	s.UpsertFact(FactInput{ChatID: "c1", Subject: "p", Predicate: "deployment_env", Object: "staging", Confidence: 0.86})
	s.UpsertFact(FactInput{ChatID: "c1", Subject: "p", Predicate: "deployment_env", Object: "production", Confidence: 0.88})
	s.UpsertFact(FactInput{ChatID: "c1", Subject: "p", Predicate: "language", Object: "Go", Confidence: 0.9})

	detected, err := s.DetectContradictions("c1", 0.5)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detected) != 1 {
		t.Fatalf("expected 1 contradiction, got %d", len(detected))
	}
	c := detected[0]
	if c.Subject != "p" || c.Predicate != "deployment_env" {
		t.Errorf("unexpected group: %s/%s", c.Subject, c.Predicate)
	}
	if len(c.Objects) != 2 {
		t.Errorf("expected both objects, got %v", c.Objects)
	}

	// re-detection upserts the same open row, not a second one
	if _, err := s.DetectContradictions("c1", 0.5); err != nil {
		t.Fatalf("re-detect: %v", err)
	}
	open, _ := s.OpenContradictions("c1")
	if len(open) != 1 {
		t.Errorf("expected 1 open contradiction after re-detection, got %d", len(open))
	}
}

func TestSearchFactsKeyword(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	s.UpsertFact(FactInput{ChatID: "c1", Subject: "project:atlas", Predicate: "uses_stack", Object: "Next.js and Postgres", Confidence: 0.8})
	s.UpsertFact(FactInput{ChatID: "c1", Subject: "user", Predicate: "favorite_color", Object: "red", Confidence: 0.8})

	hits, err := s.SearchFactsKeyword("c1", "what stack does atlas use?", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].Fact.Subject != "project:atlas" {
		t.Errorf("expected atlas fact first, got %s", hits[0].Fact.Subject)
	}
}

func TestSearchFactsExact(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	s.UpsertFact(FactInput{ChatID: "c1", Subject: "user", Predicate: "timezone", Object: "UTC+2", Confidence: 0.9})
	s.UpsertFact(FactInput{ChatID: "c1", Subject: "user", Predicate: "answer_style", Object: "short", Confidence: 0.9, Tags: []string{"preference"}})

	byPredicate, err := s.SearchFactsExact("c1", nil, []string{"timezone"}, nil, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byPredicate) != 1 || byPredicate[0].Object != "UTC+2" {
		t.Errorf("predicate match failed: %+v", byPredicate)
	}

	byTag, err := s.SearchFactsExact("c1", nil, nil, []string{"preference"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byTag) != 1 || byTag[0].Predicate != "answer_style" {
		t.Errorf("tag match failed: %+v", byTag)
	}
}

func TestEpisodeVectorSearch(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	s.InsertEpisode(EpisodeInput{ChatID: "c1", Summary: "chose Postgres", Salience: 0.85, Embedding: a})
	s.InsertEpisode(EpisodeInput{ChatID: "c1", Summary: "talked about cats", Salience: 0.68, Embedding: b})

	matches, err := s.SearchEpisodesVector("c1", []float32{0.9, 0.1, 0}, 5, 100)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected matches")
	}
	if matches[0].Episode.Summary != "chose Postgres" {
		t.Errorf("expected closest episode first, got %q", matches[0].Episode.Summary)
	}
}

func TestDocumentChunkUpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	first, err := s.UpsertDocumentChunk(DocumentChunkInput{ChatID: "c1", Path: "journal/2026-08-01.md", ChunkIndex: 0, Text: "old text"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := s.UpsertDocumentChunk(DocumentChunkInput{ChatID: "c1", Path: "journal/2026-08-01.md", ChunkIndex: 0, Text: "new text"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected in-place overwrite, got ids %d and %d", first.ID, second.ID)
	}

	hits, err := s.SearchDocumentsKeyword("c1", "new text here", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.Text != "new text" {
		t.Errorf("expected updated chunk, got %+v", hits)
	}
}

func TestOpenLoopLifecycle(t *testing.T) {
	s := newTestStore(t)
	s.EnsureChat("c1")

	loop, err := s.UpsertOpenLoop(OpenLoopInput{ChatID: "c1", Text: "follow up on invoice", Confidence: 0.5, Tags: []string{"billing"}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	merged, err := s.UpsertOpenLoop(OpenLoopInput{ChatID: "c1", Text: "follow up on invoice", Confidence: 0.8, Tags: []string{"urgent"}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.ID != loop.ID {
		t.Errorf("expected merge into existing loop")
	}
	if merged.Confidence != 0.8 {
		t.Errorf("expected max confidence 0.8, got %v", merged.Confidence)
	}
	if len(merged.Tags) != 2 {
		t.Errorf("expected merged tags, got %v", merged.Tags)
	}

	// keyword filter with fallback
	filtered, err := s.OpenLoops("c1", "invoice status", 10)
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("expected keyword match, got %d", len(filtered))
	}

	fallback, err := s.OpenLoops("c1", "completely unrelated words", 10)
	if err != nil {
		t.Fatalf("fallback list: %v", err)
	}
	if len(fallback) != 1 {
		t.Errorf("expected fallback to default ordering, got %d", len(fallback))
	}

	if err := s.ResolveOpenLoop(loop.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	open, _ := s.OpenLoops("c1", "", 10)
	if len(open) != 0 {
		t.Errorf("expected no open loops after resolve, got %d", len(open))
	}
}

func TestFactKeyNormalization(t *testing.T) {
	a := FactKey("User ", " Timezone", "Europe/Berlin")
	b := FactKey("user", "timezone", "  europe/berlin ")
	if a != b {
		t.Errorf("expected normalized keys to match: %q vs %q", a, b)
	}
}

func TestUnmarshalStringsDegrades(t *testing.T) {
	if got := unmarshalStrings("not json"); len(got) != 0 {
		t.Errorf("expected empty slice for malformed input, got %v", got)
	}
}
