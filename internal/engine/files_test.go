package engine

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func newTestFiles(t *testing.T) *Files {
	t.Helper()
	f, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("new files: %v", err)
	}
	return f
}

func TestAppendJournalAccumulates(t *testing.T) {
	f := newTestFiles(t)

	if _, err := f.AppendJournal("2026-08-30", "- first entry"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.AppendJournal("2026-08-30", "- second entry"); err != nil {
		t.Fatal(err)
	}

	content, err := f.ReadJournal("2026-08-30")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(content, "# Journal 2026-08-30") {
		t.Errorf("missing journal header:\n%s", content)
	}
	if !strings.Contains(content, "first entry") || !strings.Contains(content, "second entry") {
		t.Errorf("entries not accumulated:\n%s", content)
	}

	dates, err := f.JournalDates()
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 1 || dates[0] != "2026-08-30" {
		t.Errorf("unexpected journal dates %v", dates)
	}
}

func TestSessionSummaryTailTrim(t *testing.T) {
	f := newTestFiles(t)

	for i := 0; i < 20; i++ {
		entry := strings.Repeat("x", 40)
		if _, err := f.AppendSessionSummary("chat-1", 1, entry, 200); err != nil {
			t.Fatal(err)
		}
	}

	raw, err := os.ReadFile(f.SessionSummaryPath("chat-1", 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) > 200 {
		t.Errorf("summary not trimmed: %d bytes", len(raw))
	}
	// trimming cuts at a line boundary, so every line is intact
	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		if len(line) != 40 {
			t.Errorf("partial line survived trim: %q", line)
		}
	}
}

func TestMergeKeyFacts(t *testing.T) {
	f := newTestFiles(t)

	if _, err := f.MergeKeyFacts("chat-1", 1, map[string]string{"timezone": "UTC", "stack": "Go"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.MergeKeyFacts("chat-1", 1, map[string]string{"timezone": "Europe/Berlin"}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(f.KeyFactsPath("chat-1", 1))
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]string)
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("invalid key facts json: %v", err)
	}
	if got["timezone"] != "Europe/Berlin" {
		t.Errorf("key not overwritten: %q", got["timezone"])
	}
	if got["stack"] != "Go" {
		t.Errorf("existing key dropped: %+v", got)
	}
}

func TestMergeKeyFactsMalformedFile(t *testing.T) {
	f := newTestFiles(t)

	if _, err := f.MergeKeyFacts("chat-1", 1, map[string]string{"a": "1"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.KeyFactsPath("chat-1", 1), []byte("{{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := f.MergeKeyFacts("chat-1", 1, map[string]string{"b": "2"}); err != nil {
		t.Fatalf("merge over malformed file: %v", err)
	}
	raw, _ := os.ReadFile(f.KeyFactsPath("chat-1", 1))
	got := make(map[string]string)
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("file not repaired: %v", err)
	}
	if got["b"] != "2" {
		t.Errorf("merge lost new entry: %+v", got)
	}
}

func TestSafePathSanitizesChatIDs(t *testing.T) {
	f := newTestFiles(t)
	path := f.CuratedMemoryPath("../../etc/passwd")
	if strings.Contains(path, "..") {
		t.Errorf("path traversal survived sanitization: %s", path)
	}
}
