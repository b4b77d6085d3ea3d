package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Files is the human-readable artifact layer that mirrors a subset of the
// database: daily journals, weekly summaries, per-session files, curated
// digests, canonical identity/tooling files, and the heartbeat log. Every
// mutating write is read -> transform -> write-temp-then-rename.
type Files struct {
	root string
}

func NewFiles(root string) (*Files, error) {
	f := &Files{root: root}
	for _, dir := range []string{"journal", "weekly", "sessions", "curated", "canon"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Files) Root() string {
	return f.root
}

func (f *Files) JournalPath(dateKey string) string {
	return filepath.Join(f.root, "journal", dateKey+".md")
}

func (f *Files) WeeklyPath(isoWeek string) string {
	return filepath.Join(f.root, "weekly", isoWeek+".md")
}

func (f *Files) sessionDir(chatID string, sessionNo int) string {
	return filepath.Join(f.root, "sessions", safePath(chatID), fmt.Sprintf("%d", sessionNo))
}

func (f *Files) SessionSummaryPath(chatID string, sessionNo int) string {
	return filepath.Join(f.sessionDir(chatID, sessionNo), "summary.md")
}

func (f *Files) KeyFactsPath(chatID string, sessionNo int) string {
	return filepath.Join(f.sessionDir(chatID, sessionNo), "key-facts.json")
}

func (f *Files) CuratedMemoryPath(chatID string) string {
	return filepath.Join(f.root, "curated", safePath(chatID)+"-memory.md")
}

func (f *Files) CuratedProfilePath(chatID string) string {
	return filepath.Join(f.root, "curated", safePath(chatID)+"-profile.md")
}

func (f *Files) CanonIdentityPath() string {
	return filepath.Join(f.root, "canon", "identity.md")
}

func (f *Files) CanonToolsPath() string {
	return filepath.Join(f.root, "canon", "tools.md")
}

func (f *Files) HeartbeatLogPath() string {
	return filepath.Join(f.root, "heartbeat.log")
}

func (f *Files) CanonicalPaths(chatID string, sessionNo int) []string {
	return []string{
		f.CuratedMemoryPath(chatID),
		f.CuratedProfilePath(chatID),
		f.SessionSummaryPath(chatID, sessionNo),
		f.KeyFactsPath(chatID, sessionNo),
		f.CanonIdentityPath(),
		f.CanonToolsPath(),
	}
}

// AppendJournal appends one entry to the day's append-only journal file.
func (f *Files) AppendJournal(dateKey, entry string) (string, error) {
	path := f.JournalPath(dateKey)
	existing, err := readIfExists(path)
	if err != nil {
		return "", err
	}
	if existing == "" {
		existing = "# Journal " + dateKey + "\n"
	}
	if err := writeAtomic(path, existing+"\n"+entry+"\n"); err != nil {
		return "", err
	}
	return path, nil
}

// AppendSessionSummary appends to the rolling session summary, trimming the
// oldest lines once the file grows past maxBytes.
func (f *Files) AppendSessionSummary(chatID string, sessionNo int, entry string, maxBytes int) (string, error) {
	if err := os.MkdirAll(f.sessionDir(chatID, sessionNo), 0o755); err != nil {
		return "", err
	}

	path := f.SessionSummaryPath(chatID, sessionNo)
	existing, err := readIfExists(path)
	if err != nil {
		return "", err
	}

	content := existing + entry + "\n"
	if maxBytes > 0 && len(content) > maxBytes {
		// keep the tail, starting at a line boundary
		cut := len(content) - maxBytes
		if idx := strings.IndexByte(content[cut:], '\n'); idx >= 0 {
			cut += idx + 1
		}
		content = content[cut:]
	}

	if err := writeAtomic(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// MergeKeyFacts merges new entries into the session's key-facts JSON map.
// Existing keys are overwritten, never dropped.
func (f *Files) MergeKeyFacts(chatID string, sessionNo int, facts map[string]string) (string, error) {
	if err := os.MkdirAll(f.sessionDir(chatID, sessionNo), 0o755); err != nil {
		return "", err
	}

	path := f.KeyFactsPath(chatID, sessionNo)
	existing := make(map[string]string)
	raw, err := readIfExists(path)
	if err != nil {
		return "", err
	}
	if raw != "" {
		// malformed file degrades to an empty map
		_ = json.Unmarshal([]byte(raw), &existing)
	}

	for k, v := range facts {
		existing[k] = v
	}

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, string(out)+"\n"); err != nil {
		return "", err
	}
	return path, nil
}

func (f *Files) WriteCuratedMemory(chatID, content string) (string, error) {
	path := f.CuratedMemoryPath(chatID)
	return path, writeAtomic(path, content)
}

func (f *Files) WriteCuratedProfile(chatID, content string) (string, error) {
	path := f.CuratedProfilePath(chatID)
	return path, writeAtomic(path, content)
}

func (f *Files) WriteWeekly(isoWeek, content string) (string, error) {
	path := f.WeeklyPath(isoWeek)
	return path, writeAtomic(path, content)
}

func (f *Files) AppendHeartbeatLog(line string) error {
	fh, err := os.OpenFile(f.HeartbeatLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fh.WriteString(line + "\n")
	return err
}

// JournalDates lists the date keys of all daily journal files, oldest first.
func (f *Files) JournalDates() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "journal"))
	if err != nil {
		return nil, err
	}

	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(name, ".md"))
	}
	sort.Strings(dates)
	return dates, nil
}

func (f *Files) ReadJournal(dateKey string) (string, error) {
	return readIfExists(f.JournalPath(dateKey))
}

func readIfExists(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeAtomic(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func safePath(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
