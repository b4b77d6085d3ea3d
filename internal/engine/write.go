package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/bridgemem/internal/logger"
	"github.com/bowerhall/bridgemem/internal/store"
)

const sessionSummaryMaxBytes = 16 * 1024

// RetainReflectIndex is the post-turn write pipeline: redact, persist the
// exchange, run the extraction heuristics, then refresh the file artifacts
// and the document index. File I/O failures abort and surface; individual
// extraction rules that match nothing are not errors.
func (e *Engine) RetainReflectIndex(ctx context.Context, in TurnInput) (*RetainResult, error) {
	// redaction runs first and unconditionally
	userText := Redact(in.UserText)
	assistantText := Redact(in.AssistantText)
	workingMemory := Redact(in.WorkingMemory)

	chat, err := e.store.EnsureChat(in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("ensure chat: %w", err)
	}

	exchange, err := e.store.AppendExchange(in.ChatID, chat.SessionNo, userText, assistantText)
	if err != nil {
		return nil, fmt.Errorf("append exchange: %w", err)
	}

	if err := e.store.IncrementTurnCount(in.ChatID, chat.SessionNo); err != nil {
		return nil, fmt.Errorf("increment turn count: %w", err)
	}

	dailyPath := e.files.JournalPath(exchange.DateKey)

	result := &RetainResult{DailyPath: dailyPath}

	// reflect: facts
	factCandidates := reflectFacts(userText, assistantText, e.cfg.MaxFactsPerTurn)
	keyFacts := make(map[string]string)
	for _, c := range factCandidates {
		fact, _, err := e.store.UpsertFact(store.FactInput{
			ChatID:        in.ChatID,
			Subject:       c.Subject,
			Predicate:     c.Predicate,
			Object:        c.Object,
			Confidence:    c.Confidence,
			Tags:          c.Tags,
			SourceFile:    dailyPath,
			SourceExcerpt: c.Excerpt,
		})
		if err != nil {
			return nil, fmt.Errorf("upsert fact: %w", err)
		}
		result.FactCount++
		keyFacts[fact.Subject+"|"+fact.Predicate] = fact.Object
	}

	// reflect: episode
	var episodeSummary string
	if ep := reflectEpisode(userText, assistantText); ep != nil {
		embedding, err := e.emb.Embed(ctx, ep.Summary)
		if err != nil {
			embedding = nil
		}
		if _, err := e.store.InsertEpisode(store.EpisodeInput{
			ChatID:     in.ChatID,
			Summary:    ep.Summary,
			Entities:   ep.Entities,
			Tags:       ep.Tags,
			Salience:   ep.Salience,
			SourceRefs: []string{dailyPath},
			Embedding:  embedding,
		}); err != nil {
			return nil, fmt.Errorf("insert episode: %w", err)
		}
		result.EpisodeCount++
		episodeSummary = ep.Summary
	}

	// reflect: open loops
	loopTexts := reflectOpenLoops(assistantText, e.cfg.MaxLoopsPerTurn)
	for _, text := range loopTexts {
		if _, err := e.store.UpsertOpenLoop(store.OpenLoopInput{
			ChatID:     in.ChatID,
			Text:       text,
			Confidence: 0.6,
		}); err != nil {
			return nil, fmt.Errorf("upsert open loop: %w", err)
		}
		result.OpenLoopCount++
	}

	// resolution scan
	if mentionsResolution(userText) {
		loops, err := e.store.OpenLoops(in.ChatID, "", 50)
		if err != nil {
			return nil, fmt.Errorf("list open loops: %w", err)
		}
		for _, l := range loops {
			if loopMatchesResolution(l.Text, userText) {
				if err := e.store.ResolveOpenLoop(l.ID); err != nil {
					return nil, fmt.Errorf("resolve open loop: %w", err)
				}
				logger.Info("open loop resolved", "chat", in.ChatID, "loop", l.Text)
			}
		}
	}

	// index: journal, session files, checkpoint, document re-index
	entry := journalEntry(chat.SessionNo, userText, assistantText, factCandidates, episodeSummary, loopTexts, workingMemory)
	if _, err := e.files.AppendJournal(exchange.DateKey, entry); err != nil {
		return nil, fmt.Errorf("append journal: %w", err)
	}

	summaryLine := fmt.Sprintf("- [%s] turn: %s", exchange.CreatedAt.Format("15:04"), firstLine(userText, 120))
	if _, err := e.files.AppendSessionSummary(in.ChatID, chat.SessionNo, summaryLine, sessionSummaryMaxBytes); err != nil {
		return nil, fmt.Errorf("append session summary: %w", err)
	}

	if len(keyFacts) > 0 {
		if _, err := e.files.MergeKeyFacts(in.ChatID, chat.SessionNo, keyFacts); err != nil {
			return nil, fmt.Errorf("merge key facts: %w", err)
		}
	}

	turns, err := e.store.SessionTurnCount(in.ChatID, chat.SessionNo)
	if err != nil {
		return nil, err
	}
	if e.cfg.CheckpointEvery > 0 && turns > 0 && turns%e.cfg.CheckpointEvery == 0 {
		if err := e.appendCheckpoint(in.ChatID, chat.SessionNo); err != nil {
			return nil, fmt.Errorf("append checkpoint: %w", err)
		}
	}

	if err := e.reindexChatFiles(ctx, in.ChatID, chat.SessionNo, exchange.DateKey); err != nil {
		return nil, fmt.Errorf("reindex files: %w", err)
	}

	// curated refresh
	if err := e.RefreshCuratedFiles(ctx, in.ChatID); err != nil {
		return nil, fmt.Errorf("refresh curated: %w", err)
	}

	return result, nil
}

func journalEntry(sessionNo int, userText, assistantText string, facts []factCandidate, episode string, loops []string, workingMemory string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (session %d)\n", time.Now().UTC().Format("15:04:05"), sessionNo)
	fmt.Fprintf(&b, "- goal: %s\n", firstLine(userText, 160))
	fmt.Fprintf(&b, "- outcome: %s\n", firstLine(assistantText, 160))
	for _, f := range facts {
		fmt.Fprintf(&b, "- fact: %s %s %s\n", f.Subject, f.Predicate, f.Object)
	}
	if episode != "" {
		fmt.Fprintf(&b, "- episode: %s\n", episode)
	}
	for _, l := range loops {
		fmt.Fprintf(&b, "- loop: %s\n", l)
	}
	if workingMemory != "" {
		fmt.Fprintf(&b, "- working: %s\n", firstLine(workingMemory, 160))
	}
	return b.String()
}

// appendCheckpoint digests the last N exchanges into the session summary.
func (e *Engine) appendCheckpoint(chatID string, sessionNo int) error {
	n := e.cfg.CheckpointEvery
	exchanges, err := e.store.RecentExchanges(chatID, n, &sessionNo)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n### checkpoint %s\n", time.Now().UTC().Format(time.RFC3339))
	for i := len(exchanges) - 1; i >= 0; i-- {
		ex := exchanges[i]
		fmt.Fprintf(&b, "- user: %s\n", firstLine(ex.UserText, 100))
		fmt.Fprintf(&b, "  assistant: %s\n", firstLine(ex.AssistantText, 100))
	}

	_, err = e.files.AppendSessionSummary(chatID, sessionNo, b.String(), sessionSummaryMaxBytes)
	return err
}

// reindexChatFiles pushes the day's journal, the session files, and the
// canonical files back into the document index so they participate in
// retrieval.
func (e *Engine) reindexChatFiles(ctx context.Context, chatID string, sessionNo int, dateKey string) error {
	paths := append(e.files.CanonicalPaths(chatID, sessionNo), e.files.JournalPath(dateKey))
	for _, path := range paths {
		if err := e.indexFile(ctx, chatID, path); err != nil {
			return err
		}
	}
	return nil
}

const documentChunkSize = 1000

// indexFile chunks a file into the document index. Missing files are
// skipped, not errors.
func (e *Engine) indexFile(ctx context.Context, chatID, path string) error {
	content, err := readIfExists(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	for i, chunk := range chunkText(content, documentChunkSize) {
		embedding, err := e.emb.Embed(ctx, chunk)
		if err != nil {
			embedding = nil
		}
		if _, err := e.store.UpsertDocumentChunk(store.DocumentChunkInput{
			ChatID:     chatID,
			Path:       path,
			ChunkIndex: i,
			Text:       chunk,
			Embedding:  embedding,
		}); err != nil {
			return err
		}
	}
	return nil
}

// chunkText splits on paragraph boundaries, packing paragraphs into chunks
// of roughly maxLen characters.
func chunkText(content string, maxLen int) []string {
	paragraphs := strings.Split(content, "\n\n")
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, p := range paragraphs {
		if cur.Len() > 0 && cur.Len()+len(p) > maxLen {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		for cur.Len() > maxLen {
			s := cur.String()
			chunks = append(chunks, strings.TrimSpace(s[:maxLen]))
			cur.Reset()
			cur.WriteString(s[maxLen:])
		}
	}
	flush()
	return chunks
}

func firstLine(text string, maxLen int) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > maxLen {
		line = line[:maxLen]
	}
	return line
}
