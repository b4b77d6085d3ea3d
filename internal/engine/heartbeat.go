package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bowerhall/bridgemem/internal/logger"
)

const weeklyBulletsPerDay = 5

var errHeartbeatRunning = fmt.Errorf("heartbeat already running")

// RunHeartbeat is the periodic hygiene pass: journal compression, fact
// dedupe, and per-chat decay, contradiction scan, and curated refresh. It
// refuses to run concurrently with itself; it may run alongside turn
// processing for other chats.
func (e *Engine) RunHeartbeat(ctx context.Context) (*HeartbeatResult, error) {
	if !e.heartbeatRunning.CompareAndSwap(false, true) {
		return nil, errHeartbeatRunning
	}
	defer e.heartbeatRunning.Store(false)

	result := &HeartbeatResult{RunID: uuid.NewString()}

	weekly, err := e.compressJournals()
	if err != nil {
		return nil, fmt.Errorf("compress journals: %w", err)
	}
	result.WeeklyUpdated = weekly

	if removed, err := e.store.DedupeFacts(); err != nil {
		return nil, fmt.Errorf("dedupe facts: %w", err)
	} else if removed > 0 {
		logger.Info("duplicate facts repaired", "removed", removed)
	}

	chatIDs, err := e.store.ChatIDs()
	if err != nil {
		return nil, err
	}

	for _, chatID := range chatIDs {
		if _, err := e.store.DecayFactConfidence(chatID, e.cfg.DecayAfterDays, e.cfg.DecayStep); err != nil {
			return nil, fmt.Errorf("decay %s: %w", chatID, err)
		}

		contradictions, err := e.store.DetectContradictions(chatID, e.cfg.ConfidenceThreshold)
		if err != nil {
			return nil, fmt.Errorf("contradictions %s: %w", chatID, err)
		}
		result.ContradictionCount += len(contradictions)

		if err := e.RefreshCuratedFiles(ctx, chatID); err != nil {
			return nil, fmt.Errorf("curated %s: %w", chatID, err)
		}

		result.ChatCount++
	}

	line := fmt.Sprintf("%s run=%s weekly=%d contradictions=%d chats=%d",
		time.Now().UTC().Format(time.RFC3339), result.RunID,
		result.WeeklyUpdated, result.ContradictionCount, result.ChatCount)
	if err := e.files.AppendHeartbeatLog(line); err != nil {
		return nil, fmt.Errorf("heartbeat log: %w", err)
	}

	logger.Info("heartbeat complete",
		"run", result.RunID,
		"weekly", result.WeeklyUpdated,
		"contradictions", result.ContradictionCount,
		"chats", result.ChatCount)
	return result, nil
}

// compressJournals folds daily journals older than the configured age into
// weekly summary files, grouped by ISO week. Already-compressed weeks are
// overwritten, so repeated runs are idempotent. Returns the number of
// weekly files written.
func (e *Engine) compressJournals() (int, error) {
	dates, err := e.files.JournalDates()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -e.cfg.CompressAfterDays)

	byWeek := make(map[string][]string)
	for _, dateKey := range dates {
		day, err := time.Parse("2006-01-02", dateKey)
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		year, week := day.ISOWeek()
		isoWeek := fmt.Sprintf("%d-W%02d", year, week)
		byWeek[isoWeek] = append(byWeek[isoWeek], dateKey)
	}

	weeks := make([]string, 0, len(byWeek))
	for w := range byWeek {
		weeks = append(weeks, w)
	}
	sort.Strings(weeks)

	written := 0
	for _, isoWeek := range weeks {
		var b strings.Builder
		fmt.Fprintf(&b, "# Week %s\n", isoWeek)

		for _, dateKey := range byWeek[isoWeek] {
			content, err := e.files.ReadJournal(dateKey)
			if err != nil {
				return written, err
			}
			fmt.Fprintf(&b, "\n## %s\n", dateKey)
			for _, bullet := range journalHighlights(content, weeklyBulletsPerDay) {
				fmt.Fprintf(&b, "- %s\n", bullet)
			}
		}

		if _, err := e.files.WriteWeekly(isoWeek, b.String()); err != nil {
			return written, err
		}
		written++
	}

	return written, nil
}

func journalHighlights(content string, max int) []string {
	var bullets []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		bullets = append(bullets, strings.TrimPrefix(line, "- "))
		if len(bullets) >= max {
			break
		}
	}
	return bullets
}
