// Package schedule owns the scheduled_jobs sibling table. The memory core
// never touches it; the external scheduler collaborator reads and writes
// jobs through this store while sharing the same database handle.
package schedule

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled prompt bound to a chat.
type Job struct {
	ID        int64
	ChatID    string
	Prompt    string     // what to ask the reasoning engine when the job fires
	Schedule  string     // cron expression "0 20 * * *"
	ExpiresAt *time.Time // auto-delete after this time (nil = never)
	NextRun   time.Time  // pre-computed next fire time
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

// cronParser is configured for standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const schema = `
CREATE TABLE IF NOT EXISTS scheduled_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL,
    prompt TEXT NOT NULL,
    schedule TEXT NOT NULL,
    expires_at TEXT,
    next_run TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_next_run ON scheduled_jobs(next_run);
CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_chat ON scheduled_jobs(chat_id);
`

// NewStore creates the job store on an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Create(chatID, prompt, schedule string, expiresAt *time.Time) (*Job, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule: %w", err)
	}

	now := time.Now().UTC()
	nextRun := sched.Next(now)

	var expires *string
	if expiresAt != nil {
		v := expiresAt.UTC().Format(time.RFC3339)
		expires = &v
	}

	result, err := s.db.Exec(`
		INSERT INTO scheduled_jobs (chat_id, prompt, schedule, expires_at, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		chatID, prompt, schedule, expires,
		nextRun.UTC().Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Job{
		ID:        id,
		ChatID:    chatID,
		Prompt:    prompt,
		Schedule:  schedule,
		ExpiresAt: expiresAt,
		NextRun:   nextRun,
		CreatedAt: now,
	}, nil
}

// Due returns all jobs that should fire now and are not expired.
func (s *Store) Due() ([]Job, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.Query(`
		SELECT id, chat_id, prompt, schedule, expires_at, next_run, created_at
		FROM scheduled_jobs
		WHERE next_run <= ?
		AND (expires_at IS NULL OR expires_at > ?)`,
		now, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (s *Store) ByChat(chatID string) ([]Job, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.Query(`
		SELECT id, chat_id, prompt, schedule, expires_at, next_run, created_at
		FROM scheduled_jobs
		WHERE chat_id = ?
		AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY next_run ASC`,
		chatID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Advance recomputes and stores the next fire time after a job runs.
func (s *Store) Advance(job *Job) error {
	sched, err := cronParser.Parse(job.Schedule)
	if err != nil {
		return err
	}
	next := sched.Next(time.Now().UTC())
	_, err = s.db.Exec("UPDATE scheduled_jobs SET next_run = ? WHERE id = ?",
		next.UTC().Format(time.RFC3339), job.ID)
	if err == nil {
		job.NextRun = next
	}
	return err
}

func (s *Store) Delete(id int64) error {
	_, err := s.db.Exec("DELETE FROM scheduled_jobs WHERE id = ?", id)
	return err
}

// DeleteExpired removes all jobs past their expiry date.
func (s *Store) DeleteExpired() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(
		"DELETE FROM scheduled_jobs WHERE expires_at IS NOT NULL AND expires_at <= ?", now)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		var j Job
		var expiresAt *string
		var nextRun, createdAt string
		if err := rows.Scan(&j.ID, &j.ChatID, &j.Prompt, &j.Schedule, &expiresAt, &nextRun, &createdAt); err != nil {
			return nil, err
		}
		if expiresAt != nil {
			t, _ := time.Parse(time.RFC3339, *expiresAt)
			j.ExpiresAt = &t
		}
		j.NextRun, _ = time.Parse(time.RFC3339, nextRun)
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ComputeNextRun calculates the next run time from a cron schedule.
func ComputeNextRun(schedule string) (time.Time, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(time.Now().UTC()), nil
}
