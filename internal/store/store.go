package store

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// migration is one step in the versioned ledger. Each step is applied at
// most once, in order, inside its own transaction.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		// fact_key was added after the facts table first shipped: add the
		// column when missing, then backfill it from the triple columns.
		version: 1,
		apply: func(tx *sql.Tx) error {
			if !txColumnExists(tx, "facts", "fact_key") {
				if _, err := tx.Exec("ALTER TABLE facts ADD COLUMN fact_key TEXT NOT NULL DEFAULT ''"); err != nil {
					return err
				}
			}

			rows, err := tx.Query(`SELECT id, subject, predicate, object FROM facts WHERE fact_key = ''`)
			if err != nil {
				return err
			}

			type backfill struct {
				id  int64
				key string
			}
			var pending []backfill
			for rows.Next() {
				var id int64
				var subject, predicate, object string
				if err := rows.Scan(&id, &subject, &predicate, &object); err != nil {
					rows.Close()
					return err
				}
				pending = append(pending, backfill{id, FactKey(subject, predicate, object)})
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			for _, b := range pending {
				if _, err := tx.Exec("UPDATE facts SET fact_key = ? WHERE id = ?", b.key, b.id); err != nil {
					return err
				}
			}

			_, err = tx.Exec("CREATE INDEX IF NOT EXISTS idx_facts_key ON facts(chat_id, fact_key)")
			return err
		},
	},
}

func (s *Store) runMigrations() error {
	applied := make(map[int]bool)

	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}

		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.version, nowUTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func txColumnExists(tx *sql.Tx, table, column string) bool {
	rows, err := tx.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}
