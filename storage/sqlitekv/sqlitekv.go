// Package sqlitekv backs storage.Store with a single-table SQLite database
// on targets that have a filesystem (host and Linux builds).
package sqlitekv

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    ns    TEXT NOT NULL,
    key   TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (ns, key)
);`

type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitekv: schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ns, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE ns = ? AND key = ?`, ns, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlitekv: get %s/%s: %w", ns, key, err)
	}
	return v, true, nil
}

func (s *Store) Put(ns, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (ns, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (ns, key) DO UPDATE SET value = excluded.value`,
		ns, key, value)
	if err != nil {
		return fmt.Errorf("sqlitekv: put %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Store) Erase(ns string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE ns = ?`, ns); err != nil {
		return fmt.Errorf("sqlitekv: erase %s: %w", ns, err)
	}
	return nil
}
