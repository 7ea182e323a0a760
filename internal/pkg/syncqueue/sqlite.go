package syncqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pending_changes (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	id   TEXT NOT NULL UNIQUE,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS failed_changes (
	id        TEXT PRIMARY KEY,
	data      TEXT NOT NULL,
	failed_at INTEGER NOT NULL
);`

// SQLiteStore is the default durable store used by mockupctl.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO pending_changes (id, data) VALUES (?, ?)`, c.ID, string(data))
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM pending_changes ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Change
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c Change
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode pending change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE pending_changes SET data = ? WHERE id = ?`, string(data), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChangeNotFound
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AddFailure(ctx context.Context, f Failure) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO failed_changes (id, data, failed_at) VALUES (?, ?, ?)`,
		f.Change.ID, string(data), f.FailedAt.UnixNano())
	return err
}

func (s *SQLiteStore) Failures(ctx context.Context) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM failed_changes ORDER BY failed_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Failure
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var f Failure
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode failed change: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DismissFailure(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM failed_changes WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
