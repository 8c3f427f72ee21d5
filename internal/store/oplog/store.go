// Package oplog keeps an append-only record of notable engine events
// (state transitions, retries, halts, operator actions) for later
// inspection over the HTTP API.
package oplog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is a single operation-log record.
type Entry struct {
	ID      int64  `json:"id"`
	TS      int64  `json:"ts"`
	Level   string `json:"level"`
	PairID  string `json:"pair_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Query filters List results.
type Query struct {
	PairID string
	Level  string
	Limit  int
	Offset int
}

// Store persists entries in a standalone SQLite file, kept separate
// from the trading state database so log volume never contends with
// fill writes.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("oplog: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS op_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			level TEXT NOT NULL,
			pair_id TEXT,
			code TEXT,
			message TEXT NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_op_log_ts_id ON op_log(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_op_log_pair_ts ON op_log(pair_id, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append writes one entry. Failures are returned, never fatal; callers
// log and move on.
func (s *Store) Append(ctx context.Context, level, pairID, code, message string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("oplog: store closed")
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO op_log (ts, level, pair_id, code, message) VALUES (?, ?, ?, ?, ?)`,
		time.Now().Unix(), level, pairID, code, message)
	return err
}

// List returns the newest entries matching the query, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("oplog: store closed")
	}

	var (
		conds []string
		args  []any
	)
	if q.PairID != "" {
		conds = append(conds, "pair_id = ?")
		args = append(args, q.PairID)
	}
	if q.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, q.Level)
	}
	query := `SELECT id, ts, level, pair_id, code, message FROM op_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var pairID, code sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Level, &pairID, &code, &e.Message); err != nil {
			return nil, err
		}
		e.PairID = pairID.String
		e.Code = code.String
		out = append(out, e)
	}
	return out, rows.Err()
}
