// Package history persists executed cells in a SQLite database so a host
// restart does not lose what was run against the scope.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one executed cell.
type Entry struct {
	Session   string
	N         int
	Code      string
	Status    string
	Output    string
	CreatedAt time.Time
}

// Store records cells for one bridge session.
type Store struct {
	db      *sql.DB
	session string
	mu      sync.Mutex
	closed  bool
}

const schema = `
CREATE TABLE IF NOT EXISTS cells (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session TEXT NOT NULL,
	n INTEGER NOT NULL,
	code TEXT NOT NULL,
	status TEXT NOT NULL,
	output TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cells_session ON cells(session, n);
`

// Open opens (creating if needed) the database at path and starts a new
// session.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// One connection keeps :memory: databases shared across queries.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &Store{db: db, session: uuid.NewString()}, nil
}

// Session returns the id of the current session.
func (s *Store) Session() string {
	return s.session
}

// Record stores e under the current session. Session and CreatedAt are
// filled in when empty. Shell magics are redacted before they are written.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Session == "" {
		e.Session = s.session
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cells (session, n, code, status, output, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Session, e.N, RedactCell(e.Code), e.Status, e.Output, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record cell %d: %w", e.N, err)
	}
	return nil
}

// Recent returns up to limit cells of the current session, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session, n, code, status, output, created_at FROM cells
		 WHERE session = ? ORDER BY id DESC LIMIT ?`, s.session, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Session, &e.N, &e.Code, &e.Status, &e.Output, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
