package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/acolita/blockterm/internal/ports"
)

// SQLiteStore persists history in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	limit int
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database. At most limit commands are kept.
func OpenSQLite(path string, limit int) (*SQLiteStore, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path, limit: limit}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command TEXT NOT NULL,
		exit_code INTEGER,
		dir TEXT,
		remote INTEGER,
		started_at TEXT,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS commands_command ON commands(command);`)
	if err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// AddCommand inserts rec and prunes rows beyond the configured limit.
func (s *SQLiteStore) AddCommand(ctx context.Context, rec ports.CommandRecord) error {
	cmd := strings.TrimSpace(rec.Command)
	if cmd == "" {
		return nil
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO commands
		(command, exit_code, dir, remote, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cmd,
		rec.ExitCode,
		rec.Dir,
		boolToInt(rec.Remote),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert command id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE id <= ?`, id-int64(s.limit)); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return nil
}

// Recent returns the last limit commands, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]string, error) {
	return s.query(ctx, `SELECT command FROM (
		SELECT id, command FROM commands ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`, sqlLimit(limit))
}

// Frequent returns distinct commands by use count, most recent first on ties.
func (s *SQLiteStore) Frequent(ctx context.Context, limit int) ([]string, error) {
	return s.query(ctx, `SELECT command FROM commands
		GROUP BY command
		ORDER BY COUNT(*) DESC, MAX(id) DESC
		LIMIT ?`, sqlLimit(limit))
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var cmd string
		if err := rows.Scan(&cmd); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ports.HistoryManager = (*SQLiteStore)(nil)
