package reqlog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Index is a queryable SQLite projection of request/response log
// metadata, adapted from the audit trail's SQLite index to the
// route/method/branch/latency shape this logger produces.
type Index struct {
	db *sql.DB
}

func openIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening reqlog index %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			branch      TEXT NOT NULL DEFAULT '',
			path        TEXT NOT NULL DEFAULT '',
			method      TEXT NOT NULL DEFAULT '',
			latency_ms  REAL NOT NULL DEFAULT 0,
			redacted    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_branch ON requests(branch);
		CREATE INDEX IF NOT EXISTS idx_ts ON requests(ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating reqlog schema: %w", err)
	}

	return &Index{db: db}, nil
}

func (idx *Index) insert(snap Snapshot) error {
	redacted := 0
	if snap.Redacted {
		redacted = 1
	}
	_, err := idx.db.Exec(
		`INSERT INTO requests (ts, branch, path, method, latency_ms, redacted) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), snap.Branch, snap.Path, snap.Method, snap.LatencyMs, redacted,
	)
	return err
}

// QueryParams filters a Query call.
type QueryParams struct {
	Branch string
	Since  string
	Limit  int
}

// Record is one row from the index.
type Record struct {
	ID        int64
	Timestamp string
	Branch    string
	Path      string
	Method    string
	LatencyMs float64
	Redacted  bool
}

// Query retrieves records matching params, most recent first.
func (idx *Index) Query(params QueryParams) ([]Record, error) {
	query := "SELECT id, ts, branch, path, method, latency_ms, redacted FROM requests WHERE 1=1"
	var args []any

	if params.Branch != "" {
		query += " AND branch = ?"
		args = append(args, params.Branch)
	}
	if params.Since != "" {
		query += " AND ts >= ?"
		args = append(args, params.Since)
	}
	query += " ORDER BY id DESC"
	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reqlog index: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var redacted int
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Branch, &r.Path, &r.Method, &r.LatencyMs, &redacted); err != nil {
			return nil, fmt.Errorf("scanning reqlog row: %w", err)
		}
		r.Redacted = redacted == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

func (idx *Index) close() error {
	if err := idx.db.Close(); err != nil {
		slog.Warn("reqlog: closing index failed", "error", err)
		return err
	}
	return nil
}
