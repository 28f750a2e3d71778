// Package state persists review decisions in an embedded SQLite database:
// the ledger of kept items, the ordered staged-deletion list, and the
// history of commit attempts. The schema is versioned with goose migrations
// embedded in the binary.
package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/kleen-app/kleen/internal/review"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQL statements.
const (
	sqlKeptIDs = `SELECT id FROM kept_items ORDER BY kept_at, id`

	sqlIsKept = `SELECT EXISTS(SELECT 1 FROM kept_items WHERE id = ?)`

	sqlAddKept = `INSERT INTO kept_items (id, kept_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`

	sqlStagedIDs = `SELECT id FROM staged_items ORDER BY position`

	sqlStagedEntries = `SELECT id, staged_at FROM staged_items ORDER BY position`

	sqlPruneStaged = `DELETE FROM staged_items
		WHERE id NOT IN (SELECT value FROM json_each(?))`

	sqlUpsertStaged = `INSERT INTO staged_items (id, position, staged_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET position = excluded.position`

	sqlInsertCommit = `INSERT INTO commit_log
		(started_at, finished_at, item_count, byte_count, outcome, reason)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlRecentCommits = `SELECT id, started_at, finished_at, item_count, byte_count, outcome, reason
		FROM commit_log ORDER BY id DESC LIMIT ?`

	sqlCounts = `SELECT
		(SELECT COUNT(*) FROM kept_items),
		(SELECT COUNT(*) FROM staged_items),
		(SELECT COUNT(*) FROM commit_log WHERE outcome = 'succeeded')`
)

// Store is the SQLite-backed implementation of review.Store. It is the sole
// writer to its database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

var _ review.Store = (*Store)(nil)

// Open opens (or creates) the database at dbPath, applies pending
// migrations, and returns a ready Store. The database uses WAL mode with
// synchronous=FULL so that every acknowledged write survives a crash.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state database ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies all pending schema migrations to the database.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("state: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("state: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("state: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("state: closing database: %w", err)
	}

	return nil
}

// KeptIDs returns every id in the decision ledger.
func (s *Store) KeptIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, sqlKeptIDs, "kept ids")
}

// IsKept reports whether id is in the decision ledger.
func (s *Store) IsKept(ctx context.Context, id string) (bool, error) {
	var kept bool
	if err := s.db.QueryRowContext(ctx, sqlIsKept, id).Scan(&kept); err != nil {
		return false, fmt.Errorf("state: checking kept %s: %w", id, err)
	}

	return kept, nil
}

// AddKept inserts id into the decision ledger. Repeated inserts are no-ops.
func (s *Store) AddKept(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlAddKept, id, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("state: adding kept %s: %w", id, err)
	}

	return nil
}

// StagedIDs returns the staged-deletion list in order.
func (s *Store) StagedIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, sqlStagedIDs, "staged ids")
}

// StagedEntry is a persisted staged id with the time it was first staged.
type StagedEntry struct {
	ID       string
	StagedAt time.Time
}

// StagedEntries returns the staged-deletion list with staging times.
func (s *Store) StagedEntries(ctx context.Context) ([]StagedEntry, error) {
	rows, err := s.db.QueryContext(ctx, sqlStagedEntries)
	if err != nil {
		return nil, fmt.Errorf("state: querying staged entries: %w", err)
	}
	defer rows.Close()

	var entries []StagedEntry

	for rows.Next() {
		var (
			e     StagedEntry
			nanos int64
		)

		if err := rows.Scan(&e.ID, &nanos); err != nil {
			return nil, fmt.Errorf("state: scanning staged entry: %w", err)
		}

		e.StagedAt = time.Unix(0, nanos)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating staged entries: %w", err)
	}

	return entries, nil
}

// SaveStaged replaces the persisted staged-deletion list with ids, in one
// transaction. Ids already staged keep their original staging time.
func (s *Store) SaveStaged(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}

	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("state: encoding staged ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin save staged: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqlPruneStaged, string(encoded)); err != nil {
		return fmt.Errorf("state: pruning staged list: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, sqlUpsertStaged)
	if err != nil {
		return fmt.Errorf("state: preparing staged upsert: %w", err)
	}
	defer stmt.Close()

	now := s.nowFunc().UnixNano()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, i, now); err != nil {
			return fmt.Errorf("state: saving staged %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit save staged: %w", err)
	}

	s.logger.Debug("staged list saved", slog.Int("count", len(ids)))

	return nil
}

// RecordCommit appends a commit attempt to the history.
func (s *Store) RecordCommit(ctx context.Context, rec review.CommitRecord) error {
	var reason sql.NullString
	if rec.Reason != "" {
		reason = sql.NullString{String: rec.Reason, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, sqlInsertCommit,
		rec.Started.UnixNano(), rec.Finished.UnixNano(),
		rec.Items, rec.Bytes, rec.Outcome, reason,
	)
	if err != nil {
		return fmt.Errorf("state: recording commit: %w", err)
	}

	return nil
}

// RecentCommits returns up to limit commit attempts, newest first.
func (s *Store) RecentCommits(ctx context.Context, limit int) ([]review.CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentCommits, limit)
	if err != nil {
		return nil, fmt.Errorf("state: querying commits: %w", err)
	}
	defer rows.Close()

	var out []review.CommitRecord

	for rows.Next() {
		var (
			rec               review.CommitRecord
			started, finished int64
			reason            sql.NullString
		)

		if err := rows.Scan(&rec.ID, &started, &finished, &rec.Items, &rec.Bytes, &rec.Outcome, &reason); err != nil {
			return nil, fmt.Errorf("state: scanning commit: %w", err)
		}

		rec.Started = time.Unix(0, started)
		rec.Finished = time.Unix(0, finished)
		rec.Reason = reason.String
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating commits: %w", err)
	}

	return out, nil
}

// Counts summarizes the ledger, the staged list, and successful commits.
type Counts struct {
	Kept    int `json:"kept"`
	Staged  int `json:"staged"`
	Commits int `json:"commits"`
}

// Counts returns row counts for status reporting.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.QueryRowContext(ctx, sqlCounts).Scan(&c.Kept, &c.Staged, &c.Commits); err != nil {
		return Counts{}, fmt.Errorf("state: counting rows: %w", err)
	}

	return c, nil
}

func (s *Store) queryIDs(ctx context.Context, query, what string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("state: querying %s: %w", what, err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("state: scanning %s: %w", what, err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating %s: %w", what, err)
	}

	return ids, nil
}
