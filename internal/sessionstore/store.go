// Package sessionstore journals in-flight broker upload sessions in an
// embedded SQLite database. The journal exists only for crash-safe
// compensation: a session is recorded when created and removed on any
// terminal state, so a restart can cancel sessions the process abandoned
// and broker-side slots never leak.
package sessionstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudferry/cloudferry/internal/cloudfile"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// Entry is one journaled in-flight session.
type Entry struct {
	SessionID string
	Provider  cloudfile.Provider
	FileID    string
	FileName  string
	CreatedAt time.Time
}

// Store is the SQLite-backed session journal. Use ":memory:" as the path in
// tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	putStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	listStmt   *sql.Stmt
}

// New opens the journal database at dbPath, applying pragmas and pending
// migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening session journal", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open sqlite: %w", err)
	}

	ctx := context.Background()

	if err := setPragmas(ctx, db); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("sessionstore: prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sessionstore: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	s.putStmt, err = s.db.PrepareContext(ctx,
		`INSERT OR REPLACE INTO sessions (session_id, provider, file_id, file_name, created_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	s.deleteStmt, err = s.db.PrepareContext(ctx, `DELETE FROM sessions WHERE session_id = ?`)
	if err != nil {
		return err
	}

	s.listStmt, err = s.db.PrepareContext(ctx,
		`SELECT session_id, provider, file_id, file_name, created_at FROM sessions ORDER BY created_at`)

	return err
}

// Put journals a newly created session.
func (s *Store) Put(ctx context.Context, e Entry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := s.putStmt.ExecContext(ctx,
		e.SessionID, string(e.Provider), e.FileID, e.FileName, createdAt.Unix()); err != nil {
		return fmt.Errorf("sessionstore: journaling session %s: %w", e.SessionID, err)
	}

	return nil
}

// Delete removes a session from the journal once it reaches a terminal
// state. Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, sessionID); err != nil {
		return fmt.Errorf("sessionstore: deleting session %s: %w", sessionID, err)
	}

	return nil
}

// List returns every journaled session, oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: listing sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e       Entry
			prov    string
			created int64
		)

		if err := rows.Scan(&e.SessionID, &prov, &e.FileID, &e.FileName, &created); err != nil {
			return nil, fmt.Errorf("sessionstore: scanning session row: %w", err)
		}

		e.Provider = cloudfile.Provider(prov)
		e.CreatedAt = time.Unix(created, 0)

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionstore: iterating session rows: %w", err)
	}

	return entries, nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.putStmt, s.deleteStmt, s.listStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sessionstore: closing database: %w", err)
	}

	return nil
}
