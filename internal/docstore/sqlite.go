package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	perrors "github.com/newmanjulien/overbase/internal/errors"
)

// SQLiteStore persists documents as JSON rows in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
	hub    *hub
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "docstore.sqlite").Logger(),
		now:    time.Now,
	}
	s.hub = newHub(s.List, func() time.Time { return s.now() }, s.logger)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("Document store initialized")
	return s, nil
}

// DB returns the underlying database connection (for testing)
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Get(ctx context.Context, owner, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE owner_id = ? AND id = ?`, owner, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decode(body)
}

func (s *SQLiteStore) List(ctx context.Context, owner string) (map[string]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM documents WHERE owner_id = ? ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Document)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decode(body)
		if err != nil {
			s.logger.Warn().Err(err).Str("owner", owner).Str("id", id).Msg("Skipping undecodable document")
			continue
		}
		out[id] = doc
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Set(ctx context.Context, owner, id string, doc Document) error {
	now := s.now()
	resolved, err := resolve(doc, now)
	if err != nil {
		return err
	}
	body, err := encode(dropNils(resolved))
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (owner_id, id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		owner, id, body, now.UnixMilli(), now.UnixMilli(),
	)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}

	s.hub.notify(owner)
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, owner, id string, fields Document) error {
	now := s.now()
	resolved, err := resolve(fields, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	err = s.updateLocked(ctx, owner, id, resolved, now)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.notify(owner)
	return nil
}

func (s *SQLiteStore) updateLocked(ctx context.Context, owner, id string, fields Document, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE owner_id = ? AND id = ?`, owner, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return perrors.NotFound("document", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	current, err := decode(body)
	if err != nil {
		return err
	}
	merged, err := encode(merge(current, fields))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
		merged, now.UnixMilli(), owner, id,
	); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE owner_id = ? AND id = ?`, owner, id)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("document", id)
	}
	s.hub.notify(owner)
	return nil
}

func (s *SQLiteStore) Owners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM documents ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func (s *SQLiteStore) Subscribe(ctx context.Context, owner string, fn Listener) (Unsubscribe, error) {
	return s.hub.add(ctx, owner, fn), nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops subscriptions and closes the database connection.
func (s *SQLiteStore) Close() error {
	s.hub.closeAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
