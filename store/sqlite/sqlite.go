/*
Package sqlite provides a SQLite-backed implementation of generic.Store.

PURPOSE:
  Persists ledger documents in SQLite. Each document is one row holding
  its JSON body; each collection entry is one row in an append-only table.

INTERFACES IMPLEMENTED:
  generic.Store:            The five primitives
  generic.CollectionReader: Ordered collection listing

CREATE-IF-ABSENT ENFORCEMENT:
  documents.key is the PRIMARY KEY and collection_entries has
  UNIQUE(collection, id). A second insert fails with a constraint error,
  which is mapped to generic.ErrAlreadyExists. The database decides the
  winner, not a prior SELECT.

KEY TABLES:
  documents:          key -> JSON body (progress, achievements, accounts)
  collection_entries: append-only rows (event log), ordered by seq

CONCURRENCY:
  Uses sync.RWMutex plus a single open connection. Read-modify-write
  primitives (UpdateFields, Increment) run inside a SQL transaction while
  holding the write lock, which gives single-document atomicity.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: Same schema on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/warp/progress-ledger/generic"
)

// Store implements generic.ReadableStore using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

var _ generic.ReadableStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Documents (progress, achievements, XP accounts)
	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Collection entries (append-only event log)
	CREATE TABLE IF NOT EXISTS collection_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_collection_entries_collection
		ON collection_entries(collection, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DOCUMENT PRIMITIVES (generic.Store interface)
// =============================================================================

// Get returns a document.
func (s *Store) Get(ctx context.Context, key generic.DocKey) (generic.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE key = ?`, string(key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, generic.Unavailable("get", key, err)
	}
	return decodeBody(body)
}

// CreateIfAbsent inserts a document; the primary key rejects a second one.
func (s *Store) CreateIfAbsent(ctx context.Context, key generic.DocKey, doc generic.Fields) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (key, body, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		string(key), body, now, now,
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	return generic.Unavailable("create", key, err)
}

// UpdateFields merges fields into an existing document.
func (s *Store) UpdateFields(ctx context.Context, key generic.DocKey, set generic.Fields) error {
	return s.modify(ctx, "update", key, func(doc generic.Fields) error {
		doc.Merge(set)
		return nil
	})
}

// Increment adds deltas to integer fields and merges set, in one transaction.
func (s *Store) Increment(ctx context.Context, key generic.DocKey, deltas map[string]int64, set generic.Fields) error {
	return s.modify(ctx, "increment", key, func(doc generic.Fields) error {
		for field, delta := range deltas {
			if err := doc.Add(field, delta); err != nil {
				return err
			}
		}
		doc.Merge(set)
		return nil
	})
}

// modify runs a read-modify-write of one document under the write lock.
func (s *Store) modify(ctx context.Context, op string, key generic.DocKey, fn func(generic.Fields) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return generic.Unavailable(op, key, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var body string
	err = tx.GetContext(ctx, &body, `SELECT body FROM documents WHERE key = ?`, string(key))
	if errors.Is(err, sql.ErrNoRows) {
		return generic.ErrNotFound
	}
	if err != nil {
		return generic.Unavailable(op, key, err)
	}

	doc, err := decodeBody(body)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	next, err := encodeBody(doc)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET body = ?, updated_at = ? WHERE key = ?`,
		next, time.Now().UTC().Format(time.RFC3339Nano), string(key),
	)
	if err != nil {
		return generic.Unavailable(op, key, err)
	}
	return generic.Unavailable(op, key, tx.Commit())
}

// =============================================================================
// COLLECTIONS (event log)
// =============================================================================

// Append adds an entry; UNIQUE(collection, id) rejects a duplicate id.
func (s *Store) Append(ctx context.Context, collection generic.DocKey, id string, doc generic.Fields) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	body, err := encodeBody(doc)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collection_entries (collection, id, body, created_at) VALUES (?, ?, ?, ?)`,
		string(collection), id, body, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if isUniqueConstraintError(err) {
		return "", generic.ErrAlreadyExists
	}
	if err != nil {
		return "", generic.Unavailable("append", collection, err)
	}
	return id, nil
}

type entryRow struct {
	ID   string `db:"id"`
	Body string `db:"body"`
}

// List returns a collection in insertion order.
func (s *Store) List(ctx context.Context, collection generic.DocKey) ([]generic.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, body FROM collection_entries WHERE collection = ? ORDER BY seq ASC`,
		string(collection),
	)
	if err != nil {
		return nil, generic.Unavailable("list", collection, err)
	}

	result := make([]generic.Fields, 0, len(rows))
	for _, r := range rows {
		doc, err := decodeBody(r.Body)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", r.ID, err)
		}
		result = append(result, doc)
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func encodeBody(doc generic.Fields) (string, error) {
	if doc == nil {
		doc = generic.Fields{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(raw), nil
}

func decodeBody(body string) (generic.Fields, error) {
	doc := generic.Fields{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
