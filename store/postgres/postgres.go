// Package postgres implements generic.Store backed by PostgreSQL.
//
// Documents live in a JSONB column. Every primitive is a single statement, so
// row-level locking gives single-document atomicity without a process-wide
// mutex and several ledger instances can share one database:
//
//	CreateIfAbsent  INSERT ... ON CONFLICT (key) DO NOTHING
//	UpdateFields    UPDATE ... SET body = body || $set
//	Increment       UPDATE ... SET body = body || (computed counters) || $set
//	Append          INSERT ... ON CONFLICT (collection, id) DO NOTHING
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/warp/progress-ledger/generic"
)

// Store implements generic.ReadableStore backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ generic.ReadableStore = (*Store)(nil)

// Options configures the connection pool.
type Options struct {
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// New opens a PostgreSQL-backed store using the provided DSN and pool settings.
func New(dsn string, opts Options) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if opts.MaxOpen > 0 {
		db.SetMaxOpenConns(opts.MaxOpen)
	}
	if opts.MaxIdle > 0 {
		db.SetMaxIdleConns(opts.MaxIdle)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS ledger_documents (
	key TEXT PRIMARY KEY,
	body JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_collection_entries (
	seq BIGSERIAL PRIMARY KEY,
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	body JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_ledger_collection_entries_collection
	ON ledger_collection_entries(collection, seq);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Truncate removes every document. Used by integration tests.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE ledger_documents, ledger_collection_entries`)
	return err
}

func (s *Store) Get(ctx context.Context, key generic.DocKey) (generic.Fields, error) {
	var body []byte
	err := s.db.GetContext(ctx, &body, `SELECT body FROM ledger_documents WHERE key = $1`, string(key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, generic.Unavailable("get", key, err)
	}
	return decode(body)
}

func (s *Store) CreateIfAbsent(ctx context.Context, key generic.DocKey, doc generic.Fields) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_documents(key, body) VALUES($1, $2::jsonb)
ON CONFLICT (key) DO NOTHING`, string(key), body)
	if err != nil {
		return generic.Unavailable("create", key, err)
	}
	return alreadyExistsIfNoRows(res, "create", key)
}

func (s *Store) UpdateFields(ctx context.Context, key generic.DocKey, set generic.Fields) error {
	body, err := encode(set)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE ledger_documents SET body = body || $2::jsonb, updated_at = NOW()
WHERE key = $1`, string(key), body)
	if err != nil {
		return generic.Unavailable("update", key, err)
	}
	return notFoundIfNoRows(res, "update", key)
}

// Increment builds one jsonb_build_object with a computed value per counter,
// so all deltas and the set fields land in a single UPDATE.
func (s *Store) Increment(ctx context.Context, key generic.DocKey, deltas map[string]int64, set generic.Fields) error {
	body, err := encode(set)
	if err != nil {
		return err
	}

	fields := make([]string, 0, len(deltas))
	for f := range deltas {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	args := []any{string(key), body}
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		args = append(args, f, deltas[f])
		nameIdx, deltaIdx := len(args)-1, len(args)
		pairs = append(pairs, fmt.Sprintf(
			"$%d::text, COALESCE((body->>$%d::text)::bigint, 0) + $%d::bigint",
			nameIdx, nameIdx, deltaIdx,
		))
	}
	counters := "'{}'::jsonb"
	if len(pairs) > 0 {
		counters = "jsonb_build_object(" + strings.Join(pairs, ", ") + ")"
	}

	query := fmt.Sprintf(`
UPDATE ledger_documents SET body = body || %s || $2::jsonb, updated_at = NOW()
WHERE key = $1`, counters)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isDataException(err) {
			return fmt.Errorf("increment %s: field is not an integer: %w", key, err)
		}
		return generic.Unavailable("increment", key, err)
	}
	return notFoundIfNoRows(res, "increment", key)
}

func (s *Store) Append(ctx context.Context, collection generic.DocKey, id string, doc generic.Fields) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	body, err := encode(doc)
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_collection_entries(collection, id, body) VALUES($1, $2, $3::jsonb)
ON CONFLICT (collection, id) DO NOTHING`, string(collection), id, body)
	if err != nil {
		return "", generic.Unavailable("append", collection, err)
	}
	if err := alreadyExistsIfNoRows(res, "append", collection); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) List(ctx context.Context, collection generic.DocKey) ([]generic.Fields, error) {
	var bodies [][]byte
	err := s.db.SelectContext(ctx, &bodies, `
SELECT body FROM ledger_collection_entries
WHERE collection = $1
ORDER BY seq ASC`, string(collection))
	if err != nil {
		return nil, generic.Unavailable("list", collection, err)
	}
	out := make([]generic.Fields, 0, len(bodies))
	for _, b := range bodies {
		doc, err := decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func encode(doc generic.Fields) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func decode(body []byte) (generic.Fields, error) {
	doc := generic.Fields{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// isDataException reports SQLSTATE class 22 (e.g. 22P02 when a counter
// holds text that cannot be cast to bigint). Bad data is not transient.
func isDataException(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22")
}

func alreadyExistsIfNoRows(res sql.Result, op string, key generic.DocKey) error {
	n, err := res.RowsAffected()
	if err != nil {
		return generic.Unavailable(op, key, err)
	}
	if n == 0 {
		return generic.ErrAlreadyExists
	}
	return nil
}

func notFoundIfNoRows(res sql.Result, op string, key generic.DocKey) error {
	n, err := res.RowsAffected()
	if err != nil {
		return generic.Unavailable(op, key, err)
	}
	if n == 0 {
		return generic.ErrNotFound
	}
	return nil
}
