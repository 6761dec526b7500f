/*
store.go - Persistence contract for ledger documents

PURPOSE:
  Defines the interface between the ledger and the document database.
  The ledger is implementable against any store offering these five
  primitives with single-document atomicity.

KEY INTERFACES:
  Store:            The five primitives the ledger writes through
  CollectionReader: Read side of collections, for audit readers only

CREATE-IF-ABSENT IS THE ONLY STATE FLIP:
  Every "has this already happened" decision is a CreateIfAbsent call.
  Exactly one of N concurrent callers gets nil; all others get
  ErrAlreadyExists. There is no Exists() method on purpose: checking
  existence with a read and then writing lets two callers both observe
  "absent" before either writes.

SINGLE-DOCUMENT ATOMICITY:
  Increment adds every delta and merges every set field in one write.
  Nothing spans two documents.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for testing/dev
  - store/sqlite: SQLite (mattn/go-sqlite3)
  - store/postgres: PostgreSQL (pgx)
  - store/redis: Redis (go-redis, Lua scripts)

EXAMPLE:
  err := store.CreateIfAbsent(ctx, generic.AchievementKey(uid, id), doc)
  if errors.Is(err, generic.ErrAlreadyExists) {
      // Already granted, nothing to do
  }

SEE ALSO:
  - errors.go: ErrNotFound, ErrAlreadyExists, StoreError
  - generic/store/storetest: Conformance suite every backend passes
*/
package generic

import "context"

// =============================================================================
// STORE - The five primitives
// =============================================================================

// Store persists ledger documents.
type Store interface {
	// Get returns the document at key, or ErrNotFound.
	Get(ctx context.Context, key DocKey) (Fields, error)

	// CreateIfAbsent creates the document only if no document exists at key.
	// Returns ErrAlreadyExists (and writes nothing) otherwise.
	CreateIfAbsent(ctx context.Context, key DocKey, doc Fields) error

	// UpdateFields merges set into an existing document, or returns ErrNotFound.
	UpdateFields(ctx context.Context, key DocKey, set Fields) error

	// Increment atomically adds each delta to its integer field (missing
	// fields count as zero) and merges set in the same write.
	// Returns ErrNotFound if the document does not exist.
	Increment(ctx context.Context, key DocKey, deltas map[string]int64, set Fields) error

	// Append adds doc to the collection under id and returns the id.
	// An empty id is generated. Appending an id that already exists returns
	// ErrAlreadyExists, which makes retries of the same entry safe.
	Append(ctx context.Context, collection DocKey, id string, doc Fields) (string, error)
}

// CollectionReader lists a collection in insertion order.
// The ledger never reads its own event log; audit readers do.
type CollectionReader interface {
	List(ctx context.Context, collection DocKey) ([]Fields, error)
}

// ReadableStore is a Store that can also list collections.
// Every backend in this module implements it.
type ReadableStore interface {
	Store
	CollectionReader
}
