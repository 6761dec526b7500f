// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/progress-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every document in process memory. A single mutex makes each
// primitive atomic; it is the reference behaviour the conformance suite
// checks the other backends against.
type Memory struct {
	mu          sync.RWMutex
	docs        map[generic.DocKey]generic.Fields
	collections map[generic.DocKey][]string
}

func NewMemory() *Memory {
	return &Memory{
		docs:        make(map[generic.DocKey]generic.Fields),
		collections: make(map[generic.DocKey][]string),
	}
}

var _ generic.ReadableStore = (*Memory)(nil)

func (m *Memory) Get(ctx context.Context, key generic.DocKey) (generic.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, generic.Unavailable("get", key, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *Memory) CreateIfAbsent(ctx context.Context, key generic.DocKey, doc generic.Fields) error {
	if err := ctx.Err(); err != nil {
		return generic.Unavailable("create", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(key, doc)
}

func (m *Memory) createLocked(key generic.DocKey, doc generic.Fields) error {
	if _, ok := m.docs[key]; ok {
		return generic.ErrAlreadyExists
	}
	if doc == nil {
		doc = generic.Fields{}
	}
	m.docs[key] = doc.Clone()
	return nil
}

func (m *Memory) UpdateFields(ctx context.Context, key generic.DocKey, set generic.Fields) error {
	if err := ctx.Err(); err != nil {
		return generic.Unavailable("update", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return generic.ErrNotFound
	}
	doc.Merge(set)
	return nil
}

func (m *Memory) Increment(ctx context.Context, key generic.DocKey, deltas map[string]int64, set generic.Fields) error {
	if err := ctx.Err(); err != nil {
		return generic.Unavailable("increment", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return generic.ErrNotFound
	}

	// Apply to a copy first so a bad field leaves the document untouched
	next := doc.Clone()
	for field, delta := range deltas {
		if err := next.Add(field, delta); err != nil {
			return err
		}
	}
	next.Merge(set)
	m.docs[key] = next
	return nil
}

func (m *Memory) Append(ctx context.Context, collection generic.DocKey, id string, doc generic.Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", generic.Unavailable("append", collection, err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.createLocked(collection.Child(id), doc); err != nil {
		return "", err
	}
	m.collections[collection] = append(m.collections[collection], id)
	return id, nil
}

func (m *Memory) List(ctx context.Context, collection generic.DocKey) ([]generic.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, generic.Unavailable("list", collection, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.collections[collection]
	result := make([]generic.Fields, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.docs[collection.Child(id)].Clone())
	}
	return result, nil
}

// Len returns the number of stored documents, collection entries included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
