package storetest

import (
	"context"
	"strings"
	"sync"

	"github.com/warp/progress-ledger/generic"
)

// Op names a store primitive for fault injection.
type Op string

const (
	OpGet       Op = "get"
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpIncrement Op = "increment"
	OpAppend    Op = "append"
	OpList      Op = "list"
)

// Faulty wraps a store and fails selected calls. Calls that are not failed
// pass through unchanged, so component tests can break exactly one step of
// an operation and check what was (not) written.
type Faulty struct {
	generic.ReadableStore

	mu    sync.Mutex
	rules []*rule
	calls map[Op]int
}

type rule struct {
	op        Op
	match     string // substring of the key; empty matches every key
	err       error
	remaining int // < 0 means forever
}

func NewFaulty(inner generic.ReadableStore) *Faulty {
	return &Faulty{ReadableStore: inner, calls: make(map[Op]int)}
}

// Fail makes every op on a key containing match return err until Heal.
func (f *Faulty) Fail(op Op, match string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{op: op, match: match, err: err, remaining: -1})
}

// FailOnce fails only the next matching call.
func (f *Faulty) FailOnce(op Op, match string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{op: op, match: match, err: err, remaining: 1})
}

// Heal removes every rule.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

// Calls returns how many times op was attempted, failed calls included.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) check(op Op, key generic.DocKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	for _, r := range f.rules {
		if r.op != op || r.remaining == 0 {
			continue
		}
		if r.match != "" && !strings.Contains(string(key), r.match) {
			continue
		}
		if r.remaining > 0 {
			r.remaining--
		}
		return generic.Unavailable(string(op), key, r.err)
	}
	return nil
}

func (f *Faulty) Get(ctx context.Context, key generic.DocKey) (generic.Fields, error) {
	if err := f.check(OpGet, key); err != nil {
		return nil, err
	}
	return f.ReadableStore.Get(ctx, key)
}

func (f *Faulty) CreateIfAbsent(ctx context.Context, key generic.DocKey, doc generic.Fields) error {
	if err := f.check(OpCreate, key); err != nil {
		return err
	}
	return f.ReadableStore.CreateIfAbsent(ctx, key, doc)
}

func (f *Faulty) UpdateFields(ctx context.Context, key generic.DocKey, set generic.Fields) error {
	if err := f.check(OpUpdate, key); err != nil {
		return err
	}
	return f.ReadableStore.UpdateFields(ctx, key, set)
}

func (f *Faulty) Increment(ctx context.Context, key generic.DocKey, deltas map[string]int64, set generic.Fields) error {
	if err := f.check(OpIncrement, key); err != nil {
		return err
	}
	return f.ReadableStore.Increment(ctx, key, deltas, set)
}

func (f *Faulty) Append(ctx context.Context, collection generic.DocKey, id string, doc generic.Fields) (string, error) {
	if err := f.check(OpAppend, collection); err != nil {
		return "", err
	}
	return f.ReadableStore.Append(ctx, collection, id, doc)
}

func (f *Faulty) List(ctx context.Context, collection generic.DocKey) ([]generic.Fields, error) {
	if err := f.check(OpList, collection); err != nil {
		return nil, err
	}
	return f.ReadableStore.List(ctx, collection)
}
