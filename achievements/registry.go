// Package achievements records named, permanent unlocks.
//
// An achievement is granted by creating users/{uid}/achievements/{id}. The
// document's existence is the only source of truth for "granted": it is
// never updated or deleted, and Grant never reads before it writes.
package achievements

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/warp/progress-ledger/generic"
)

// Record is the users/{uid}/achievements/{id} document.
type Record struct {
	ID         string         `json:"id"`
	UnlockedAt time.Time      `json:"unlockedAt"`
	Sub        string         `json:"sub,omitempty"`
	XP         int64          `json:"xp"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Grant describes what is being unlocked. XP is recorded on the document
// for auditing; crediting it is the orchestrator's job.
type Grant struct {
	XP   int64
	Sub  string
	Meta map[string]any
}

type Registry struct {
	Store generic.Store
	Clock generic.Clock
}

func New(store generic.Store, clock generic.Clock) *Registry {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Registry{Store: store, Clock: clock}
}

// Grant unlocks the achievement. wasFirstGrant is true for exactly one
// caller per (user, id); every later call is a successful no-op.
func (r *Registry) Grant(ctx context.Context, uid generic.UserID, id string, g Grant) (bool, error) {
	if err := validate(uid, id); err != nil {
		return false, err
	}
	if g.XP < 0 {
		return false, generic.ErrInvalidAmount
	}

	rec := Record{ID: id, UnlockedAt: r.Clock.Now(), Sub: g.Sub, XP: g.XP, Meta: g.Meta}
	doc, err := generic.Encode(rec)
	if err != nil {
		return false, err
	}

	err = r.Store.CreateIfAbsent(ctx, generic.AchievementKey(uid, id), doc)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, generic.ErrAlreadyExists):
		return false, nil
	default:
		return false, err
	}
}

// Get returns the unlock, or nil when the achievement is not granted.
func (r *Registry) Get(ctx context.Context, uid generic.UserID, id string) (*Record, error) {
	if err := validate(uid, id); err != nil {
		return nil, err
	}
	doc, err := r.Store.Get(ctx, generic.AchievementKey(uid, id))
	if errors.Is(err, generic.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := generic.Decode(doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func validate(uid generic.UserID, id string) error {
	if !uid.Valid() {
		return generic.ErrUnauthenticated
	}
	if strings.TrimSpace(id) == "" {
		return generic.ErrInvalidKey
	}
	return nil
}
