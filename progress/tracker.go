/*
tracker.go - Per-user, per-screen progress

PURPOSE:
  Records that a user has seen a screen (first open, visit count, last
  open) and whether they have succeeded on it. These two facts drive the
  Unseen -> Seen -> Succeeded state machine the orchestrator rewards.

STATE FLIPS:
  Unseen -> Seen       CreateIfAbsent(users/{uid}/progress/{screen})
  Seen   -> Succeeded  CreateIfAbsent(users/{uid}/progress/{screen}/success)

  Both flips are a single atomic create, so among any number of concurrent
  callers exactly one observes the flip. Nothing here reads a document to
  decide whether to write it.

  The success marker is the durable fact. successAt on the progress record
  is a denormalised copy written by the winner; Get merges the marker in,
  so a failed copy is invisible to readers.

SEE ALSO:
  - rewards/orchestrator.go: Turns flips into XP and events
  - generic/types.go: Key layout
*/
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/logging"
)

// Record is the users/{uid}/progress/{screenKey} document.
type Record struct {
	ScreenKey   string     `json:"screenKey"`
	FirstOpenAt time.Time  `json:"firstOpenAt"`
	Visits      int64      `json:"visits"`
	LastOpenAt  time.Time  `json:"lastOpenAt"`
	SuccessAt   *time.Time `json:"successAt,omitempty"`
}

// Succeeded reports whether the screen has been completed.
func (r Record) Succeeded() bool { return r.SuccessAt != nil }

type successMarker struct {
	SuccessAt time.Time `json:"successAt"`
}

// Tracker reads and flips screen progress.
type Tracker struct {
	Store  generic.Store
	Clock  generic.Clock
	Logger *logging.Logger
}

func New(store generic.Store, clock generic.Clock, logger *logging.Logger) *Tracker {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{Store: store, Clock: clock, Logger: logger}
}

// Touch records a visit. wasFirstOpen is true for exactly one caller per
// (user, screen), the one whose create made the record exist.
func (t *Tracker) Touch(ctx context.Context, uid generic.UserID, screenKey string) (Record, bool, error) {
	if err := validate(uid, screenKey); err != nil {
		return Record{}, false, err
	}
	key := generic.ProgressKey(uid, screenKey)

	now := t.Clock.Now()
	rec := Record{ScreenKey: screenKey, FirstOpenAt: now, Visits: 1, LastOpenAt: now}
	err := t.Store.CreateIfAbsent(ctx, key, generic.MustEncode(rec))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, generic.ErrAlreadyExists) {
		return Record{}, false, err
	}

	// Read the clock again: the winner's firstOpenAt was taken before its
	// create, which happened before ours failed.
	now = t.Clock.Now()
	err = t.Store.Increment(ctx, key,
		map[string]int64{"visits": 1},
		generic.MustEncode(map[string]any{"lastOpenAt": now}),
	)
	if err != nil {
		return Record{}, false, err
	}

	rec, err = t.Get(ctx, uid, screenKey)
	if err != nil {
		return Record{}, false, err
	}
	return rec, false, nil
}

// MarkSuccess flips the screen to Succeeded. wasFirstSuccess is true for
// exactly one caller per (user, screen). A screen completed without ever
// being entered gets a progress record with one visit.
func (t *Tracker) MarkSuccess(ctx context.Context, uid generic.UserID, screenKey string) (Record, bool, error) {
	if err := validate(uid, screenKey); err != nil {
		return Record{}, false, err
	}
	key := generic.ProgressKey(uid, screenKey)

	now := t.Clock.Now()
	backfill := Record{ScreenKey: screenKey, FirstOpenAt: now, Visits: 1, LastOpenAt: now}
	if err := t.Store.CreateIfAbsent(ctx, key, generic.MustEncode(backfill)); err != nil && !errors.Is(err, generic.ErrAlreadyExists) {
		return Record{}, false, err
	}

	err := t.Store.CreateIfAbsent(ctx, generic.SuccessMarkerKey(uid, screenKey), generic.MustEncode(successMarker{SuccessAt: now}))
	if errors.Is(err, generic.ErrAlreadyExists) {
		rec, err := t.Get(ctx, uid, screenKey)
		return rec, false, err
	}
	if err != nil {
		return Record{}, false, err
	}

	if err := t.Store.UpdateFields(ctx, key, generic.MustEncode(map[string]any{"successAt": now})); err != nil {
		t.Logger.Warn("successAt copy failed, marker is authoritative",
			"user_id", uid, "screen", screenKey, "error", err)
	}

	rec, err := t.Get(ctx, uid, screenKey)
	if err != nil {
		// The flip is committed; report it even if the read-back failed.
		t.Logger.Warn("progress read-back failed after success",
			"user_id", uid, "screen", screenKey, "error", err)
		return Record{ScreenKey: screenKey, SuccessAt: &now}, true, nil
	}
	return rec, true, nil
}

// Get returns the progress record with the success marker merged in.
// ErrNotFound means the screen is Unseen.
func (t *Tracker) Get(ctx context.Context, uid generic.UserID, screenKey string) (Record, error) {
	if err := validate(uid, screenKey); err != nil {
		return Record{}, err
	}

	doc, err := t.Store.Get(ctx, generic.ProgressKey(uid, screenKey))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := generic.Decode(doc, &rec); err != nil {
		return Record{}, err
	}
	if rec.SuccessAt != nil {
		return rec, nil
	}

	marker, err := t.Store.Get(ctx, generic.SuccessMarkerKey(uid, screenKey))
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return rec, nil
	case err != nil:
		return Record{}, err
	}
	var m successMarker
	if err := generic.Decode(marker, &m); err != nil {
		return Record{}, err
	}
	rec.SuccessAt = &m.SuccessAt
	return rec, nil
}

func validate(uid generic.UserID, screenKey string) error {
	if !uid.Valid() {
		return generic.ErrUnauthenticated
	}
	if screenKey == "" {
		return generic.ErrInvalidKey
	}
	return nil
}
