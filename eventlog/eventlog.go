/*
eventlog.go - Append-only audit trail of XP-affecting events

PURPOSE:
  Every XP credit the ledger makes is mirrored by exactly one entry in
  users/{uid}/events with the same amount and cause. Summing the log
  reconstructs the XP total, which is how the two are reconciled.

WRITE SEMANTICS:
  Appends are best-effort. A failed append never rolls back the reward that
  caused it: the error is logged, the entry is handed to the Retrier (when
  one is attached) with its pre-assigned id, and ErrEventLogWrite is
  returned so the orchestrator can surface it as a warning.

  The id is assigned before the first attempt, so a retried entry that did
  reach the store the first time is rejected as ErrAlreadyExists rather
  than written twice.

SEE ALSO:
  - retrier.go: Background re-delivery of failed appends
  - rewards/orchestrator.go: The only writer
*/
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/logging"
)

// Type is the cause of an event.
type Type string

const (
	ScreenOpenFirst     Type = "screen_open_first"
	ScreenOpenRepeat    Type = "screen_open_repeat"
	ScreenSuccess       Type = "screen_success"
	AchievementUnlocked Type = "achievement_unlocked"
)

// Entry is one immutable line of the log.
type Entry struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Amount     int64          `json:"amount"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Log appends entries to the per-user events collection.
type Log struct {
	Store   generic.Store
	Clock   generic.Clock
	Logger  *logging.Logger
	Retrier *Retrier // optional
}

func New(store generic.Store, clock generic.Clock, logger *logging.Logger) *Log {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Log{Store: store, Clock: clock, Logger: logger}
}

// Append writes one entry. The returned Entry carries the assigned id even
// when the write failed.
func (l *Log) Append(ctx context.Context, uid generic.UserID, typ Type, amount int64, meta map[string]any) (Entry, error) {
	if !uid.Valid() {
		return Entry{}, generic.ErrUnauthenticated
	}
	e := Entry{
		ID:         uuid.NewString(),
		Type:       typ,
		Amount:     amount,
		Meta:       meta,
		OccurredAt: l.Clock.Now(),
	}

	doc, err := generic.Encode(e)
	if err != nil {
		return e, fmt.Errorf("%w: %w", generic.ErrEventLogWrite, err)
	}

	if _, err := l.Store.Append(ctx, generic.EventsCollection(uid), e.ID, doc); err != nil {
		if errors.Is(err, generic.ErrAlreadyExists) {
			return e, nil
		}
		l.Logger.Warn("event log append failed",
			"user_id", uid, "event_id", e.ID, "type", typ, "amount", amount, "error", err)
		if l.Retrier != nil {
			l.Retrier.Enqueue(uid, e.ID, doc)
		}
		return e, fmt.Errorf("%w: %w", generic.ErrEventLogWrite, err)
	}
	return e, nil
}

// List returns a user's entries in append order. The store must implement
// generic.CollectionReader.
func (l *Log) List(ctx context.Context, uid generic.UserID) ([]Entry, error) {
	if !uid.Valid() {
		return nil, generic.ErrUnauthenticated
	}
	reader, ok := l.Store.(generic.CollectionReader)
	if !ok {
		return nil, fmt.Errorf("event log: store %T cannot list collections", l.Store)
	}

	docs, err := reader.List(ctx, generic.EventsCollection(uid))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		var e Entry
		if err := generic.Decode(doc, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Total sums the amounts of entries. For a healthy log it equals the
// account's points.
func Total(entries []Entry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}
