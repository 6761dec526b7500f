package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/logging"
)

// Retrier re-delivers event log entries whose first append failed.
// Entries keep their original id, so a delivery that actually landed the
// first time is detected as ErrAlreadyExists and counted as done.
type Retrier struct {
	Store    generic.Store
	Logger   *logging.Logger
	Interval time.Duration
	MaxQueue int

	mu        sync.Mutex
	queue     []pending
	scheduler *gocron.Scheduler
}

type pending struct {
	uid      generic.UserID
	id       string
	doc      generic.Fields
	attempts int
}

func NewRetrier(store generic.Store, logger *logging.Logger, interval time.Duration, maxQueue int) *Retrier {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxQueue <= 0 {
		maxQueue = 1000
	}
	return &Retrier{Store: store, Logger: logger, Interval: interval, MaxQueue: maxQueue}
}

// Enqueue schedules an entry for re-delivery. It returns false when the
// queue is full and the entry was dropped.
func (r *Retrier) Enqueue(uid generic.UserID, id string, doc generic.Fields) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) >= r.MaxQueue {
		r.Logger.Error("event retry queue full, dropping entry",
			"user_id", uid, "event_id", id, "queue", len(r.queue))
		return false
	}
	r.queue = append(r.queue, pending{uid: uid, id: id, doc: doc.Clone()})
	return true
}

// Pending returns the number of queued entries.
func (r *Retrier) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Flush attempts every queued entry once and returns how many were
// delivered. Transient failures stay queued; anything else is dropped.
func (r *Retrier) Flush(ctx context.Context) int {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	delivered := 0
	var requeue []pending
	for _, p := range batch {
		_, err := r.Store.Append(ctx, generic.EventsCollection(p.uid), p.id, p.doc)
		switch {
		case err == nil, errors.Is(err, generic.ErrAlreadyExists):
			delivered++
		case generic.IsRetryable(err):
			p.attempts++
			requeue = append(requeue, p)
		default:
			r.Logger.Error("event retry failed permanently",
				"user_id", p.uid, "event_id", p.id, "error", err)
		}
	}

	if len(requeue) > 0 {
		r.mu.Lock()
		// Requeued entries go first so delivery order follows original order.
		merged := append(requeue, r.queue...)
		if len(merged) > r.MaxQueue {
			r.Logger.Error("event retry queue full, dropping entries", "dropped", len(merged)-r.MaxQueue)
			merged = merged[:r.MaxQueue]
		}
		r.queue = merged
		r.mu.Unlock()
	}

	if delivered > 0 || len(requeue) > 0 {
		r.Logger.Info("event retry pass", "delivered", delivered, "pending", len(requeue))
	}
	return delivered
}

// Start runs Flush every Interval until Stop.
func (r *Retrier) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(r.Interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.Interval)
		defer cancel()
		r.Flush(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule event retrier: %w", err)
	}
	s.StartAsync()
	r.scheduler = s

	r.Logger.Info("event retrier started", "interval", r.Interval.String(), "max_queue", r.MaxQueue)
	return nil
}

// Stop halts the schedule. Queued entries are kept.
func (r *Retrier) Stop() {
	r.mu.Lock()
	s := r.scheduler
	r.scheduler = nil
	r.mu.Unlock()

	if s != nil {
		s.Stop()
		r.Logger.Info("event retrier stopped", "pending", r.Pending())
	}
}
