package rewards

import (
	"context"
	"sync"

	"github.com/warp/progress-ledger/generic"
)

// Mount ties EnterScreen to a screen's mount lifecycle. The entry runs once
// in the background no matter how often Enter is called, so re-renders of
// the same mounted screen cannot count extra visits.
type Mount struct {
	o         *Orchestrator
	ctx       context.Context
	uid       generic.UserID
	screenKey string
	cfg       EnterConfig

	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

// MountScreen starts the entry for one mount. With no user or no screen key
// the mount completes immediately and writes nothing.
func (o *Orchestrator) MountScreen(ctx context.Context, uid generic.UserID, screenKey string, cfg EnterConfig) *Mount {
	m := &Mount{o: o, ctx: ctx, uid: uid, screenKey: screenKey, cfg: cfg, done: make(chan struct{})}
	m.Enter()
	return m
}

// Enter triggers the entry. Only the first call per Mount has an effect.
func (m *Mount) Enter() {
	m.once.Do(func() {
		if !m.uid.Valid() || m.screenKey == "" {
			close(m.done)
			return
		}
		go func() {
			defer close(m.done)
			m.result, m.err = m.o.EnterScreen(m.ctx, m.uid, m.screenKey, m.cfg)
			if m.err != nil {
				m.o.Logger.Warn("screen mount entry failed",
					"user_id", m.uid, "screen", m.screenKey, "error", m.err)
			}
		}()
	})
}

// Done is closed when the entry finished.
func (m *Mount) Done() <-chan struct{} { return m.done }

// Wait blocks until the entry finished and returns its outcome.
func (m *Mount) Wait() (Result, error) {
	<-m.done
	return m.result, m.err
}
