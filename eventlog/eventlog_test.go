package eventlog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-ledger/eventlog"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/generic/store"
	"github.com/warp/progress-ledger/generic/store/storetest"
	"github.com/warp/progress-ledger/logging"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newLog(t *testing.T) (*eventlog.Log, *storetest.Faulty) {
	t.Helper()
	faulty := storetest.NewFaulty(store.NewMemory())
	return eventlog.New(faulty, generic.NewManualClock(t0), logging.NewNop()), faulty
}

func TestAppend_WritesEntryInOrder(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()

	first, err := log.Append(ctx, "u-1", eventlog.ScreenOpenFirst, 10, map[string]any{"screen": "N5_Intro"})
	require.NoError(t, err)
	_, err = log.Append(ctx, "u-1", eventlog.ScreenSuccess, 50, nil)
	require.NoError(t, err)

	entries, err := log.List(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, eventlog.ScreenOpenFirst, entries[0].Type)
	assert.Equal(t, "N5_Intro", entries[0].Meta["screen"])
	assert.True(t, entries[0].OccurredAt.Equal(t0))
	assert.Equal(t, eventlog.ScreenSuccess, entries[1].Type)
	assert.Equal(t, int64(60), eventlog.Total(entries))
}

func TestAppend_IsPartitionedByUser(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, "u-1", eventlog.AchievementUnlocked, 0, nil)
	require.NoError(t, err)

	other, err := log.List(ctx, "u-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAppend_RejectsMissingUser(t *testing.T) {
	log, faulty := newLog(t)

	_, err := log.Append(context.Background(), "", eventlog.ScreenSuccess, 5, nil)
	assert.ErrorIs(t, err, generic.ErrUnauthenticated)
	assert.Equal(t, 0, faulty.Calls(storetest.OpAppend))
}

func TestAppend_FailureIsQueuedForRetry(t *testing.T) {
	// GIVEN: A store whose next append fails
	// WHEN: An event is appended
	// THEN: ErrEventLogWrite is returned and the entry waits in the retrier
	//       with its original id, and a flush delivers it exactly once

	log, faulty := newLog(t)
	log.Retrier = eventlog.NewRetrier(faulty, logging.NewNop(), time.Minute, 10)
	ctx := context.Background()

	faulty.FailOnce(storetest.OpAppend, "events", errors.New("connection reset"))
	e, err := log.Append(ctx, "u-1", eventlog.ScreenSuccess, 50, nil)
	require.ErrorIs(t, err, generic.ErrEventLogWrite)
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, 1, log.Retrier.Pending())

	assert.Equal(t, 1, log.Retrier.Flush(ctx))
	assert.Equal(t, 0, log.Retrier.Pending())
	assert.Equal(t, 0, log.Retrier.Flush(ctx))

	entries, err := log.List(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
	assert.Equal(t, int64(50), entries[0].Amount)
}

func TestAppend_FailureWithoutRetrierStillReports(t *testing.T) {
	log, faulty := newLog(t)
	faulty.Fail(storetest.OpAppend, "", errors.New("down"))

	_, err := log.Append(context.Background(), "u-1", eventlog.ScreenOpenRepeat, 1, nil)
	assert.ErrorIs(t, err, generic.ErrEventLogWrite)
}

type noListStore struct{ generic.Store }

func TestList_RequiresCollectionReader(t *testing.T) {
	log := eventlog.New(noListStore{store.NewMemory()}, nil, nil)
	_, err := log.List(context.Background(), "u-1")
	assert.Error(t, err)
}
