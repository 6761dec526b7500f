package progress_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/generic/store"
	"github.com/warp/progress-ledger/generic/store/storetest"
	"github.com/warp/progress-ledger/progress"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*progress.Tracker, *storetest.Faulty, *generic.ManualClock) {
	t.Helper()
	clock := generic.NewManualClock(t0)
	faulty := storetest.NewFaulty(store.NewMemory())
	return progress.New(faulty, clock, nil), faulty, clock
}

// =============================================================================
// TOUCH
// =============================================================================

func TestTouch_FirstThenRepeat(t *testing.T) {
	tracker, _, clock := newTracker(t)
	ctx := context.Background()

	rec, first, err := tracker.Touch(ctx, "u-1", "N5_Intro")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, int64(1), rec.Visits)
	assert.True(t, rec.FirstOpenAt.Equal(t0))

	clock.Advance(time.Hour)
	rec, first, err = tracker.Touch(ctx, "u-1", "N5_Intro")
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, int64(2), rec.Visits)
	assert.True(t, rec.FirstOpenAt.Equal(t0))
	assert.True(t, rec.LastOpenAt.Equal(t0.Add(time.Hour)))
	assert.False(t, rec.Succeeded())
}

func TestTouch_Validation(t *testing.T) {
	tracker, faulty, _ := newTracker(t)
	ctx := context.Background()

	_, _, err := tracker.Touch(ctx, "", "N5_Intro")
	assert.ErrorIs(t, err, generic.ErrUnauthenticated)
	_, _, err = tracker.Touch(ctx, "u-1", "")
	assert.ErrorIs(t, err, generic.ErrInvalidKey)
	assert.Equal(t, 0, faulty.Calls(storetest.OpCreate))
}

func TestTouch_ConcurrentHasOneFirstOpen(t *testing.T) {
	// GIVEN: An unseen screen
	// WHEN: 25 callers touch it at once
	// THEN: Exactly one is first, visits equals 25,
	//       and firstOpenAt <= lastOpenAt

	tracker, _, clock := newTracker(t)
	clock.Step = time.Millisecond
	ctx := context.Background()

	var firsts atomic.Int32
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, first, err := tracker.Touch(ctx, "u-1", "Kanji_Quiz")
			if first {
				firsts.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), firsts.Load())
	rec, err := tracker.Get(ctx, "u-1", "Kanji_Quiz")
	require.NoError(t, err)
	assert.Equal(t, int64(25), rec.Visits)
	assert.False(t, rec.LastOpenAt.Before(rec.FirstOpenAt))
}

func TestTouch_StoreDownFailsWithoutWrites(t *testing.T) {
	tracker, faulty, _ := newTracker(t)
	faulty.Fail(storetest.OpCreate, "", errors.New("down"))

	_, _, err := tracker.Touch(context.Background(), "u-1", "N5_Intro")
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)

	faulty.Heal()
	_, err = tracker.Get(context.Background(), "u-1", "N5_Intro")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// MARK SUCCESS
// =============================================================================

func TestMarkSuccess_OnlyOnce(t *testing.T) {
	tracker, _, clock := newTracker(t)
	ctx := context.Background()

	_, _, err := tracker.Touch(ctx, "u-1", "N5_Quiz")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	rec, first, err := tracker.MarkSuccess(ctx, "u-1", "N5_Quiz")
	require.NoError(t, err)
	assert.True(t, first)
	require.NotNil(t, rec.SuccessAt)
	successAt := *rec.SuccessAt

	clock.Advance(time.Minute)
	rec, first, err = tracker.MarkSuccess(ctx, "u-1", "N5_Quiz")
	require.NoError(t, err)
	assert.False(t, first)
	require.NotNil(t, rec.SuccessAt)
	assert.True(t, rec.SuccessAt.Equal(successAt), "successAt never changes")
	assert.Equal(t, int64(1), rec.Visits)
}

func TestMarkSuccess_WithoutPriorEnterBackfills(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	rec, first, err := tracker.MarkSuccess(ctx, "u-1", "Direct_Quiz")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, int64(1), rec.Visits)
	assert.True(t, rec.Succeeded())
}

func TestMarkSuccess_ConcurrentHasOneWinner(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, first, err := tracker.MarkSuccess(ctx, "u-1", "N5_Quiz")
			if first {
				wins.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
}

func TestMarkSuccess_FailedCopyIsHiddenByMarker(t *testing.T) {
	// GIVEN: The successAt copy onto the progress record fails
	// WHEN: The screen is completed
	// THEN: The caller still wins and reads see successAt from the marker

	tracker, faulty, _ := newTracker(t)
	ctx := context.Background()
	faulty.Fail(storetest.OpUpdate, "", errors.New("timeout"))

	_, first, err := tracker.MarkSuccess(ctx, "u-1", "N5_Quiz")
	require.NoError(t, err)
	assert.True(t, first)

	rec, err := tracker.Get(ctx, "u-1", "N5_Quiz")
	require.NoError(t, err)
	assert.True(t, rec.Succeeded())
}

func TestMarkSuccess_MarkerWriteFailure(t *testing.T) {
	tracker, faulty, _ := newTracker(t)
	ctx := context.Background()
	faulty.Fail(storetest.OpCreate, "/success", errors.New("down"))

	_, first, err := tracker.MarkSuccess(ctx, "u-1", "N5_Quiz")
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	assert.False(t, first)

	faulty.Heal()
	_, first, err = tracker.MarkSuccess(ctx, "u-1", "N5_Quiz")
	require.NoError(t, err)
	assert.True(t, first, "a retry after the failure still gets the flip")
}

func TestKeysWithSlashesStayIsolated(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	_, _, err := tracker.Touch(ctx, "u-1", "lesson/success")
	require.NoError(t, err)

	_, err = tracker.Get(ctx, "u-1", "lesson")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	rec, err := tracker.Get(ctx, "u-1", "lesson/success")
	require.NoError(t, err)
	assert.False(t, rec.Succeeded())
}
