/*
Package storetest is the conformance suite every generic.Store backend runs.

PURPOSE:
  The ledger's at-most-once guarantee rests entirely on the store keeping
  its contract: CreateIfAbsent has exactly one winner, Increment never
  loses an update, Append ids are unique. Instead of testing each backend
  ad hoc, every backend calls Run with a constructor and gets the same
  checks, including the concurrent ones.

USAGE:
  func TestSQLiteConformance(t *testing.T) {
      storetest.Run(t, func(t *testing.T) generic.ReadableStore {
          s, err := sqlite.New(":memory:")
          require.NoError(t, err)
          t.Cleanup(func() { s.Close() })
          return s
      })
  }

SEE ALSO:
  - faulty.go: Fault injection wrapper for component tests
  - generic/store.go: The contract under test
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/progress-ledger/generic"
	"golang.org/x/sync/errgroup"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) generic.ReadableStore

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("CreateThenGet", func(t *testing.T) { testCreateThenGet(t, newStore(t)) })
	t.Run("CreateTwice", func(t *testing.T) { testCreateTwice(t, newStore(t)) })
	t.Run("UpdateFields", func(t *testing.T) { testUpdateFields(t, newStore(t)) })
	t.Run("Increment", func(t *testing.T) { testIncrement(t, newStore(t)) })
	t.Run("AppendAndList", func(t *testing.T) { testAppendAndList(t, newStore(t)) })
	t.Run("AppendDuplicateID", func(t *testing.T) { testAppendDuplicateID(t, newStore(t)) })
	t.Run("ConcurrentCreateHasOneWinner", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("ConcurrentIncrementLosesNothing", func(t *testing.T) { testConcurrentIncrement(t, newStore(t)) })
	t.Run("KeysArePartitioned", func(t *testing.T) { testPartitioned(t, newStore(t)) })
}

func doc(t *testing.T, kv map[string]any) generic.Fields {
	t.Helper()
	f, err := generic.Encode(kv)
	require.NoError(t, err)
	return f
}

func testGetMissing(t *testing.T, s generic.ReadableStore) {
	_, err := s.Get(context.Background(), "users/nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func testCreateThenGet(t *testing.T, s generic.ReadableStore) {
	ctx := context.Background()
	key := generic.ProgressKey("u-1", "B4_De")

	require.NoError(t, s.CreateIfAbsent(ctx, key, doc(t, map[string]any{"screenKey": "B4_De", "visits": 1})))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	var out struct {
		ScreenKey string `json:"screenKey"`
		Visits    int64  `json:"visits"`
	}
	require.NoError(t, generic.Decode(got, &out))
	assert.Equal(t, "B4_De", out.ScreenKey)
	assert.Equal(t, int64(1), out.Visits)
}

func testCreateTwice(t *testing.T, s generic.ReadableStore) {
	ctx := context.Background()
	key := generic.AchievementKey("u-1", "n5_explorador")

	require.NoError(t, s.CreateIfAbsent(ctx, key, doc(t, map[string]any{"sub": "first"})))
	err := s.CreateIfAbsent(ctx, key, doc(t, map[string]any{"sub": "second"}))
	assert.ErrorIs(t, err, generic.ErrAlreadyExists)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `"first"`, string(got["sub"]), "losing create must not overwrite")
}

func testUpdateFields(t *testing.T, s generic.ReadableStore) {
	ctx := context.Background()
	key := generic.ProgressKey("u-1", "B4_Mo")

	err := s.UpdateFields(ctx, key, doc(t, map[string]any{"a": 1}))
	assert.ErrorIs(t, err, generic.ErrNotFound)

	require.NoError(t, s.CreateIfAbsent(ctx, key, doc(t, map[string]any{"a": 1, "b": "keep"})))
	require.NoError(t, s.UpdateFields(ctx, key, doc(t, map[string]any{"a": 2, "c": true})))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `2`, string(got["a"]))
	assert.JSONEq(t, `"keep"`, string(got["b"]))
	assert.JSONEq(t, `true`, string(got["c"]))
}

func testIncrement(t *testing.T, s generic.ReadableStore) {
	ctx := context.Background()
	key := generic.UserKey("u-1")

	err := s.Increment(ctx, key, map[string]int64{"points": 5}, nil)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	require.NoError(t, s.CreateIfAbsent(ctx, key, doc(t, map[string]any{"points": 10})))
	require.NoError(t, s.Increment(ctx, key,
		map[string]int64{"points": 5, "periodProgress": 5},
		doc(t, map[string]any{"lastActiveAt": "2025-03-10T00:00:00Z"}),
	))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	points, err := got.Int("points")
	require.NoError(t, err)
	period, err := got.Int("periodProgress")
	require.NoError(t, err)
	assert.Equal(t, int64(15), points)
	assert.Equal(t, int64(5), period, "missing counter starts at zero")
	assert.JSONEq(t, `"2025-03-10T00:00:00Z"`, string(got["lastActiveAt"]))
}

func testAppendAndList(t *testing.T, s generic.ReadableStore) {
	ctx := context.Background()
	coll := generic.EventsCollection("u-1")

	empty, err := s.List(ctx, coll)
	require.NoError(t, err)
	assert.Empty(t, empty)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Append(ctx, coll, "", doc(t, map[string]any{"seq": i}))
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}
	assert.Len(t, uniq(ids), 3, "generated ids are unique")

	got, err := s.List(ctx, coll)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, f := range got {
		n, err := f.Int("seq")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n, "insertion order")
	}
}

func testAppendDuplicateID(t *testing.T, s generic.ReadableStore) {
	ctx := context.Background()
	coll := generic.EventsCollection("u-1")

	id, err := s.Append(ctx, coll, "evt-1", doc(t, map[string]any{"amount": 10}))
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)

	_, err = s.Append(ctx, coll, "evt-1", doc(t, map[string]any{"amount": 10}))
	assert.ErrorIs(t, err, generic.ErrAlreadyExists)

	got, err := s.List(ctx, coll)
	require.NoError(t, err)
	assert.Len(t, got, 1, "a retried append is not duplicated")
}

func testConcurrentCreate(t *testing.T, s generic.ReadableStore) {
	// GIVEN: 32 callers racing to create the same achievement
	// THEN: Exactly one wins, all others see ErrAlreadyExists

	ctx := context.Background()
	key := generic.AchievementKey("u-1", "adj_i_na_basico")

	var winners, losers atomic.Int32
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		i := i
		g.Go(func() error {
			err := s.CreateIfAbsent(ctx, key, doc(t, map[string]any{"caller": i}))
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, generic.ErrAlreadyExists):
				losers.Add(1)
			default:
				return fmt.Errorf("caller %d: %w", i, err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(31), losers.Load())
}

func testConcurrentIncrement(t *testing.T, s generic.ReadableStore) {
	ctx := context.Background()
	key := generic.UserKey("u-1")
	require.NoError(t, s.CreateIfAbsent(ctx, key, doc(t, map[string]any{"points": 0})))

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			return s.Increment(ctx, key, map[string]int64{"points": 2}, nil)
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	points, err := got.Int("points")
	require.NoError(t, err)
	assert.Equal(t, int64(100), points)
}

func testPartitioned(t *testing.T, s generic.ReadableStore) {
	ctx := context.Background()

	require.NoError(t, s.CreateIfAbsent(ctx, generic.AchievementKey("u-1", "a"), doc(t, map[string]any{})))
	require.NoError(t, s.CreateIfAbsent(ctx, generic.AchievementKey("u-2", "a"), doc(t, map[string]any{})),
		"same achievement for another user is independent")

	_, err := s.Append(ctx, generic.EventsCollection("u-1"), "", doc(t, map[string]any{"n": 1}))
	require.NoError(t, err)
	other, err := s.List(ctx, generic.EventsCollection("u-2"))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func uniq(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
