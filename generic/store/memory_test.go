package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/generic/store"
	"github.com/warp/progress-ledger/generic/store/storetest"
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) generic.ReadableStore {
		return store.NewMemory()
	})
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	// GIVEN: A stored document
	// WHEN: The caller mutates what Get returned
	// THEN: The stored document is unchanged

	m := store.NewMemory()
	ctx := context.Background()
	key := generic.UserKey("u-1")
	require.NoError(t, m.CreateIfAbsent(ctx, key, generic.MustEncode(map[string]any{"points": 1})))

	got, err := m.Get(ctx, key)
	require.NoError(t, err)
	require.NoError(t, got.Add("points", 100))

	again, err := m.Get(ctx, key)
	require.NoError(t, err)
	n, _ := again.Int("points")
	assert.Equal(t, int64(1), n)
}

func TestMemory_IncrementIsAllOrNothing(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	key := generic.UserKey("u-1")
	require.NoError(t, m.CreateIfAbsent(ctx, key, generic.MustEncode(map[string]any{"points": 1, "name": "x"})))

	err := m.Increment(ctx, key, map[string]int64{"points": 1, "name": 1}, nil)
	require.Error(t, err)

	got, _ := m.Get(ctx, key)
	n, _ := got.Int("points")
	assert.Equal(t, int64(1), n, "failed increment leaves the document untouched")
}

func TestMemory_CanceledContext(t *testing.T) {
	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.CreateIfAbsent(ctx, "users/u-1", generic.Fields{})
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	assert.Zero(t, m.Len(), "nothing written")
}

func TestFaulty_FailOnceThenPassThrough(t *testing.T) {
	f := storetest.NewFaulty(store.NewMemory())
	ctx := context.Background()
	f.FailOnce(storetest.OpCreate, "achievements", assert.AnError)

	err := f.CreateIfAbsent(ctx, generic.AchievementKey("u-1", "a"), generic.Fields{})
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)

	assert.NoError(t, f.CreateIfAbsent(ctx, generic.AchievementKey("u-1", "a"), generic.Fields{}))
	assert.Equal(t, 2, f.Calls(storetest.OpCreate))
}
