package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/generic/store/storetest"
	"github.com/warp/progress-ledger/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) generic.ReadableStore {
		return newTestStore(t)
	})
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	// GIVEN: An achievement granted before a restart
	// WHEN: The database file is reopened
	// THEN: The grant is still there and still blocks a second create

	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	key := generic.AchievementKey("u-1", "n5_explorador")

	first, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, first.CreateIfAbsent(ctx, key, generic.MustEncode(map[string]any{"id": "n5_explorador"})))
	require.NoError(t, first.Close())

	second, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	err = second.CreateIfAbsent(ctx, key, generic.MustEncode(map[string]any{"id": "n5_explorador"}))
	assert.ErrorIs(t, err, generic.ErrAlreadyExists)
}

func TestSQLite_IncrementRejectsNonInteger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := generic.UserKey("u-1")
	require.NoError(t, store.CreateIfAbsent(ctx, key, generic.MustEncode(map[string]any{"points": "ten"})))

	err := store.Increment(ctx, key, map[string]int64{"points": 1}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, generic.ErrStoreUnavailable, "bad data is not a transient failure")
}

func TestSQLite_CanceledContextIsUnavailable(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, generic.UserKey("u-1"))
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
}
