package achievements_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/progress-ledger/achievements"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/generic/store"
	"github.com/warp/progress-ledger/generic/store/storetest"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestGrant_FirstThenNoOp(t *testing.T) {
	clock := generic.NewManualClock(t0)
	reg := achievements.New(store.NewMemory(), clock)
	ctx := context.Background()

	first, err := reg.Grant(ctx, "u-1", "n5_explorador", achievements.Grant{XP: 20, Sub: "kanji"})
	require.NoError(t, err)
	assert.True(t, first)

	clock.Advance(time.Hour)
	first, err = reg.Grant(ctx, "u-1", "n5_explorador", achievements.Grant{XP: 99})
	require.NoError(t, err)
	assert.False(t, first)

	rec, err := reg.Get(ctx, "u-1", "n5_explorador")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.UnlockedAt.Equal(t0), "the first grant is never overwritten")
	assert.Equal(t, "kanji", rec.Sub)
	assert.Equal(t, int64(20), rec.XP)
}

func TestGet_AbsentIsNil(t *testing.T) {
	reg := achievements.New(store.NewMemory(), nil)

	rec, err := reg.Get(context.Background(), "u-1", "never")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGrant_NeverReads(t *testing.T) {
	faulty := storetest.NewFaulty(store.NewMemory())
	reg := achievements.New(faulty, nil)

	_, err := reg.Grant(context.Background(), "u-1", "a", achievements.Grant{})
	require.NoError(t, err)
	assert.Equal(t, 0, faulty.Calls(storetest.OpGet))
	assert.Equal(t, 1, faulty.Calls(storetest.OpCreate))
}

func TestGrant_Validation(t *testing.T) {
	reg := achievements.New(store.NewMemory(), nil)
	ctx := context.Background()

	_, err := reg.Grant(ctx, "", "a", achievements.Grant{})
	assert.ErrorIs(t, err, generic.ErrUnauthenticated)
	_, err = reg.Grant(ctx, "u-1", " ", achievements.Grant{})
	assert.ErrorIs(t, err, generic.ErrInvalidKey)
	_, err = reg.Grant(ctx, "u-1", "a", achievements.Grant{XP: -1})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestGrant_StoreUnavailable(t *testing.T) {
	faulty := storetest.NewFaulty(store.NewMemory())
	faulty.Fail(storetest.OpCreate, "", errors.New("down"))
	reg := achievements.New(faulty, nil)

	first, err := reg.Grant(context.Background(), "u-1", "a", achievements.Grant{})
	assert.False(t, first)
	assert.True(t, generic.IsRetryable(err))
}

func TestGrant_ConcurrentHasOneWinner(t *testing.T) {
	reg := achievements.New(store.NewMemory(), nil)
	ctx := context.Background()

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 30; i++ {
		g.Go(func() error {
			first, err := reg.Grant(ctx, "u-1", "streak_7", achievements.Grant{XP: 100})
			if first {
				wins.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
}
