package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/progress-ledger/generic"
)

// =============================================================================
// KEY TESTS
// =============================================================================

func TestKeys_Layout(t *testing.T) {
	uid := generic.UserID("u-1")

	assert.Equal(t, generic.DocKey("users/u-1"), generic.UserKey(uid))
	assert.Equal(t, generic.DocKey("users/u-1/progress/B4_De"), generic.ProgressKey(uid, "B4_De"))
	assert.Equal(t, generic.DocKey("users/u-1/progress/B4_De/success"), generic.SuccessMarkerKey(uid, "B4_De"))
	assert.Equal(t, generic.DocKey("users/u-1/achievements/adj_i_na_basico"), generic.AchievementKey(uid, "adj_i_na_basico"))
	assert.Equal(t, generic.DocKey("users/u-1/events"), generic.EventsCollection(uid))
}

func TestKeys_SegmentsAreEscaped(t *testing.T) {
	// GIVEN: A screen key that looks like a nested path
	// THEN: It cannot collide with the success marker of another screen

	uid := generic.UserID("u-1")
	sneaky := generic.ProgressKey(uid, "B4_De/success")

	assert.NotEqual(t, generic.SuccessMarkerKey(uid, "B4_De"), sneaky)
	assert.Equal(t, generic.DocKey("users/u-1/progress/B4_De%2Fsuccess"), sneaky)
}

func TestUserID_Valid(t *testing.T) {
	assert.True(t, generic.UserID("abc").Valid())
	assert.False(t, generic.UserID("").Valid())
	assert.False(t, generic.UserID("   ").Valid())
}

// =============================================================================
// FIELDS TESTS
// =============================================================================

type sample struct {
	Name    string     `json:"name"`
	Count   int64      `json:"count"`
	When    time.Time  `json:"when"`
	Maybe   *time.Time `json:"maybe,omitempty"`
	Missing string     `json:"missing,omitempty"`
}

func TestFields_EncodeDecode(t *testing.T) {
	when := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	in := sample{Name: "x", Count: 3, When: when}

	f, err := generic.Encode(in)
	require.NoError(t, err)
	assert.Contains(t, f, "name")
	assert.NotContains(t, f, "maybe", "omitempty fields stay absent")

	var out sample
	require.NoError(t, generic.Decode(f, &out))
	assert.Equal(t, in, out)
}

func TestFields_AddAndInt(t *testing.T) {
	f := generic.MustEncode(map[string]any{"visits": 1})

	require.NoError(t, f.Add("visits", 2))
	require.NoError(t, f.Add("fresh", 5))

	n, err := f.Int("visits")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = f.Int("fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = f.Int("absent")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFields_AddRejectsNonInteger(t *testing.T) {
	f := generic.MustEncode(map[string]any{"name": "x"})
	assert.Error(t, f.Add("name", 1))
}

func TestFields_CloneIsDeep(t *testing.T) {
	f := generic.MustEncode(map[string]any{"visits": 1})
	c := f.Clone()
	require.NoError(t, c.Add("visits", 1))

	n, _ := f.Int("visits")
	assert.Equal(t, int64(1), n)
}

func TestFields_Has(t *testing.T) {
	f := generic.MustEncode(map[string]any{"a": 1, "b": nil})
	assert.True(t, f.Has("a"))
	assert.False(t, f.Has("b"))
	assert.False(t, f.Has("c"))
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestStoreError_MatchesBothSentinelAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := generic.Unavailable("get", "users/u-1", cause)

	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.True(t, generic.IsRetryable(err))
	assert.Nil(t, generic.Unavailable("get", "k", nil))
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, generic.IsClientError(generic.ErrInvalidAmount))
	assert.True(t, generic.IsClientError(generic.ErrUnauthenticated))
	assert.False(t, generic.IsClientError(generic.ErrStoreUnavailable))
	assert.True(t, generic.IsNotFound(generic.ErrNotFound))
}

func TestManualClock_Steps(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := generic.NewManualClock(start)
	c.Step = time.Second

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Now())
	c.Advance(time.Minute)
	assert.Equal(t, start.Add(2*time.Second+time.Minute), c.Now())
}
