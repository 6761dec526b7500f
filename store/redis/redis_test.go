package redis_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/generic/store/storetest"
	"github.com/warp/progress-ledger/store/redis"
)

// Runs against a real server:
//
//	LEDGER_TEST_REDIS_ADDR=localhost:6379
func TestRedisConformance(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGER_TEST_REDIS_ADDR not set")
	}

	n := 0
	storetest.Run(t, func(t *testing.T) generic.ReadableStore {
		n++
		s, err := redis.New(redis.Options{
			Addr:   addr,
			Prefix: fmt.Sprintf("ledger-test:%d:%d:", time.Now().UnixNano(), n),
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.Flush(context.Background())
			s.Close()
		})
		return s
	})
}
