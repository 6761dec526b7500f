package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_RedactsSecrets(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.Info("auth", "Authorization", "Bearer abc", "user_id", "u-1", "db_password", "hunter2")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["Authorization"])
	assert.Equal(t, "[REDACTED]", fields["db_password"])
	assert.Equal(t, "u-1", fields["user_id"])
}

func TestLogger_RedactsJWTLookingValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	jwt := "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1LTEifQ.sig"
	log.With("raw", jwt).Warn("odd header")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "[REDACTED]", logs.All()[0].ContextMap()["raw"])
}

func TestLogger_NestedMapsAndOddKVs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.Debug("meta", "meta", map[string]interface{}{"api_token": "x", "screen": "N5_Intro"})

	require.Equal(t, 1, logs.Len())
	meta := logs.All()[0].ContextMap()["meta"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", meta["api_token"])
	assert.Equal(t, "N5_Intro", meta["screen"])

	assert.Equal(t, []interface{}{"a", 1, "dangling"}, sanitizeKVs([]interface{}{"a", 1, "dangling"}))
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "production"} {
		log, err := New(mode)
		require.NoError(t, err, mode)
		log.Info("hello")
	}
	NewNop().Error("discarded")
}
