package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/warp/progress-ledger/generic"
)

func TestIsDataException(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid text representation", &pgconn.PgError{Code: "22P02"}, true},
		{"numeric out of range", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "22003"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, false},
		{"not a postgres error", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDataException(tt.err))
		})
	}
}

func TestIsDataException_NotRetryable(t *testing.T) {
	// The mapping used by Increment: data errors stay out of ErrStoreUnavailable.
	err := &pgconn.PgError{Code: "22P02"}
	wrapped := fmt.Errorf("increment users/u-1: field is not an integer: %w", err)

	assert.False(t, generic.IsRetryable(wrapped))
	assert.True(t, generic.IsRetryable(generic.Unavailable("increment", "users/u-1", errors.New("conn reset"))))
}
