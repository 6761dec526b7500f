package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/progress-ledger/generic"
)

type ctxKey int

const userIDKey ctxKey = iota

// Authenticator resolves the caller's user id. The ledger never issues
// tokens; it only verifies HS256 tokens from the identity provider and
// takes their subject as the user id.
type Authenticator struct {
	Secret []byte
	// Disabled accepts the X-User-ID header instead of a token. Development only.
	Disabled bool
}

// Middleware puts the resolved user id in the request context. Requests
// without credentials continue with no user and are rejected by the
// ledger with ErrUnauthenticated; a bad token is rejected here.
func (a Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := a.resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid credentials", err)
			return
		}
		if uid.Valid() {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, uid))
		}
		next.ServeHTTP(w, r)
	})
}

func (a Authenticator) resolve(r *http.Request) (generic.UserID, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return "", errors.New("authorization header must be a bearer token")
		}
		return a.ParseToken(strings.TrimSpace(token))
	}
	if a.Disabled {
		return generic.UserID(strings.TrimSpace(r.Header.Get("X-User-ID"))), nil
	}
	return "", nil
}

// ParseToken verifies an HS256 token and returns its subject.
func (a Authenticator) ParseToken(tokenString string) (generic.UserID, error) {
	if len(a.Secret) == 0 {
		return "", errors.New("token auth is not configured")
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("invalid or expired token")
	}
	return generic.UserID(claims.Subject), nil
}

// UserFromContext returns the caller resolved by the middleware, or "".
func UserFromContext(ctx context.Context) generic.UserID {
	uid, _ := ctx.Value(userIDKey).(generic.UserID)
	return uid
}
