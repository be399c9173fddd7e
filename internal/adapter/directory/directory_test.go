package directory

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifyIdentity(t *testing.T) {
	d := New(Config{JWTSecret: testSecret}, testLogger())

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "id-alice",
		"name": "Alice",
		"role": "agent",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	identity, err := d.VerifyIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, "id-alice", identity.ID)
	assert.Equal(t, "Alice", identity.DisplayName)
	assert.Equal(t, "agent", identity.Role)
}

func TestVerifyIdentityNameDefaultsToSubject(t *testing.T) {
	d := New(Config{JWTSecret: testSecret}, testLogger())

	token := signToken(t, testSecret, jwt.MapClaims{"sub": "id-bob"})

	identity, err := d.VerifyIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, "id-bob", identity.DisplayName)
}

func TestVerifyIdentityRejections(t *testing.T) {
	d := New(Config{JWTSecret: testSecret}, testLogger())

	cases := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": signToken(t, "other-secret", jwt.MapClaims{"sub": "id-alice"}),
		"expired": signToken(t, testSecret, jwt.MapClaims{
			"sub": "id-alice",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}),
		"missing subject": signToken(t, testSecret, jwt.MapClaims{"name": "Alice"}),
	}
	for name, token := range cases {
		_, err := d.VerifyIdentity(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestActiveWithoutRemoteDirectory(t *testing.T) {
	d := New(Config{JWTSecret: testSecret}, testLogger())
	assert.True(t, d.IsIdentityActive(context.Background(), "anyone"))
}

func TestActiveLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/identities/id-alice/active":
			w.WriteHeader(http.StatusOK)
		case "/v1/identities/id-gone/active":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	d := New(Config{JWTSecret: testSecret, BaseURL: srv.URL}, testLogger())

	assert.True(t, d.IsIdentityActive(context.Background(), "id-alice"))
	assert.False(t, d.IsIdentityActive(context.Background(), "id-gone"))
}

func TestActiveLookupFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Config{JWTSecret: testSecret, BaseURL: srv.URL}, testLogger())
	assert.False(t, d.IsIdentityActive(context.Background(), "id-alice"),
		"a failing directory refuses admission")
}

func TestActiveLookupCached(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{JWTSecret: testSecret, BaseURL: srv.URL}, testLogger())

	for i := 0; i < 10; i++ {
		require.True(t, d.IsIdentityActive(context.Background(), "id-alice"))
	}
	assert.Equal(t, int64(1), hits.Load(), "repeat checks within the TTL hit the cache")
}
