// Package directory implements the identity collaborators the core depends
// on: bearer-token verification and the is-this-identity-still-active check.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/relaychat/chat-bridge-service/internal/domain/registry"
)

// ErrInvalidToken covers every verification failure; callers must not leak
// which part of the token was wrong.
var ErrInvalidToken = errors.New("directory: invalid token")

const activeCacheTTL = 30 * time.Second

type activeEntry struct {
	active    bool
	checkedAt time.Time
}

// Directory verifies bearer tokens locally and consults an optional remote
// directory service for identity liveness. Remote lookups are collapsed with
// singleflight and guarded by a circuit breaker; results are cached briefly
// so admission storms do not hammer the directory.
type Directory struct {
	secret  []byte
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	flight  singleflight.Group
	cache   *lru.Cache[string, activeEntry]
	logger  *slog.Logger
}

// Config for the directory adapter. An empty BaseURL disables remote
// liveness checks; token validity alone then gates admission.
type Config struct {
	JWTSecret string
	BaseURL   string
	Timeout   time.Duration
}

func New(cfg Config, logger *slog.Logger) *Directory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	cache, _ := lru.New[string, activeEntry](4096)
	return &Directory{
		secret:  []byte(cfg.JWTSecret),
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "identity-directory",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		cache:  cache,
		logger: logger,
	}
}

// VerifyIdentity validates the bearer token and extracts the principal.
func (d *Directory) VerifyIdentity(token string) (registry.Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return d.secret, nil
	})
	if err != nil || !parsed.Valid {
		return registry.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return registry.Identity{}, ErrInvalidToken
	}
	id, _ := claims["sub"].(string)
	if id == "" {
		return registry.Identity{}, ErrInvalidToken
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = id
	}
	role, _ := claims["role"].(string)

	return registry.Identity{ID: id, DisplayName: name, Role: role}, nil
}

// IsIdentityActive reports whether the identity may still connect. With no
// remote directory configured every verified identity is active. Remote
// failures (breaker open, timeouts) fail closed: admission is refused rather
// than letting a possibly revoked identity through.
func (d *Directory) IsIdentityActive(ctx context.Context, identityID string) bool {
	if d.baseURL == "" {
		return true
	}

	if entry, ok := d.cache.Get(identityID); ok && time.Since(entry.checkedAt) < activeCacheTTL {
		return entry.active
	}

	v, err, _ := d.flight.Do(identityID, func() (any, error) {
		return d.breaker.Execute(func() (any, error) {
			return d.lookupActive(ctx, identityID)
		})
	})
	if err != nil {
		d.logger.Warn("directory lookup failed",
			slog.String("identity_id", identityID),
			slog.Any("err", err),
		)
		return false
	}

	active := v.(bool)
	d.cache.Add(identityID, activeEntry{active: active, checkedAt: time.Now()})
	return active
}

func (d *Directory) lookupActive(ctx context.Context, identityID string) (bool, error) {
	url := fmt.Sprintf("%s/v1/identities/%s/active", d.baseURL, identityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusGone:
		// Known-inactive is a successful lookup, not a breaker failure.
		return false, nil
	default:
		return false, fmt.Errorf("directory: unexpected status %d", resp.StatusCode)
	}
}
