package cognito

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	users "github.com/homeharmony/go-users"
)

// ErrKeyNotFound is returned when a kid is not part of the provider key set.
var ErrKeyNotFound = errors.New("cognito: signing key not found")

// KeyCache fetches and caches the user pool signing keys. The first access
// fetches synchronously; afterwards the set refreshes in the background and
// whenever an unknown kid is requested.
type KeyCache struct {
	url     string
	options keyfunc.Options
	logger  users.Logger

	mu     sync.Mutex
	jwks   *keyfunc.JWKS
	ctx    context.Context
	cancel context.CancelFunc
}

// NewKeyCache creates a key cache for cfg.KeySetURL(). Nothing is fetched
// until the first lookup.
func NewKeyCache(cfg Config) (*KeyCache, error) {
	url := cfg.KeySetURL()
	if url == "" {
		return nil, fmt.Errorf("cognito: region and user pool id, or a jwks url, are required")
	}

	ttl := cfg.cacheTTL()
	c := &KeyCache{
		url:    url,
		logger: users.NewZapLoggerNamed(nil, "cognito.keys"),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.options = keyfunc.Options{
		Ctx:    c.ctx,
		Client: cfg.httpClient(),
		RefreshErrorHandler: func(err error) {
			c.logger.Error("failed to refresh provider key set", "url", url, "error", err)
		},
		RefreshInterval:   ttl,
		RefreshRateLimit:  ttl / 10,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		ResponseExtractor: keyfunc.ResponseExtractorStatusOK,
	}

	return c, nil
}

// WithLogger sets the logger used for background refresh failures.
func (c *KeyCache) WithLogger(logger users.Logger) *KeyCache {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// URL returns the key set endpoint.
func (c *KeyCache) URL() string {
	return c.url
}

// Keys returns the current key set indexed by kid.
func (c *KeyCache) Keys(ctx context.Context) (map[string]any, error) {
	jwks, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return jwks.ReadOnlyKeys(), nil
}

// Key returns the verification key for kid. A kid missing from the cached
// set triggers a rate limited refresh before giving up with ErrKeyNotFound.
func (c *KeyCache) Key(ctx context.Context, kid string) (any, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}

	if key, ok := keys[kid]; ok {
		return key, nil
	}

	jwks, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	key, err := jwks.Keyfunc(&jwt.Token{
		Method: jwt.SigningMethodRS256,
		Header: map[string]any{
			"alg": jwt.SigningMethodRS256.Alg(),
			"kid": kid,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return key, nil
}

// Close stops background refreshes.
func (c *KeyCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.jwks != nil {
		c.jwks.EndBackground()
		c.jwks = nil
	}
	c.cancel()
}

func (c *KeyCache) load(ctx context.Context) (*keyfunc.JWKS, error) {
	if err := ctx.Err(); err != nil {
		return nil, users.NewKeyFetchError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.jwks != nil {
		return c.jwks, nil
	}

	jwks, err := keyfunc.Get(c.url, c.options)
	if err != nil {
		return nil, users.NewKeyFetchError(err)
	}

	c.jwks = jwks
	c.logger.Debug("provider key set loaded", "url", c.url, "keys", jwks.Len())
	return jwks, nil
}
