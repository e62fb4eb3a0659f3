// Package idtoken verifies the provider's compact RS256 identity tokens
// against its published JWKS. The key set is cached per KeySet value with a
// lifetime taken from the response's Cache-Control header.
package idtoken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// DefaultJWKSURL is Google's published signing-key set.
const DefaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// DefaultKeyTTL applies when the JWKS response has no usable max-age.
const DefaultKeyTTL = time.Hour

// maxJWKSBytes caps the JWKS body read.
const maxJWKSBytes = 1 << 20

// KeySet fetches and caches a JWKS. A stale set is discarded and refetched on
// the next lookup; it is never refreshed in the background.
type KeySet struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	jwks      *keyfunc.JWKS
	expiresAt time.Time

	// nowFunc is injectable for tests.
	nowFunc func() time.Time
}

// NewKeySet returns an empty cache for the JWKS at url.
func NewKeySet(url string, httpClient *http.Client, logger *slog.Logger) *KeySet {
	if url == "" {
		url = DefaultJWKSURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &KeySet{
		url:        url,
		httpClient: httpClient,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Keyfunc returns a jwt.Keyfunc backed by the cached key set, fetching it
// first when the cache is empty or expired.
func (k *KeySet) Keyfunc(ctx context.Context) (jwt.Keyfunc, error) {
	k.mu.RLock()
	if k.jwks != nil && k.nowFunc().Before(k.expiresAt) {
		jwks := k.jwks
		k.mu.RUnlock()

		return jwks.Keyfunc, nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()

	// Another caller may have fetched while we waited for the write lock.
	if k.jwks != nil && k.nowFunc().Before(k.expiresAt) {
		return k.jwks.Keyfunc, nil
	}

	jwks, ttl, err := k.fetch(ctx)
	if err != nil {
		return nil, err
	}

	k.jwks = jwks
	k.expiresAt = k.nowFunc().Add(ttl)

	k.logger.Debug("signing keys fetched", slog.String("url", k.url), slog.Duration("ttl", ttl))

	return jwks.Keyfunc, nil
}

func (k *KeySet) fetch(ctx context.Context) (*keyfunc.JWKS, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("idtoken: creating JWKS request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("idtoken: fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("idtoken: fetching JWKS: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("idtoken: reading JWKS: %w", err)
	}

	jwks, err := keyfunc.NewJSON(json.RawMessage(body))
	if err != nil {
		return nil, 0, fmt.Errorf("idtoken: parsing JWKS: %w", err)
	}

	ttl, ok := maxAge(resp.Header.Get("Cache-Control"))
	if !ok {
		ttl = DefaultKeyTTL
	}

	return jwks, ttl, nil
}

// maxAge extracts a positive max-age directive from a Cache-Control value.
func maxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}

		secs, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || secs <= 0 {
			return 0, false
		}

		return time.Duration(secs) * time.Second, true
	}

	return 0, false
}
