// Package auth implements the desktop OAuth2 authorization-code flow with a
// loopback redirect (Authorizer) and the token lifecycle behind it (Manager):
// code exchange, encrypted persistence through tokenfile, and transparent
// refresh guarded so that one process never runs two refreshes at once.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/tokenfile"
)

// Google endpoints used when Config leaves them empty.
const (
	DefaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// DefaultScopes requests identity claims plus access to files the app creates
// and its private application-data folder.
var DefaultScopes = []string{
	"openid",
	"email",
	"profile",
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/drive.appdata",
}

// defaultLifetime is assumed when the token response carries no expires_in.
const defaultLifetime = time.Hour

// refreshKey is the singleflight key shared by every concurrent refresh.
const refreshKey = "refresh"

// refreshTimeout bounds a refresh, which runs detached from the caller that
// started it so that callers joining it are not failed by that caller's
// cancellation.
const refreshTimeout = 30 * time.Second

// Config identifies the OAuth client and the provider endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// TokenStore persists the token set. *tokenfile.Store satisfies it.
type TokenStore interface {
	Load() (*tokenfile.TokenSet, error)
	Save(ts *tokenfile.TokenSet) error
	Remove() error
}

// Manager owns the persisted TokenSet: it exchanges authorization codes,
// hands out valid access tokens, and refreshes them on expiry.
type Manager struct {
	oauth      oauth2.Config
	store      TokenStore
	httpClient *http.Client
	logger     *slog.Logger
	flight     singleflight.Group

	// nowFunc is injectable for tests.
	nowFunc func() time.Time
}

// NewManager builds a Manager. httpClient may be nil to use
// http.DefaultClient for token endpoint calls.
func NewManager(cfg Config, store TokenStore, httpClient *http.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &Manager{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
				// Desktop clients post credentials in the form body.
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: scopes,
		},
		store:      store,
		httpClient: httpClient,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// ClientID returns the OAuth client identifier, which is also the expected
// audience of the provider's identity tokens.
func (m *Manager) ClientID() string {
	return m.oauth.ClientID
}

// AuthCodeURL builds the provider authorization URL for one attempt. The URL
// asks for offline access and forces the consent screen so the provider
// always issues a refresh token.
func (m *Manager) AuthCodeURL(state, redirectURI string) string {
	cfg := m.configFor(redirectURI)

	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode trades an authorization code for a token set and persists it.
// Nothing is persisted unless both the exchange and the save succeed.
func (m *Manager) ExchangeCode(ctx context.Context, code, redirectURI string) (*tokenfile.TokenSet, error) {
	cfg := m.configFor(redirectURI)

	m.logger.Info("exchanging authorization code")

	tok, err := cfg.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, fault.New(fault.TokenExchangeFailure, "auth.exchange", err)
	}

	ts := m.tokenSetFrom(tok, nil)

	if err := m.store.Save(ts); err != nil {
		return nil, err
	}

	m.logger.Info("token exchange successful",
		slog.Time("expires_at", ts.ExpiresAt()),
		slog.Bool("has_refresh_token", ts.RefreshToken != ""),
		slog.Bool("has_id_token", ts.IDToken != ""),
	)

	return ts, nil
}

// AccessToken returns a valid access token, refreshing it first when it is
// within the expiry skew. Returns a NotAuthenticated fault when nothing is
// stored and a RefreshFailure fault when the single refresh attempt fails;
// either way the caller must re-authorize.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	ts := m.load()
	if ts == nil {
		return "", fault.Newf(fault.NotAuthenticated, "auth.access_token", "no stored credentials")
	}

	if ts.ValidAt(m.nowFunc()) {
		return ts.AccessToken, nil
	}

	ch := m.flight.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		return m.refresh(rctx)
	})

	var res singleflight.Result

	select {
	case <-ctx.Done():
		return "", fault.New(fault.RefreshFailure, "auth.access_token", ctx.Err())
	case res = <-ch:
	}

	if res.Err != nil {
		return "", res.Err
	}

	if res.Shared {
		m.logger.Debug("joined in-flight token refresh")
	}

	refreshed, ok := res.Val.(*tokenfile.TokenSet)
	if !ok || refreshed == nil {
		return "", fault.Newf(fault.RefreshFailure, "auth.access_token", "refresh returned no tokens")
	}

	return refreshed.AccessToken, nil
}

// Tokens returns the stored token set, or nil when signed out or unreadable.
func (m *Manager) Tokens() *tokenfile.TokenSet {
	return m.load()
}

// Logout forgets the stored tokens and their sealing key.
func (m *Manager) Logout() error {
	if err := m.store.Remove(); err != nil {
		return err
	}

	m.logger.Info("signed out")

	return nil
}

// refresh runs inside the singleflight group. It reloads first because a
// caller that queued behind a finished refresh may find a fresh token.
func (m *Manager) refresh(ctx context.Context) (*tokenfile.TokenSet, error) {
	current := m.load()
	if current == nil {
		return nil, fault.Newf(fault.NotAuthenticated, "auth.refresh", "no stored credentials")
	}

	if current.ValidAt(m.nowFunc()) {
		return current, nil
	}

	if current.RefreshToken == "" {
		return nil, fault.Newf(fault.RefreshFailure, "auth.refresh", "no refresh token stored")
	}

	m.logger.Info("access token expired, refreshing",
		slog.Time("expired_at", current.ExpiresAt()),
	)

	src := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, fault.New(fault.RefreshFailure, "auth.refresh", err)
	}

	next := m.tokenSetFrom(tok, current)

	if err := m.store.Save(next); err != nil {
		return nil, err
	}

	m.logger.Info("token refreshed", slog.Time("expires_at", next.ExpiresAt()))

	return next, nil
}

// load treats an unreadable store as "no tokens": the user signs in again.
func (m *Manager) load() *tokenfile.TokenSet {
	ts, err := m.store.Load()
	if err != nil {
		m.logger.Warn("stored credentials unreadable, treating as signed out",
			slog.String("error", err.Error()),
		)

		return nil
	}

	return ts
}

// tokenSetFrom converts a provider response. A refresh response usually omits
// refresh_token and may omit id_token; prev supplies them.
func (m *Manager) tokenSetFrom(tok *oauth2.Token, prev *tokenfile.TokenSet) *tokenfile.TokenSet {
	now := m.nowFunc().UTC()

	lifetime := defaultLifetime

	switch {
	case tok.ExpiresIn > 0:
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		lifetime = time.Until(tok.Expiry).Round(time.Second)
	}

	ts := &tokenfile.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    int64(lifetime / time.Second),
		ObtainedAt:   now,
	}

	if idToken, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}

	if prev != nil {
		if ts.RefreshToken == "" {
			ts.RefreshToken = prev.RefreshToken
		}

		if ts.IDToken == "" {
			ts.IDToken = prev.IDToken
		}
	}

	return ts
}

func (m *Manager) configFor(redirectURI string) *oauth2.Config {
	cfg := m.oauth
	cfg.RedirectURL = redirectURI

	return &cfg
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
