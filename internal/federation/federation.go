// Package federation exchanges a verified provider identity token for a
// backend session through the Identity Toolkit signInWithIdp endpoint.
// Federation enriches an already-completed sign-in; callers never roll back
// local credentials when it fails.
package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ledgerhost/ledgerhost/internal/fault"
)

// Defaults for the Identity Toolkit endpoint.
const (
	DefaultEndpoint   = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithIdp"
	DefaultProviderID = "google.com"
	DefaultRequestURI = "http://localhost"
)

// maxResponseBytes caps the session response read.
const maxResponseBytes = 1 << 20

// Config names the endpoint and the web API key.
type Config struct {
	Endpoint   string
	APIKey     string
	ProviderID string
	RequestURI string
}

// Session is the backend's answer to a successful federated sign-in.
type Session struct {
	LocalID      string
	Email        string
	DisplayName  string
	FederatedID  string
	ProviderID   string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration

	// Raw is the unmodified response body.
	Raw json.RawMessage
}

type signInRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	FederatedID  string `json:"federatedId"`
	ProviderID   string `json:"providerId"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// Client performs federated sign-in.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a federation client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	if cfg.ProviderID == "" {
		cfg.ProviderID = DefaultProviderID
	}

	if cfg.RequestURI == "" {
		cfg.RequestURI = DefaultRequestURI
	}

	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// SignIn posts idToken to the federation endpoint and returns the session.
// Any transport, status, or decode problem is a fault.NetworkFailure.
func (c *Client) SignIn(ctx context.Context, idToken string) (*Session, error) {
	if c.cfg.APIKey == "" {
		return nil, fault.Newf(fault.NetworkFailure, "federation.sign_in", "no API key configured")
	}

	postBody := url.Values{}
	postBody.Set("id_token", idToken)
	postBody.Set("providerId", c.cfg.ProviderID)

	payload, err := json.Marshal(signInRequest{
		PostBody:            postBody.Encode(),
		RequestURI:          c.cfg.RequestURI,
		ReturnIdpCredential: true,
		ReturnSecureToken:   true,
	})
	if err != nil {
		return nil, fault.New(fault.NetworkFailure, "federation.sign_in", err)
	}

	endpoint := c.cfg.Endpoint + "?key=" + url.QueryEscape(c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fault.New(fault.NetworkFailure, "federation.sign_in", fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.New(fault.NetworkFailure, "federation.sign_in", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fault.New(fault.NetworkFailure, "federation.sign_in", fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fault.Newf(fault.NetworkFailure, "federation.sign_in", "HTTP %d: %s", resp.StatusCode, body)
	}

	var decoded signInResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fault.New(fault.NetworkFailure, "federation.sign_in", fmt.Errorf("decoding response: %w", err))
	}

	s := &Session{
		LocalID:      decoded.LocalID,
		Email:        decoded.Email,
		DisplayName:  decoded.DisplayName,
		FederatedID:  decoded.FederatedID,
		ProviderID:   decoded.ProviderID,
		IDToken:      decoded.IDToken,
		RefreshToken: decoded.RefreshToken,
		Raw:          json.RawMessage(body),
	}

	if secs, convErr := strconv.Atoi(decoded.ExpiresIn); convErr == nil {
		s.ExpiresIn = time.Duration(secs) * time.Second
	}

	c.logger.Info("federated sign-in complete",
		slog.String("local_id", s.LocalID),
		slog.String("provider", s.ProviderID),
	)

	return s, nil
}
