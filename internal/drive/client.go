package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/ledgerhost/ledgerhost/internal/fault"
)

// Retry and backoff constants.
const (
	maxRetries     = 4
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	maxErrorBody   = 64 << 10
)

// Default endpoints and naming.
const (
	DefaultAPIURL         = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL      = "https://www.googleapis.com/upload/drive/v3"
	DefaultSpace          = "appDataFolder"
	DefaultFilePrefix     = "kams_backup"
	DefaultDownloadPrefix = "kams_drive"
	DefaultKeep           = 3
	DefaultUserAgent      = "ledgerhost/1.0"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs"; *auth.Manager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config selects endpoints and file naming. Zero values select defaults.
type Config struct {
	APIURL         string
	UploadURL      string
	Space          string
	FilePrefix     string
	DownloadPrefix string
	UserAgent      string
}

// Client talks to the Drive files API on behalf of the signed-in user.
type Client struct {
	cfg        Config
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override it to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// nowFunc stamps uploaded and downloaded file names.
	nowFunc func() time.Time
}

// NewClient creates a Drive client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}

	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}

	if cfg.Space == "" {
		cfg.Space = DefaultSpace
	}

	if cfg.FilePrefix == "" {
		cfg.FilePrefix = DefaultFilePrefix
	}

	if cfg.DownloadPrefix == "" {
		cfg.DownloadPrefix = DefaultDownloadPrefix
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
		nowFunc:    time.Now,
	}
}

// do executes an authenticated request with retry. body is a byte slice so
// every attempt can resend it. The caller closes the response body on
// success. A missing or unrefreshable token fails before any network call.
func (c *Client) do(
	ctx context.Context, op, method, url, contentType string, body []byte,
) (*http.Response, error) {
	tok, err := c.token.AccessToken(ctx)
	if err != nil {
		if fault.KindOf(err) == fault.Unknown {
			err = fault.New(fault.NotAuthenticated, op, err)
		}

		return nil, fmt.Errorf("drive: obtaining token: %w", err)
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, contentType, body, tok)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fault.New(fault.NetworkFailure, op, fmt.Errorf("request canceled: %w", ctx.Err()))
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("op", op),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fault.New(fault.NetworkFailure, op, fmt.Errorf("request canceled: %w", sleepErr))
				}

				attempt++

				continue
			}

			return nil, fault.New(fault.NetworkFailure, op,
				fmt.Errorf("%s failed after %d retries: %w", method, maxRetries, err))
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fault.New(fault.NetworkFailure, op, fmt.Errorf("request canceled: %w", err))
			}

			attempt++

			continue
		}

		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		kind := fault.NetworkFailure
		if resp.StatusCode == http.StatusUnauthorized {
			kind = fault.NotAuthenticated
		}

		return nil, fault.New(kind, op, statusErr)
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, method, url, contentType string, body []byte, tok string,
) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
