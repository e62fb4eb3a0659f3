package auth

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/tokenfile"
)

// fakeExchanger builds a predictable URL and records exchanges.
type fakeExchanger struct {
	mu          sync.Mutex
	codes       []string
	redirectURI string
	err         error
}

func (f *fakeExchanger) AuthCodeURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("state", state)
	q.Set("redirect_uri", redirectURI)

	return "https://provider.example/auth?" + q.Encode()
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, code, redirectURI string) (*tokenfile.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.codes = append(f.codes, code)
	f.redirectURI = redirectURI

	if f.err != nil {
		return nil, f.err
	}

	return &tokenfile.TokenSet{AccessToken: "at-" + code, ExpiresIn: 3600, ObtainedAt: time.Now()}, nil
}

func (f *fakeExchanger) exchanged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.codes...)
}

// redirectWith returns an onURLReady callback that simulates the browser
// following the redirect with the given query mutation applied.
func redirectWith(t *testing.T, mutate func(q url.Values)) (func(string), <-chan int) {
	t.Helper()

	statusCh := make(chan int, 1)

	return func(authURL string) {
		u, err := url.Parse(authURL)
		require.NoError(t, err)

		redirect := u.Query().Get("redirect_uri")
		q := url.Values{}
		q.Set("state", u.Query().Get("state"))
		q.Set("code", "code-123")
		mutate(q)

		go func() {
			resp, getErr := http.Get(redirect + "?" + q.Encode()) //nolint:noctx // test helper
			if getErr != nil {
				statusCh <- 0
				return
			}
			defer resp.Body.Close()

			_, _ = io.Copy(io.Discard, resp.Body)
			statusCh <- resp.StatusCode
		}()
	}, statusCh
}

func newTestAuthorizer(ex Exchanger, opts AuthorizerOptions) *Authorizer {
	if len(opts.Hosts) == 0 {
		opts.Hosts = []string{"127.0.0.1"}
	}

	if opts.OpenURL == nil {
		opts.OpenURL = func(string) error { return errors.New("headless") }
	}

	return NewAuthorizer(ex, opts, nil)
}

func TestFreePort(t *testing.T) {
	port, err := FreePort(context.Background())
	require.NoError(t, err)
	assert.Positive(t, port)
}

func TestBeginAuthorization_Completes(t *testing.T) {
	ex := &fakeExchanger{}
	a := newTestAuthorizer(ex, AuthorizerOptions{})

	onReady, statusCh := redirectWith(t, func(url.Values) {})

	attempt, err := a.BeginAuthorization(context.Background(), onReady)
	require.NoError(t, err)

	assert.Equal(t, Completed, attempt.Outcome)
	require.NotNil(t, attempt.Tokens)
	assert.Equal(t, "at-code-123", attempt.Tokens.AccessToken)
	assert.Equal(t, []string{"code-123"}, ex.exchanged())
	assert.Equal(t, http.StatusOK, <-statusCh)
	assert.Contains(t, a.LastAuthorizationURL(), "https://provider.example/auth?")
}

func TestBeginAuthorization_FallsBackToIPv4Loopback(t *testing.T) {
	ex := &fakeExchanger{}
	a := newTestAuthorizer(ex, AuthorizerOptions{Hosts: DefaultLoopbackHosts})
	a.listen = func(ctx context.Context, network, addr string) (net.Listener, error) {
		if strings.HasPrefix(addr, "localhost:") {
			return nil, errors.New("bind refused")
		}

		lc := net.ListenConfig{}

		return lc.Listen(ctx, network, addr)
	}

	onReady, statusCh := redirectWith(t, func(url.Values) {})

	attempt, err := a.BeginAuthorization(context.Background(), onReady)
	require.NoError(t, err)

	assert.Equal(t, Completed, attempt.Outcome)
	assert.True(t, strings.HasPrefix(attempt.RedirectURI, "http://127.0.0.1:"), attempt.RedirectURI)
	assert.Equal(t, attempt.RedirectURI, ex.redirectURI)
	assert.Equal(t, http.StatusOK, <-statusCh)
}

func TestBeginAuthorization_BindFailure(t *testing.T) {
	ex := &fakeExchanger{}
	a := newTestAuthorizer(ex, AuthorizerOptions{})
	a.listen = func(context.Context, string, string) (net.Listener, error) {
		return nil, errors.New("no sockets for you")
	}

	called := false

	attempt, err := a.BeginAuthorization(context.Background(), func(string) { called = true })
	assert.Equal(t, BindFailed, attempt.Outcome)
	assert.True(t, fault.Is(err, fault.ListenerBindFailure))
	assert.False(t, called, "no URL may be published without a listener")
}

func TestBeginAuthorization_StateMismatch(t *testing.T) {
	ex := &fakeExchanger{}
	a := newTestAuthorizer(ex, AuthorizerOptions{})

	onReady, statusCh := redirectWith(t, func(q url.Values) { q.Set("state", "forged") })

	attempt, err := a.BeginAuthorization(context.Background(), onReady)
	assert.Equal(t, StateMismatch, attempt.Outcome)
	assert.True(t, fault.Is(err, fault.StateMismatch))
	assert.Empty(t, ex.exchanged(), "no exchange after a state mismatch")
	<-statusCh
}

func TestBeginAuthorization_MissingCode(t *testing.T) {
	ex := &fakeExchanger{}
	a := newTestAuthorizer(ex, AuthorizerOptions{})

	onReady, statusCh := redirectWith(t, func(q url.Values) {
		q.Del("code")
		q.Set("error", "access_denied")
	})

	attempt, err := a.BeginAuthorization(context.Background(), onReady)
	assert.Equal(t, Denied, attempt.Outcome)
	assert.True(t, fault.Is(err, fault.AuthorizationFailure))
	assert.Empty(t, ex.exchanged())
	assert.Equal(t, http.StatusBadRequest, <-statusCh)
}

func TestBeginAuthorization_ExchangeFailure(t *testing.T) {
	ex := &fakeExchanger{err: fault.Newf(fault.TokenExchangeFailure, "auth.exchange", "invalid_grant")}
	a := newTestAuthorizer(ex, AuthorizerOptions{})

	onReady, statusCh := redirectWith(t, func(url.Values) {})

	attempt, err := a.BeginAuthorization(context.Background(), onReady)
	assert.Equal(t, ExchangeFailed, attempt.Outcome)
	assert.True(t, fault.Is(err, fault.TokenExchangeFailure))
	<-statusCh
}

func TestBeginAuthorization_TimeoutIsNotAnError(t *testing.T) {
	ex := &fakeExchanger{}
	a := newTestAuthorizer(ex, AuthorizerOptions{Timeout: 50 * time.Millisecond})

	var redirect string

	attempt, err := a.BeginAuthorization(context.Background(), func(authURL string) {
		u, parseErr := url.Parse(authURL)
		require.NoError(t, parseErr)
		redirect = u.Query().Get("redirect_uri")
	})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, attempt.Outcome)
	assert.Empty(t, ex.exchanged())

	u, err := url.Parse(redirect)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		conn, dialErr := net.DialTimeout("tcp", u.Host, 100*time.Millisecond)
		if dialErr != nil {
			return true
		}

		conn.Close()

		return false
	}, 2*time.Second, 20*time.Millisecond, "listener must be closed after timeout")
}

func TestBeginAuthorization_CallerCancellation(t *testing.T) {
	ex := &fakeExchanger{}
	a := newTestAuthorizer(ex, AuthorizerOptions{})

	ctx, cancel := context.WithCancel(context.Background())

	attempt, err := a.BeginAuthorization(ctx, func(string) { cancel() })
	assert.Equal(t, TimedOut, attempt.Outcome)
	assert.True(t, fault.Is(err, fault.AuthorizationTimeout))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "state_mismatch", StateMismatch.String())
	assert.Equal(t, "outcome(99)", Outcome(99).String())
}
