package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/tokenfile"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// DefaultAuthorizationTimeout bounds how long one attempt waits for the
// browser redirect.
const DefaultAuthorizationTimeout = 5 * time.Minute

// DefaultLoopbackHosts are tried in order for the redirect listener.
var DefaultLoopbackHosts = []string{"localhost", "127.0.0.1", "[::1]"}

const successPage = "<html><body><h1>Sign-in complete</h1>" +
	"<p>You can close this window and return to the application.</p></body></html>"

const failurePage = "<html><body><h1>Sign-in failed</h1>" +
	"<p>Return to the application and try again.</p></body></html>"

// Outcome is the terminal state of one authorization attempt.
type Outcome int

// Authorization outcomes.
const (
	Completed Outcome = iota + 1
	TimedOut
	BindFailed
	StateMismatch
	Denied
	ExchangeFailed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case BindFailed:
		return "bind_failed"
	case StateMismatch:
		return "state_mismatch"
	case Denied:
		return "denied"
	case ExchangeFailed:
		return "exchange_failed"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Attempt reports how an authorization attempt ended.
type Attempt struct {
	Outcome     Outcome
	RedirectURI string
	Tokens      *tokenfile.TokenSet
}

// Exchanger builds authorization URLs and redeems codes. *Manager satisfies it.
type Exchanger interface {
	AuthCodeURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*tokenfile.TokenSet, error)
}

// AuthorizerOptions tunes an Authorizer. Zero values select the defaults.
type AuthorizerOptions struct {
	Timeout time.Duration
	Hosts   []string
	// OpenURL launches the system browser. Failure is logged, not fatal.
	OpenURL func(string) error
}

// Authorizer runs loopback authorization attempts. Each call to
// BeginAuthorization owns a fresh listener, state nonce, and server; the only
// state kept between attempts is the most recent authorization URL.
type Authorizer struct {
	exchanger Exchanger
	openURL   func(string) error
	timeout   time.Duration
	hosts     []string
	logger    *slog.Logger

	// Seams for tests.
	listen   func(ctx context.Context, network, addr string) (net.Listener, error)
	freePort func(ctx context.Context) (int, error)

	mu          sync.Mutex
	lastAuthURL string
}

// NewAuthorizer returns an Authorizer that redeems codes through exchanger.
func NewAuthorizer(exchanger Exchanger, opts AuthorizerOptions, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultAuthorizationTimeout
	}

	hosts := opts.Hosts
	if len(hosts) == 0 {
		hosts = DefaultLoopbackHosts
	}

	openURL := opts.OpenURL
	if openURL == nil {
		openURL = func(string) error { return errors.New("no browser launcher configured") }
	}

	return &Authorizer{
		exchanger: exchanger,
		openURL:   openURL,
		timeout:   timeout,
		hosts:     hosts,
		logger:    logger,
		listen: func(ctx context.Context, network, addr string) (net.Listener, error) {
			lc := net.ListenConfig{}
			return lc.Listen(ctx, network, addr)
		},
		freePort: FreePort,
	}
}

// LastAuthorizationURL returns the URL built by the most recent attempt, so a
// UI can offer it as a manual link after the browser failed to open.
func (a *Authorizer) LastAuthorizationURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.lastAuthURL
}

// callbackResult carries what the single redirect request delivered.
type callbackResult struct {
	code     string
	state    string
	errParam string
}

// BeginAuthorization runs one attempt: bind a loopback listener, publish the
// authorization URL via onURLReady (called synchronously before the browser
// is launched), wait for the single redirect, then exchange the code.
//
// A timeout is a normal outcome and returns a nil error. Every other failed
// outcome carries a fault-classified error. The listener is closed exactly
// once on every path.
func (a *Authorizer) BeginAuthorization(ctx context.Context, onURLReady func(string)) (Attempt, error) {
	port, err := a.freePort(ctx)
	if err != nil {
		a.logger.Warn("port probe failed, relying on OS-assigned port", slog.String("error", err.Error()))
	}

	ln, redirectURI, err := a.bind(ctx, port)
	if err != nil {
		return Attempt{Outcome: BindFailed}, err
	}

	attempt := Attempt{RedirectURI: redirectURI}

	state, err := generateState()
	if err != nil {
		ln.Close()
		return Attempt{Outcome: Denied, RedirectURI: redirectURI},
			fault.New(fault.AuthorizationFailure, "auth.authorize", fmt.Errorf("generating state token: %w", err))
	}

	resultCh := make(chan callbackResult, 1)
	srv := newCallbackServer(resultCh)

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() { shutdownCallbackServer(srv, a.logger) })
	}
	defer release()

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.logger.Warn("callback server error", slog.String("error", serveErr.Error()))
		}
	}()

	a.logger.Info("callback server listening", slog.String("redirect_uri", redirectURI))

	authURL := a.exchanger.AuthCodeURL(state, redirectURI)

	a.mu.Lock()
	a.lastAuthURL = authURL
	a.mu.Unlock()

	if onURLReady != nil {
		onURLReady(authURL)
	}

	a.logger.Info("opening browser for authorization")

	if openErr := a.openURL(authURL); openErr != nil {
		a.logger.Warn("failed to open browser, manual link remains available",
			slog.String("error", openErr.Error()),
		)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var result callbackResult

	select {
	case result = <-resultCh:
	case <-waitCtx.Done():
		release()

		if ctx.Err() != nil {
			attempt.Outcome = TimedOut
			return attempt, fault.New(fault.AuthorizationTimeout, "auth.authorize", ctx.Err())
		}

		a.logger.Info("authorization timed out", slog.Duration("timeout", a.timeout))
		attempt.Outcome = TimedOut

		return attempt, nil
	}

	// The redirect has been answered; nothing else may arrive on this socket.
	release()

	switch {
	case result.state != state:
		attempt.Outcome = StateMismatch
		return attempt, fault.Newf(fault.StateMismatch, "auth.authorize", "redirect state does not match (possible CSRF)")

	case result.errParam != "":
		attempt.Outcome = Denied
		return attempt, fault.Newf(fault.AuthorizationFailure, "auth.authorize", "provider returned error %q", result.errParam)

	case result.code == "":
		attempt.Outcome = Denied
		return attempt, fault.Newf(fault.AuthorizationFailure, "auth.authorize", "redirect carried no authorization code")
	}

	tokens, err := a.exchanger.ExchangeCode(ctx, result.code, redirectURI)
	if err != nil {
		attempt.Outcome = ExchangeFailed
		return attempt, err
	}

	attempt.Outcome = Completed
	attempt.Tokens = tokens

	return attempt, nil
}

// bind tries each configured host on port, then falls back once to an
// OS-assigned port on localhost.
func (a *Authorizer) bind(ctx context.Context, port int) (net.Listener, string, error) {
	var errs []error

	if port > 0 {
		for _, host := range a.hosts {
			addr := net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))

			ln, err := a.listen(ctx, "tcp", addr)
			if err == nil {
				return ln, redirectURIFor(host, port), nil
			}

			a.logger.Debug("loopback bind failed", slog.String("addr", addr), slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	ln, err := a.listen(ctx, "tcp", "localhost:0")
	if err != nil {
		errs = append(errs, err)
		return nil, "", fault.New(fault.ListenerBindFailure, "auth.bind", errors.Join(errs...))
	}

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		ln.Close()
		return nil, "", fault.Newf(fault.ListenerBindFailure, "auth.bind", "listener address is not TCP")
	}

	return ln, redirectURIFor("localhost", tcpAddr.Port), nil
}

func redirectURIFor(host string, port int) string {
	return fmt.Sprintf("http://%s:%d/", host, port)
}

// newCallbackServer answers the first redirect with a static page and hands
// its query to resultCh. Later requests (favicon probes, reloads) get 410.
func newCallbackServer(resultCh chan<- callbackResult) *http.Server {
	var once sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		delivered := false

		once.Do(func() {
			delivered = true

			q := r.URL.Query()
			res := callbackResult{
				code:     q.Get("code"),
				state:    q.Get("state"),
				errParam: q.Get("error"),
			}

			w.Header().Set("Content-Type", "text/html; charset=utf-8")

			if res.code == "" || res.errParam != "" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, failurePage)
			} else {
				fmt.Fprint(w, successPage)
			}

			resultCh <- res
		})

		if !delivered {
			http.Error(w, "authorization already handled", http.StatusGone)
		}
	})

	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server,
// closing its listener.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// generateState produces a cryptographically random hex string for the OAuth2
// state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
