package host

import (
	"context"
	"log/slog"
	"time"

	"github.com/ledgerhost/ledgerhost/internal/auth"
	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/idtoken"
	"github.com/ledgerhost/ledgerhost/internal/journal"
)

// Identity is the verified signed-in user.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	ExpiresAt     time.Time

	// Federated is true when the backend sign-in succeeded during SignIn.
	Federated     bool
	BackendUserID string
}

func identityFrom(c *idtoken.Claims) *Identity {
	return &Identity{
		Subject:       c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          c.Name,
		Picture:       c.Picture,
		ExpiresAt:     c.ExpiresAt,
	}
}

// SignIn runs one interactive authorization, verifies the returned identity
// token, and then attempts the federated backend sign-in. A federation
// failure is recorded but does not fail the sign-in. An identity token that
// does not verify discards the freshly stored tokens.
func (s *Service) SignIn(ctx context.Context, onURLReady func(string)) (*Identity, Result) {
	const op = "auth.sign_in"

	attempt, err := s.deps.Authorizer.BeginAuthorization(ctx, onURLReady)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	if attempt.Outcome != auth.Completed || attempt.Tokens == nil {
		return nil, s.fail(ctx, op,
			fault.Newf(fault.AuthorizationTimeout, op, "authorization ended with outcome %s", attempt.Outcome))
	}

	if attempt.Tokens.IDToken == "" {
		s.discardTokens()
		return nil, s.fail(ctx, op, fault.Newf(fault.VerificationFailure, op, "provider returned no identity token"))
	}

	claims, err := s.deps.Verifier.Verify(ctx, attempt.Tokens.IDToken, s.deps.Tokens.ClientID())
	if err != nil {
		if fault.Is(err, fault.VerificationFailure) {
			s.discardTokens()
		}

		return nil, s.fail(ctx, op, err)
	}

	id := identityFrom(claims)

	if s.deps.Federation != nil {
		s.federate(ctx, attempt.Tokens.IDToken, id)
	}

	return id, s.succeed(ctx, op, "signed in as "+displayName(id))
}

func (s *Service) federate(ctx context.Context, rawIDToken string, id *Identity) {
	const op = "federation.sign_in"

	session, err := s.deps.Federation.SignIn(ctx, rawIDToken)
	if err != nil {
		s.fail(ctx, op, err)
		return
	}

	id.Federated = true
	id.BackendUserID = session.LocalID

	s.record(ctx, journal.Event{Op: op, OK: true, Message: "backend session established"})
}

func (s *Service) discardTokens() {
	if err := s.deps.Tokens.Logout(); err != nil {
		s.logger.Warn("discarding unverified tokens failed", slog.String("error", err.Error()))
	}
}

// SignOut removes the stored tokens and their encryption key.
func (s *Service) SignOut(ctx context.Context) Result {
	const op = "auth.sign_out"

	if err := s.deps.Tokens.Logout(); err != nil {
		return s.fail(ctx, op, err)
	}

	return s.succeed(ctx, op, "signed out")
}

// Identity returns the signed-in user, refreshing the tokens first when the
// access token has expired so that a current identity token is verified.
func (s *Service) Identity(ctx context.Context) (*Identity, Result) {
	const op = "auth.identity"

	if s.deps.Tokens.Tokens() == nil {
		return nil, Result{Kind: fault.NotAuthenticated, Message: messageFor(fault.NotAuthenticated)}
	}

	if _, err := s.deps.Tokens.AccessToken(ctx); err != nil {
		return nil, s.fail(ctx, op, err)
	}

	ts := s.deps.Tokens.Tokens()
	if ts == nil || ts.IDToken == "" {
		return nil, s.fail(ctx, op, fault.Newf(fault.VerificationFailure, op, "no identity token stored"))
	}

	claims, err := s.deps.Verifier.Verify(ctx, ts.IDToken, s.deps.Tokens.ClientID())
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	return identityFrom(claims), Result{OK: true}
}

// AuthorizationURL is the most recent sign-in link, for a manual fallback
// when the browser could not be opened.
func (s *Service) AuthorizationURL() string {
	return s.deps.Authorizer.LastAuthorizationURL()
}

func displayName(id *Identity) string {
	switch {
	case id.Email != "":
		return id.Email
	case id.Name != "":
		return id.Name
	default:
		return id.Subject
	}
}
