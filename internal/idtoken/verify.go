package idtoken

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ledgerhost/ledgerhost/internal/fault"
)

// ClockSkew is the allowance applied to the exp claim.
const ClockSkew = 60 * time.Second

// DefaultIssuers are the iss values Google uses for identity tokens.
var DefaultIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// Claims is the verified payload of an identity token.
type Claims struct {
	Issuer        string
	Subject       string
	Audience      string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	ExpiresAt     time.Time
	IssuedAt      time.Time

	// Raw holds every payload claim as decoded.
	Raw map[string]any
}

// Verifier checks identity-token signatures against a KeySet and validates
// the issuer, audience, and expiry claims. It fails closed on any problem.
type Verifier struct {
	keys    *KeySet
	issuers []string
	logger  *slog.Logger
	parser  *jwt.Parser

	// nowFunc is injectable for tests.
	nowFunc func() time.Time
}

// NewVerifier returns a Verifier. An empty issuers list selects DefaultIssuers.
func NewVerifier(keys *KeySet, issuers []string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}

	if len(issuers) == 0 {
		issuers = DefaultIssuers
	}

	return &Verifier{
		keys:    keys,
		issuers: issuers,
		logger:  logger,
		// Only PKCS#1 v1.5 with SHA-256. Claims are checked below with our
		// own skew and required-claim rules.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		nowFunc: time.Now,
	}
}

// Verify returns the claims of raw when its signature verifies against a
// published key and iss, aud, and exp all pass. Every failure is a
// fault.VerificationFailure (or fault.NetworkFailure when the key set could
// not be fetched) and returns no claims.
func (v *Verifier) Verify(ctx context.Context, raw, audience string) (*Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, fault.Newf(fault.VerificationFailure, "idtoken.verify", "token must have three segments")
	}

	keyFunc, err := v.keys.Keyfunc(ctx)
	if err != nil {
		return nil, fault.New(fault.NetworkFailure, "idtoken.verify", err)
	}

	tok, err := v.parser.Parse(raw, keyFunc)
	if err != nil {
		return nil, fault.New(fault.VerificationFailure, "idtoken.verify", err)
	}

	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, fault.Newf(fault.VerificationFailure, "idtoken.verify", "unexpected claims type %T", tok.Claims)
	}

	claims, err := v.checkClaims(mc, audience)
	if err != nil {
		v.logger.Debug("identity token rejected", slog.String("reason", err.Error()))
		return nil, fault.New(fault.VerificationFailure, "idtoken.verify", err)
	}

	return claims, nil
}

func (v *Verifier) checkClaims(mc jwt.MapClaims, audience string) (*Claims, error) {
	iss, _ := mc["iss"].(string)
	if !slices.Contains(v.issuers, iss) {
		return nil, fmt.Errorf("issuer %q not accepted", iss)
	}

	aud, err := singleAudience(mc["aud"])
	if err != nil {
		return nil, err
	}

	if audience == "" || aud != audience {
		return nil, fmt.Errorf("audience %q does not match", aud)
	}

	exp, ok := numericDate(mc["exp"])
	if !ok {
		return nil, fmt.Errorf("missing or malformed exp")
	}

	if exp.Before(v.nowFunc().Add(-ClockSkew)) {
		return nil, fmt.Errorf("token expired at %s", exp.UTC().Format(time.RFC3339))
	}

	c := &Claims{
		Issuer:    iss,
		Audience:  aud,
		ExpiresAt: exp,
		Raw:       map[string]any(mc),
	}

	c.Subject, _ = mc["sub"].(string)
	c.Email, _ = mc["email"].(string)
	c.Name, _ = mc["name"].(string)
	c.Picture, _ = mc["picture"].(string)

	switch ev := mc["email_verified"].(type) {
	case bool:
		c.EmailVerified = ev
	case string:
		c.EmailVerified = ev == "true"
	}

	if iat, ok := numericDate(mc["iat"]); ok {
		c.IssuedAt = iat
	}

	return c, nil
}

// singleAudience accepts a string or a one-element array.
func singleAudience(v any) (string, error) {
	switch aud := v.(type) {
	case string:
		return aud, nil
	case []any:
		if len(aud) == 1 {
			if s, ok := aud[0].(string); ok {
				return s, nil
			}
		}

		return "", fmt.Errorf("audience must name exactly one client")
	default:
		return "", fmt.Errorf("missing aud")
	}
}

func numericDate(v any) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}, false
		}

		return time.Unix(i, 0), true
	default:
		return time.Time{}, false
	}
}
