// Package fault classifies failures from the authentication, sync, and update
// components into a small set of kinds. Components return ordinary wrapped
// errors; the host boundary uses KindOf to decide what the user sees.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind int

// Failure kinds. Unknown is the zero value so that an unclassified error is
// never mistaken for a specific condition.
const (
	Unknown Kind = iota
	ListenerBindFailure
	AuthorizationTimeout
	AuthorizationFailure
	StateMismatch
	TokenExchangeFailure
	RefreshFailure
	NotAuthenticated
	VerificationFailure
	NetworkFailure
	ChecksumMismatch
	StorageFailure
)

var kindNames = map[Kind]string{
	Unknown:              "unknown",
	ListenerBindFailure:  "listener_bind_failure",
	AuthorizationTimeout: "authorization_timeout",
	AuthorizationFailure: "authorization_failure",
	StateMismatch:        "state_mismatch",
	TokenExchangeFailure: "token_exchange_failure",
	RefreshFailure:       "refresh_failure",
	NotAuthenticated:     "not_authenticated",
	VerificationFailure:  "verification_failure",
	NetworkFailure:       "network_failure",
	ChecksumMismatch:     "checksum_mismatch",
	StorageFailure:       "storage_failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind, so callers can write
// errors.Is(err, fault.New(fault.StateMismatch, "", nil)) or, more usually,
// compare via KindOf.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind && t.Op == ""
}

// New returns an *Error of the given kind. err may be nil.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted message as the underlying error.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
