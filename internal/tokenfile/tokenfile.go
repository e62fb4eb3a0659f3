// Package tokenfile persists the OAuth token set for the current user. The
// set is encoded as deterministic CBOR, sealed with a key that only the
// owning account can read (see Sealer), and written atomically. This is a leaf
// package imported by auth/ and host/.
package tokenfile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ledgerhost/ledgerhost/internal/atomicfile"
	"github.com/ledgerhost/ledgerhost/internal/fault"
)

// FilePerms restricts the token file to owner-only read/write.
const FilePerms = 0o600

// ExpirySkew is subtracted from the token lifetime when deciding validity,
// so a token is refreshed before the server starts rejecting it.
const ExpirySkew = 60 * time.Second

// TokenSet is the access/refresh/identity token triple returned by the
// provider together with the time it was obtained. It is always replaced as
// a whole, never mutated in place.
type TokenSet struct {
	AccessToken  string    `cbor:"1,keyasint"`
	RefreshToken string    `cbor:"2,keyasint,omitempty"`
	IDToken      string    `cbor:"3,keyasint,omitempty"`
	ExpiresIn    int64     `cbor:"4,keyasint"` // seconds
	ObtainedAt   time.Time `cbor:"5,keyasint"`
}

// ExpiresAt is the provider-reported expiry, without skew.
func (t *TokenSet) ExpiresAt() time.Time {
	return t.ObtainedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// ValidAt reports whether the access token may still be used at now.
func (t *TokenSet) ValidAt(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}

	return now.Before(t.ExpiresAt().Add(-ExpirySkew))
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Keep sub-second precision so a saved set loads back identical.
	encOptions.Time = cbor.TimeRFC3339Nano

	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("tokenfile: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("tokenfile: CBOR decoder initialization failed: " + err.Error())
	}
}

// Store reads and writes the sealed token file at a fixed path.
type Store struct {
	path   string
	sealer Sealer
	logger *slog.Logger
}

// NewStore returns a Store for path. The caller computes path (via
// config.TokenPath) so this package has no config import.
func NewStore(path string, sealer Sealer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{path: path, sealer: sealer, logger: logger}
}

// Path returns the token file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the token set. Returns (nil, nil) when no file exists. Any read,
// decrypt, or decode failure is returned as a fault.StorageFailure; callers
// that want "no tokens" semantics treat the error as absence.
func (s *Store) Load() (*TokenSet, error) {
	sealed, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fault.New(fault.StorageFailure, "tokenfile.load", fmt.Errorf("reading %s: %w", s.path, err))
	}

	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fault.New(fault.StorageFailure, "tokenfile.load", fmt.Errorf("unsealing %s: %w", s.path, err))
	}

	var ts TokenSet
	if err := decMode.Unmarshal(plain, &ts); err != nil {
		return nil, fault.New(fault.StorageFailure, "tokenfile.load", fmt.Errorf("decoding %s: %w", s.path, err))
	}

	if ts.AccessToken == "" {
		return nil, fault.Newf(fault.StorageFailure, "tokenfile.load", "%s has no access token", s.path)
	}

	return &ts, nil
}

// Save seals and atomically writes ts. Never logs token values.
func (s *Store) Save(ts *TokenSet) error {
	if ts == nil {
		return fault.Newf(fault.StorageFailure, "tokenfile.save", "nil token set")
	}

	plain, err := encMode.Marshal(ts)
	if err != nil {
		return fault.New(fault.StorageFailure, "tokenfile.save", fmt.Errorf("encoding: %w", err))
	}

	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return fault.New(fault.StorageFailure, "tokenfile.save", fmt.Errorf("sealing: %w", err))
	}

	if err := atomicfile.Write(s.path, sealed, FilePerms); err != nil {
		return fault.New(fault.StorageFailure, "tokenfile.save", err)
	}

	s.logger.Debug("token set saved",
		slog.String("path", s.path),
		slog.Time("expires_at", ts.ExpiresAt()),
	)

	return nil
}

// Remove deletes the token file and forgets the sealing key. Returns nil if
// there was nothing to remove.
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.New(fault.StorageFailure, "tokenfile.remove", err)
	}

	if f, ok := s.sealer.(Forgetter); ok {
		if forgetErr := f.Forget(); forgetErr != nil {
			return fault.New(fault.StorageFailure, "tokenfile.remove", forgetErr)
		}
	}

	s.logger.Info("token file removed", slog.String("path", s.path))

	return nil
}
