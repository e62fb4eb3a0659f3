package tokenfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"
	"github.com/zalando/go-keyring"
)

// Sealer encrypts and decrypts the token blob with a key scoped to the
// current user account.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Forgetter is implemented by sealers that can discard their key material.
type Forgetter interface {
	Forget() error
}

// ErrNoKey is returned by Open when no sealing key exists for the account.
var ErrNoKey = errors.New("tokenfile: no sealing key for this account")

// KeyringSealer encrypts with an age X25519 identity that lives in the OS
// credential store (Keychain, Secret Service, Windows Credential Manager)
// under the current user. Other accounts on the machine cannot read it.
type KeyringSealer struct {
	service string
	user    string

	mu       sync.Mutex
	identity *age.X25519Identity
}

// NewKeyringSealer returns a sealer whose identity is stored under
// (service, user) in the OS keyring. The identity is created on first Seal.
func NewKeyringSealer(service, user string) *KeyringSealer {
	return &KeyringSealer{service: service, user: user}
}

// Seal encrypts plaintext to the account identity, creating it if needed.
func (k *KeyringSealer) Seal(plaintext []byte) ([]byte, error) {
	id, err := k.loadIdentity(true)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	w, err := age.Encrypt(&buf, id.Recipient())
	if err != nil {
		return nil, fmt.Errorf("tokenfile: creating age encryptor: %w", err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("tokenfile: writing plaintext: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("tokenfile: finalizing encryption: %w", err)
	}

	return buf.Bytes(), nil
}

// Open decrypts ciphertext with the account identity. Returns ErrNoKey if
// the identity was never created or has been forgotten.
func (k *KeyringSealer) Open(ciphertext []byte) ([]byte, error) {
	id, err := k.loadIdentity(false)
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), id)
	if err != nil {
		return nil, fmt.Errorf("tokenfile: decrypting: %w", err)
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading plaintext: %w", err)
	}

	return plain, nil
}

// Forget removes the identity from the keyring.
func (k *KeyringSealer) Forget() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.identity = nil

	if err := keyring.Delete(k.service, k.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("tokenfile: deleting keyring entry: %w", err)
	}

	return nil
}

func (k *KeyringSealer) loadIdentity(create bool) (*age.X25519Identity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.identity != nil {
		return k.identity, nil
	}

	secret, err := keyring.Get(k.service, k.user)
	switch {
	case err == nil:
		id, parseErr := age.ParseX25519Identity(secret)
		if parseErr != nil {
			return nil, fmt.Errorf("tokenfile: parsing keyring identity: %w", parseErr)
		}

		k.identity = id

		return id, nil

	case errors.Is(err, keyring.ErrNotFound) && create:
		id, genErr := age.GenerateX25519Identity()
		if genErr != nil {
			return nil, fmt.Errorf("tokenfile: generating identity: %w", genErr)
		}

		if setErr := keyring.Set(k.service, k.user, id.String()); setErr != nil {
			return nil, fmt.Errorf("tokenfile: storing identity in keyring: %w", setErr)
		}

		k.identity = id

		return id, nil

	case errors.Is(err, keyring.ErrNotFound):
		return nil, ErrNoKey

	default:
		return nil, fmt.Errorf("tokenfile: reading keyring: %w", err)
	}
}
