// Package credential keeps IMAP passwords in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/nhle/mailtrack/internal/model"
)

const serviceName = "mailtrack"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes account passwords.
type Store interface {
	Password(accountID string) (string, error)
	SetPassword(accountID, password string) error
	DeletePassword(accountID string) error
}

// Keyring is a Store backed by the system keyring, falling back to an
// encrypted file under the config directory.
type Keyring struct {
	ring keyring.Keyring
}

var _ Store = (*Keyring)(nil)

// Open returns the system keyring for mailtrack.
func Open() (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(model.ConfigDir(), "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("mailtrack-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// NewKeyring wraps an already opened keyring, such as keyring.NewArrayKeyring
// in tests.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// Key returns the keyring key holding an account's password.
func Key(accountID string) string {
	return "imap-" + accountID
}

// Password retrieves the IMAP password of an account.
func (k *Keyring) Password(accountID string) (string, error) {
	item, err := k.ring.Get(Key(accountID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("password for %q: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting password for %q: %w", accountID, err)
	}

	return string(item.Data), nil
}

// SetPassword stores the IMAP password of an account.
func (k *Keyring) SetPassword(accountID, password string) error {
	err := k.ring.Set(keyring.Item{
		Key:   Key(accountID),
		Data:  []byte(password),
		Label: "mailtrack IMAP password (" + accountID + ")",
	})
	if err != nil {
		return fmt.Errorf("setting password for %q: %w", accountID, err)
	}

	return nil
}

// DeletePassword removes the IMAP password of an account. Removing a
// missing password is not an error.
func (k *Keyring) DeletePassword(accountID string) error {
	err := k.ring.Remove(Key(accountID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting password for %q: %w", accountID, err)
	}

	return nil
}
