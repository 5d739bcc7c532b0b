package keystore

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const keyringService = "gasless-arcade"

// KeyringUser is the account name the passphrase is stored under.
const KeyringUser = "agent-keystore"

// StorePassphrase saves the keystore passphrase in the OS keyring.
func StorePassphrase(passphrase string) error {
	return keyring.Set(keyringService, KeyringUser, passphrase)
}

// LookupPassphrase returns the stored passphrase. ok is false when the
// keyring has no entry or is unavailable.
func LookupPassphrase() (string, bool) {
	secret, err := keyring.Get(keyringService, KeyringUser)
	if err != nil {
		return "", false
	}
	return secret, secret != ""
}

// ForgetPassphrase removes the stored passphrase. A missing entry is not an
// error.
func ForgetPassphrase() error {
	err := keyring.Delete(keyringService, KeyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
