// Package keystore keeps the agent's signing key encrypted at rest.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/argon2"
)

var (
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
	ErrWrongPassphrase = errors.New("decryption failed (incorrect passphrase?)")
)

// Keystore is the on-disk form. Address is stored in the clear so it can be
// shown without unlocking.
type Keystore struct {
	Version int    `json:"version"`
	Address string `json:"address"`
	Salt    []byte `json:"salt"`  // 32 bytes
	Nonce   []byte `json:"nonce"` // 12 bytes
	Data    []byte `json:"data"`
}

// KeystoreData is the decrypted content.
type KeystoreData struct {
	PrivateKey []byte `json:"private_key"` // 32-byte secp256k1 scalar
	JWTSecret  []byte `json:"jwt_secret"`  // 32 bytes
}

const (
	// Argon2id parameters (OWASP recommendation)
	argon2Time      = 3
	argon2Memory    = 64 * 1024 // KiB
	argon2Threads   = 4
	argon2KeyLength = 32

	saltSize  = 32
	nonceSize = 12

	keystoreVersion = 2

	// FileName is the keystore file inside the data dir.
	FileName = "agent_keystore.json"
)

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLength)
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}
	return gcm, nil
}

// CreateKeystore encrypts key and jwtSecret under passphrase.
func CreateKeystore(passphrase string, key *ecdsa.PrivateKey, jwtSecret []byte) (*Keystore, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if len(jwtSecret) != 32 {
		return nil, fmt.Errorf("JWT secret must be 32 bytes, got %d", len(jwtSecret))
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %v", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %v", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(&KeystoreData{
		PrivateKey: crypto.FromECDSA(key),
		JWTSecret:  jwtSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keystore data: %v", err)
	}

	return &Keystore{
		Version: keystoreVersion,
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:    salt,
		Nonce:   nonce,
		Data:    gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// UnlockKeystore decrypts ks and checks the key against the stored address.
func UnlockKeystore(ks *Keystore, passphrase string) (*KeystoreData, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", ks.Version)
	}
	if len(ks.Salt) != saltSize {
		return nil, fmt.Errorf("invalid salt size: %d", len(ks.Salt))
	}
	if len(ks.Nonce) != nonceSize {
		return nil, fmt.Errorf("invalid nonce size: %d", len(ks.Nonce))
	}

	gcm, err := newGCM(passphrase, ks.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ks.Nonce, ks.Data, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	var data KeystoreData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore data: %v", err)
	}
	if len(data.JWTSecret) != 32 {
		return nil, fmt.Errorf("corrupted keystore: invalid JWT secret size")
	}

	key, err := data.Key()
	if err != nil {
		return nil, fmt.Errorf("corrupted keystore: %v", err)
	}
	if ks.Address != "" && crypto.PubkeyToAddress(key.PublicKey).Hex() != ks.Address {
		return nil, fmt.Errorf("corrupted keystore: key does not match address %s", ks.Address)
	}

	return &data, nil
}

// Key returns the decrypted signing key.
func (d *KeystoreData) Key() (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(d.PrivateKey)
}

func SaveKeystore(ks *Keystore, path string) error {
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %v", err)
	}
	// owner read/write only
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write keystore file: %v", err)
	}
	return nil
}

func LoadKeystore(path string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore: %v", err)
	}
	return &ks, nil
}

// ChangePassphrase re-encrypts ks under newPassphrase.
func ChangePassphrase(ks *Keystore, oldPassphrase, newPassphrase string) (*Keystore, error) {
	data, err := UnlockKeystore(ks, oldPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock with old passphrase: %w", err)
	}
	key, err := data.Key()
	if err != nil {
		return nil, err
	}
	return CreateKeystore(newPassphrase, key, data.JWTSecret)
}

// GenerateJWTSecret returns 32 random bytes.
func GenerateJWTSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %v", err)
	}
	return secret, nil
}
