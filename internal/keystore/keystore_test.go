package keystore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

func TestCreateAndUnlockKeystore(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	jwtSecret, err := GenerateJWTSecret()
	if err != nil {
		t.Fatalf("Failed to generate JWT secret: %v", err)
	}

	ks, err := CreateKeystore("test-passphrase-123", key, jwtSecret)
	if err != nil {
		t.Fatalf("Failed to create keystore: %v", err)
	}

	if ks.Version != keystoreVersion {
		t.Errorf("Expected version %d, got %d", keystoreVersion, ks.Version)
	}
	if len(ks.Salt) != saltSize || len(ks.Nonce) != nonceSize {
		t.Errorf("Unexpected salt/nonce sizes %d/%d", len(ks.Salt), len(ks.Nonce))
	}
	if want := crypto.PubkeyToAddress(key.PublicKey).Hex(); ks.Address != want {
		t.Errorf("Expected address %s, got %s", want, ks.Address)
	}
	if bytes.Contains(ks.Data, crypto.FromECDSA(key)) {
		t.Fatal("Keystore data contains the raw private key")
	}

	data, err := UnlockKeystore(ks, "test-passphrase-123")
	if err != nil {
		t.Fatalf("Failed to unlock keystore: %v", err)
	}
	if !bytes.Equal(data.PrivateKey, crypto.FromECDSA(key)) {
		t.Error("Private key mismatch")
	}
	if !bytes.Equal(data.JWTSecret, jwtSecret) {
		t.Error("JWT secret mismatch")
	}
}

func TestUnlockWithWrongPassphrase(t *testing.T) {
	key, _ := crypto.GenerateKey()
	jwtSecret, _ := GenerateJWTSecret()

	ks, err := CreateKeystore("correct-passphrase", key, jwtSecret)
	if err != nil {
		t.Fatalf("Failed to create keystore: %v", err)
	}

	_, err = UnlockKeystore(ks, "wrong-passphrase")
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Expected ErrWrongPassphrase, got %v", err)
	}
}

func TestCreateKeystoreValidation(t *testing.T) {
	key, _ := crypto.GenerateKey()
	jwtSecret, _ := GenerateJWTSecret()

	if _, err := CreateKeystore("", key, jwtSecret); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("Expected ErrEmptyPassphrase, got %v", err)
	}
	if _, err := CreateKeystore("pass", nil, jwtSecret); err == nil {
		t.Error("Expected error for nil key")
	}
	if _, err := CreateKeystore("pass", key, []byte("short")); err == nil {
		t.Error("Expected error for short JWT secret")
	}
}

func TestSaveLoadAndChangePassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", FileName)

	key, _ := crypto.GenerateKey()
	jwtSecret, _ := GenerateJWTSecret()
	ks, err := CreateKeystore("old-pass", key, jwtSecret)
	if err != nil {
		t.Fatalf("Failed to create keystore: %v", err)
	}

	if err := SaveKeystore(ks, path); err != nil {
		t.Fatalf("Failed to save keystore: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Keystore file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := LoadKeystore(path)
	if err != nil {
		t.Fatalf("Failed to load keystore: %v", err)
	}

	changed, err := ChangePassphrase(loaded, "old-pass", "new-pass")
	if err != nil {
		t.Fatalf("Failed to change passphrase: %v", err)
	}
	if _, err := UnlockKeystore(changed, "old-pass"); err == nil {
		t.Error("Old passphrase still unlocks the keystore")
	}
	data, err := UnlockKeystore(changed, "new-pass")
	if err != nil {
		t.Fatalf("Failed to unlock with new passphrase: %v", err)
	}
	if !bytes.Equal(data.JWTSecret, jwtSecret) {
		t.Error("JWT secret changed with passphrase")
	}
}

func TestUnlockRejectsTamperedAddress(t *testing.T) {
	key, _ := crypto.GenerateKey()
	jwtSecret, _ := GenerateJWTSecret()
	ks, _ := CreateKeystore("pass-1234", key, jwtSecret)

	ks.Address = "0x0000000000000000000000000000000000000001"
	if _, err := UnlockKeystore(ks, "pass-1234"); err == nil {
		t.Error("Expected error for mismatched address")
	}
}

func TestLoadAgentKeyFromConfig(t *testing.T) {
	cm := utils.NewConfigManagerFromValues(utils.Config{
		"agent_private_key": "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
	})

	agentKey, err := LoadAgentKey(t.TempDir(), "", cm)
	if err != nil {
		t.Fatalf("LoadAgentKey failed: %v", err)
	}
	if agentKey.Source != "config" {
		t.Errorf("Expected source config, got %s", agentKey.Source)
	}
	if agentKey.Address() == "" {
		t.Error("Empty address")
	}
}

func TestLoadAgentKeyMalformed(t *testing.T) {
	cm := utils.NewConfigManagerFromValues(utils.Config{"agent_private_key": "not-a-key"})

	_, err := LoadAgentKey(t.TempDir(), "", cm)
	if !errors.Is(err, payment.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}
}

func TestLoadAgentKeyMissing(t *testing.T) {
	_, err := LoadAgentKey(t.TempDir(), "", utils.NewConfigManagerFromValues(nil))
	if !errors.Is(err, ErrNoKeyMaterial) {
		t.Errorf("Expected ErrNoKeyMaterial, got %v", err)
	}
}

func TestLoadAgentKeyFromKeystore(t *testing.T) {
	dir := t.TempDir()
	key, _ := crypto.GenerateKey()

	path, err := WriteAgentKeystore(dir, key, "keystore-pass", false)
	if err != nil {
		t.Fatalf("WriteAgentKeystore failed: %v", err)
	}
	if _, err := WriteAgentKeystore(dir, key, "keystore-pass", false); err == nil {
		t.Error("Expected error when keystore exists")
	}

	cm := utils.NewConfigManagerFromValues(utils.Config{"agent_keystore_passphrase": "keystore-pass"})
	agentKey, err := LoadAgentKey(dir, "", cm)
	if err != nil {
		t.Fatalf("LoadAgentKey failed: %v", err)
	}
	if agentKey.Source != path {
		t.Errorf("Expected source %s, got %s", path, agentKey.Source)
	}
	if agentKey.Address() != crypto.PubkeyToAddress(key.PublicKey).Hex() {
		t.Error("Address mismatch")
	}
	if len(agentKey.JWTSecret) != 32 {
		t.Errorf("Expected 32-byte JWT secret, got %d", len(agentKey.JWTSecret))
	}

	passFile := filepath.Join(dir, "pass.txt")
	if err := os.WriteFile(passFile, []byte("keystore-pass\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAgentKey(dir, passFile, utils.NewConfigManagerFromValues(nil)); err != nil {
		t.Fatalf("LoadAgentKey with passphrase file failed: %v", err)
	}
}
