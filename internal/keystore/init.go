package keystore

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/term"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var ErrNoKeyMaterial = errors.New("no agent key configured: set AGENT_PRIVATE_KEY or run `gasless-arcade key generate`")

// AgentKey is the unlocked signing material of the agent.
type AgentKey struct {
	Key       *ecdsa.PrivateKey
	JWTSecret []byte
	// Source is "config" or the keystore path.
	Source string
}

func (k *AgentKey) Address() string {
	return crypto.PubkeyToAddress(k.Key.PublicKey).Hex()
}

// Path returns the keystore location inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// LoadAgentKey resolves the agent key. The agent_private_key config value
// (AGENT_PRIVATE_KEY) wins; otherwise the keystore in dataDir is unlocked.
// Malformed or missing key material is an error.
func LoadAgentKey(dataDir, passphraseFile string, config *utils.ConfigManager) (*AgentKey, error) {
	if raw, ok := config.GetConfig("agent_private_key"); ok && strings.TrimSpace(raw) != "" {
		key, err := payment.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("agent_private_key: %w", err)
		}
		return &AgentKey{Key: key, Source: "config"}, nil
	}

	path := Path(dataDir)
	ks, err := LoadKeystore(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoKeyMaterial
		}
		return nil, err
	}

	passphrase, err := getPassphrase(passphraseFile, false, config)
	if err != nil {
		return nil, err
	}

	data, err := UnlockKeystore(ks, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock keystore: %w", err)
	}
	key, err := data.Key()
	if err != nil {
		return nil, err
	}

	return &AgentKey{Key: key, JWTSecret: data.JWTSecret, Source: path}, nil
}

// WriteAgentKeystore encrypts key with a fresh JWT secret and writes it to
// dataDir. An existing keystore is only replaced when overwrite is set.
func WriteAgentKeystore(dataDir string, key *ecdsa.PrivateKey, passphrase string, overwrite bool) (string, error) {
	path := Path(dataDir)
	if _, err := os.Stat(path); err == nil && !overwrite {
		return "", fmt.Errorf("keystore already exists at %s", path)
	}

	secret, err := GenerateJWTSecret()
	if err != nil {
		return "", err
	}
	ks, err := CreateKeystore(passphrase, key, secret)
	if err != nil {
		return "", err
	}
	if err := SaveKeystore(ks, path); err != nil {
		return "", err
	}
	return path, nil
}

// NewPassphrase resolves a passphrase for a keystore being created.
func NewPassphrase(passphraseFile string, config *utils.ConfigManager) (string, error) {
	return getPassphrase(passphraseFile, true, config)
}

// getPassphrase checks, in order: agent_keystore_passphrase config, the passphrase
// file, the OS keyring (unlock only) and an interactive prompt.
func getPassphrase(passphraseFile string, isNew bool, config *utils.ConfigManager) (string, error) {
	if config != nil {
		if p, ok := config.GetConfig("agent_keystore_passphrase"); ok && p != "" {
			return p, nil
		}
	}

	if passphraseFile != "" {
		data, err := os.ReadFile(passphraseFile)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %v", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if !isNew {
		if p, ok := LookupPassphrase(); ok {
			return p, nil
		}
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("keystore passphrase required: set AGENT_KEYSTORE_PASSPHRASE or pass --passphrase-file")
	}
	if isNew {
		return promptNewPassphrase()
	}
	return promptPassphrase()
}

func promptPassphrase() (string, error) {
	fmt.Print("Enter keystore passphrase: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %v", err)
	}
	if len(passphrase) == 0 {
		return "", ErrEmptyPassphrase
	}
	return string(passphrase), nil
}

func promptNewPassphrase() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	fd := int(os.Stdin.Fd())

	fmt.Println("The agent key will be encrypted with a passphrase.")
	fmt.Println("You will need it every time the agent starts.")

	for {
		fmt.Print("\nCreate passphrase: ")
		first, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %v", err)
		}
		if len(first) == 0 {
			fmt.Println("Passphrase cannot be empty.")
			continue
		}
		if len(first) < 8 {
			fmt.Print("Passphrase is shorter than 8 characters. Continue? (yes/no): ")
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "yes" && response != "y" {
				continue
			}
		}

		fmt.Print("Confirm passphrase: ")
		second, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase confirmation: %v", err)
		}
		if string(first) != string(second) {
			fmt.Println("Passphrases do not match.")
			continue
		}
		return string(first), nil
	}
}
