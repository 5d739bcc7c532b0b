package cmd

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/keystore"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var (
	keyFile        string
	forceOverwrite bool
	rememberPass   bool
	showJWTSecret  bool
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the agent signing key",
	Long: `Manage the agent's secp256k1 signing key.

The key signs EIP-3009 transferWithAuthorization messages for x402 payments.
It is stored encrypted (Argon2id + AES-256-GCM) in the data directory
together with the secret used to sign dashboard tokens.`,
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new agent key and keystore",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		key, err := crypto.GenerateKey()
		if err != nil {
			fail("key", "failed to generate key: %v", err)
		}
		writeKeystore(key)
	},
}

var keyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an existing agent private key",
	Long: `Import a hex private key (64 hex characters, 0x prefix optional).

The key is read from --key-file, or prompted for without echo.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := readPrivateKeyInput()
		if err != nil {
			fail("key", "%v", err)
		}
		key, err := payment.ParsePrivateKey(raw)
		if err != nil {
			fail("key", "%v", err)
		}
		writeKeystore(key)
	},
}

var keyAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the agent address",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		paths := utils.GetAppPaths("")
		agentKey, err := keystore.LoadAgentKey(paths.DataDir, passphraseFile, config)
		if err != nil {
			fail("key", "failed to load agent key: %v", err)
		}

		fmt.Printf("Address: %s\n", agentKey.Address())
		fmt.Printf("Source:  %s\n", agentKey.Source)
		if showJWTSecret {
			if len(agentKey.JWTSecret) == 0 {
				fmt.Println("JWT secret: none (key comes from configuration)")
			} else {
				fmt.Printf("JWT secret: %s\n", hex.EncodeToString(agentKey.JWTSecret))
				fmt.Println("Set DASHBOARD_JWT_SECRET on the backend to the same value to require signed reports.")
			}
		}
	},
}

var keyForgetCmd = &cobra.Command{
	Use:   "forget-passphrase",
	Short: "Remove the keystore passphrase from the OS keyring",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := keystore.ForgetPassphrase(); err != nil {
			fail("key", "failed to remove passphrase from keyring: %v", err)
		}
		fmt.Println("Keystore passphrase removed from the OS keyring")
	},
}

// writeKeystore seals key under a passphrase in the data directory.
func writeKeystore(key *ecdsa.PrivateKey) {
	passphrase, err := keystore.NewPassphrase(passphraseFile, config)
	if err != nil {
		fail("key", "%v", err)
	}

	paths := utils.GetAppPaths("")
	path, err := keystore.WriteAgentKeystore(paths.DataDir, key, passphrase, forceOverwrite)
	if err != nil {
		fail("key", "failed to write keystore: %v", err)
	}

	if rememberPass {
		if err := keystore.StorePassphrase(passphrase); err != nil {
			logger.Warn(fmt.Sprintf("Failed to store passphrase in keyring: %v", err), "key")
			fmt.Println("Warning: the OS keyring is unavailable, the passphrase was not stored")
		}
	}

	logger.Info(fmt.Sprintf("Agent keystore written to %s", path), "key")
	fmt.Println("Agent key stored")
	fmt.Printf("  Address:  %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
	fmt.Printf("  Keystore: %s\n", path)
	fmt.Println()
	fmt.Println("Fund this address with test USDC before running 'gasless-arcade agent'.")
}

func readPrivateKeyInput() (string, error) {
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read key file: %v", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available: pass --key-file")
	}
	fmt.Print("Enter private key (hex): ")
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read private key: %v", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func init() {
	rootCmd.AddCommand(keyCmd)

	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyImportCmd)
	keyCmd.AddCommand(keyAddressCmd)
	keyCmd.AddCommand(keyForgetCmd)

	keyCmd.PersistentFlags().StringVar(&passphraseFile, "passphrase-file", "", "file holding the keystore passphrase")
	for _, c := range []*cobra.Command{keyGenerateCmd, keyImportCmd} {
		c.Flags().BoolVarP(&forceOverwrite, "force", "f", false, "overwrite an existing keystore")
		c.Flags().BoolVar(&rememberPass, "remember", false, "store the passphrase in the OS keyring")
	}
	keyImportCmd.Flags().StringVar(&keyFile, "key-file", "", "file holding the hex private key")
	keyAddressCmd.Flags().BoolVar(&showJWTSecret, "show-jwt-secret", false, "also print the dashboard token secret")
}
