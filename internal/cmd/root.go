package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var (
	configPath string
	envFile    string
	config     *utils.ConfigManager
	logger     *utils.LogsManager
)

var rootCmd = &cobra.Command{
	Use:   "gasless-arcade",
	Short: "Gasless Arcade x402 paywall and payment agent",
	Long: `Gasless Arcade serves an arcade game behind an x402 paywall and runs
an autonomous agent that pays for premium plays with EIP-3009 authorizations.

The server hands out free plays, then answers 402 Payment Required with an
invoice. The agent checks its spending policy, optionally asks an advisory
model, signs the authorization and retries with an X-Payment header.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		if config, err = utils.NewConfigManager(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := config.LoadDotEnv(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		logger = utils.NewLogsManager(config)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file overlaying the config")
}

// fail logs err under category and exits with status 1.
func fail(category string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if logger != nil {
		logger.Error(msg, category)
		logger.Close()
	}
	fmt.Fprintln(os.Stderr, "Error: "+msg)
	os.Exit(1)
}
