package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	agentpkg "github.com/Trustflow-Network-Labs/gasless-arcade/internal/agent"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/advisory"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/middleware"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/chain"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/keystore"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/policy"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/workers"
)

var (
	passphraseFile string
	rulesFile      string
	agentOnce      bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the autonomous payment agent",
	Long: `Run the payment agent against the arcade backend.

Each round the agent requests a play. On 402 Payment Required it checks the
spending policy, consults the advisory model when ai_mode is advisory or
both, signs an EIP-3009 authorization and retries with the X-Payment header.

The signing key comes from AGENT_PRIVATE_KEY or the encrypted keystore
created by 'gasless-arcade key generate'.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		paths := utils.GetAppPaths("")

		agentKey, err := keystore.LoadAgentKey(paths.DataDir, passphraseFile, config)
		if err != nil {
			fail("agent", "failed to load agent key: %v", err)
		}
		logger.Info(fmt.Sprintf("Agent key loaded from %s", agentKey.Source), "agent")

		rules, err := policy.RulesFromConfig(config)
		if err != nil {
			fail("agent", "invalid spending rules: %v", err)
		}
		if rulesFile != "" {
			if rules, err = policy.LoadRulesFile(rulesFile, rules); err != nil {
				fail("agent", "invalid rules file: %v", err)
			}
		}
		spending, err := policy.New(rules, nil)
		if err != nil {
			fail("agent", "failed to create spending policy: %v", err)
		}

		gate, err := advisory.GateFromConfig(config, spending, logger)
		if err != nil {
			fail("agent", "invalid advisory configuration: %v", err)
		}

		paywallCfg, err := payment.PaywallConfigFromConfig(config)
		if err != nil {
			fail("agent", "invalid payment configuration: %v", err)
		}
		timeout := time.Duration(paywallCfg.MaxTimeoutSeconds) * time.Second
		signer, err := payment.NewSigner(agentKey.Key, paywallCfg.Domain(), timeout, nil)
		if err != nil {
			fail("agent", "failed to create signer: %v", err)
		}

		var chainClient chain.Client
		if rpcURL := config.GetConfigWithDefault("rpc_url", ""); rpcURL != "" {
			if c, err := chain.Dial(rpcURL); err == nil {
				chainClient = c
			} else {
				logger.Warn(fmt.Sprintf("Balance reads disabled, failed to dial %s: %v", rpcURL, err), "agent")
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := agentpkg.PaywallClientFromConfig(config, logger)

		var reporter agentpkg.Reporter
		if config.GetConfigBool("agent_report_payments", true) {
			pool := workers.NewWorkerPool(ctx, config.GetConfigInt("worker_pool_size", 4, 1, 64), logger)
			pool.Start()
			defer pool.Stop()

			reporter = agentpkg.NewDashboardReporter(client.BaseURL(), dashboardJWT(agentKey), signer.Address().Hex(), pool, logger)
		}

		a, err := agentpkg.New(agentpkg.ConfigFromConfig(config), signer, gate, client, chainClient, reporter, logger)
		if err != nil {
			fail("agent", "failed to create agent: %v", err)
		}

		if agentOnce {
			resp, err := a.PlayRound(ctx)
			if err != nil {
				fail("agent", "play round failed: %v", err)
			}
			fmt.Printf("allowed=%t premium=%t\n", resp.Allowed, resp.IsPremium)
			return
		}

		fmt.Printf("Agent %s is running against %s. Press Ctrl+C to stop.\n", a.Address().Hex(), client.BaseURL())
		if err := a.Run(ctx); err != nil {
			fail("agent", "agent stopped: %v", err)
		}
		logger.Info("Agent stopped", "agent")
	},
}

// dashboardJWT prefers dashboard_jwt_secret and falls back to the secret
// sealed in the keystore.
func dashboardJWT(agentKey *keystore.AgentKey) *middleware.JWTManager {
	issuer := config.GetConfigWithDefault("dashboard_jwt_issuer", "gasless-arcade")
	if secret := config.GetConfigWithDefault("dashboard_jwt_secret", ""); secret != "" {
		return middleware.NewJWTManager([]byte(secret), issuer)
	}
	if len(agentKey.JWTSecret) > 0 {
		return middleware.NewJWTManager(agentKey.JWTSecret, issuer)
	}
	return nil
}

func init() {
	agentCmd.Flags().StringVar(&passphraseFile, "passphrase-file", "", "file holding the keystore passphrase")
	agentCmd.Flags().StringVar(&rulesFile, "rules", "", "YAML file overriding the spending rules")
	agentCmd.Flags().BoolVar(&agentOnce, "once", false, "play a single round and exit")
	rootCmd.AddCommand(agentCmd)
}
