package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/api"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/middleware"
	ws "github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/websocket"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/dashboard"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/database"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/game"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/market"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/rewards"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the arcade backend behind the x402 paywall",
	Long: `Run the arcade HTTP backend.

This will:
- Open the SQLite store for payments, agent history and reward claims
- Serve /api/play behind the x402 paywall with free plays first
- Serve score, reward, market guess and agent dashboard endpoints
- Push guess results and agent payments over /api/ws`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("Starting Gasless Arcade backend...", "cli")

		pidManager := utils.NewPIDManager(config)
		if existingPID, err := pidManager.ReadPID(); err == nil {
			if pidManager.IsProcessRunning(existingPID) {
				fail("cli", "another instance is already running with PID %d; use 'gasless-arcade stop' first", existingPID)
			}
			pidManager.RemovePIDFile()
		}
		if err := pidManager.WritePID(os.Getpid()); err != nil {
			fail("cli", "failed to write PID file: %v", err)
		}
		defer func() {
			if err := pidManager.RemovePIDFile(); err != nil {
				logger.Warn(fmt.Sprintf("Failed to remove PID file: %v", err), "cli")
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		db, err := database.NewSQLiteManager(config, logger)
		if err != nil {
			fail("cli", "failed to open database: %v", err)
		}
		defer db.Close()

		paywallCfg, err := payment.PaywallConfigFromConfig(config)
		if err != nil {
			fail("cli", "invalid paywall configuration: %v", err)
		}
		if paywallCfg.PayTo == "" {
			logger.Warn("facilitator_address is empty; agents cannot sign payments to this paywall", "cli")
		}
		gate, err := payment.NewGate(paywallCfg, payment.NewSQLLedger(db), nil, logger)
		if err != nil {
			fail("cli", "failed to create paywall: %v", err)
		}
		cleanupInterval := time.Duration(config.GetConfigInt("invoice_cleanup_interval_seconds", 60, 1, 86400)) * time.Second
		gate.Invoices().StartCleanupRoutine(ctx, cleanupInterval)

		rewardService, err := rewards.FromConfig(config, db, logger)
		if err != nil {
			if errors.Is(err, rewards.ErrNotConfigured) {
				logger.Warn("Reward service disabled: set REWARD_WALLET_PRIVATE_KEY to enable payouts", "cli")
			} else {
				logger.Error(fmt.Sprintf("Failed to initialize reward service: %v", err), "cli")
			}
			rewardService = nil
		} else {
			logger.Info(fmt.Sprintf("Reward payouts enabled from %s", rewardService.Wallet().Hex()), "cli")
		}

		feed := market.NewCoinGecko(
			config.GetConfigWithDefault("market_price_api", ""),
			time.Duration(config.GetConfigInt("market_timeout_seconds", 10, 1, 120))*time.Second,
		)
		marketService := market.NewService(feed, nil, logger)
		defer marketService.Stop()

		var jwtManager *middleware.JWTManager
		if secret := config.GetConfigWithDefault("dashboard_jwt_secret", ""); secret != "" {
			jwtManager = middleware.NewJWTManager([]byte(secret), config.GetConfigWithDefault("dashboard_jwt_issuer", "gasless-arcade"))
		} else {
			logger.Warn("dashboard_jwt_secret is empty; POST /api/agent/payments accepts unauthenticated writes", "cli")
		}

		hub := ws.NewHub(logger.Logrus())
		go hub.Run(ctx)

		server := api.NewServer(config, logger, logger.Logrus(), api.Deps{
			Paywall:   gate,
			Game:      game.NewService(nil),
			Rewards:   rewardService,
			Market:    marketService,
			Dashboard: dashboard.FromConfig(config, db),
			JWT:       jwtManager,
			Hub:       hub,
		})
		if err := server.Start(); err != nil {
			fail("cli", "failed to start API server: %v", err)
		}

		fmt.Printf("Gasless Arcade backend is running on port %s. Press Ctrl+C to stop.\n", server.Port())

		<-ctx.Done()
		logger.Info("Shutdown signal received, stopping backend...", "cli")

		if err := server.Stop(); err != nil {
			logger.Error(fmt.Sprintf("Error stopping API server: %v", err), "cli")
		}
		db.PerformMaintenance()
		logger.Info("Gasless Arcade backend stopped", "cli")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
