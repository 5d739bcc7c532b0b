// Package rewards pays out native-token rewards for high classic-mode scores.
package rewards

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/chain"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/database"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var ErrNotConfigured = errors.New("reward wallet private key not configured")

const (
	ReasonNotEligible      = "Rewards only available for normal mode with score >= 100"
	ReasonAlreadyClaimed   = "Reward already claimed for this game session"
	ReasonInsufficientFund = "Insufficient funds in reward wallet"
	ReasonInvalidAddress   = "Invalid player address"
)

var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ClaimStore persists payouts. *database.SQLiteManager implements it.
type ClaimStore interface {
	InsertRewardClaim(ctx context.Context, row *database.RewardClaimRow) error
	CountRewardClaimsSince(ctx context.Context, address string, score int64, gameMode string, since time.Time) (int, error)
	ListRewardClaims(ctx context.Context, address string) ([]*database.RewardClaimRow, error)
}

type Config struct {
	ChainID         int64
	PointsPerToken  int64
	RewardMode      string
	DuplicateWindow time.Duration
	Timeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChainID:         338,
		PointsPerToken:  100,
		RewardMode:      "classic",
		DuplicateWindow: 5 * time.Minute,
		Timeout:         60 * time.Second,
	}
}

// ClaimResult is the outcome of one claim. RewardAmount is in wei.
type ClaimResult struct {
	Success      bool
	TxHash       string
	RewardAmount *big.Int
	Error        string
}

// Formatted renders RewardAmount in whole tokens.
func (r ClaimResult) Formatted() string {
	return FormatWei(r.RewardAmount)
}

// Service sends rewards from a hot wallet. Claims are serialized so the
// duplicate guard and the wallet nonce stay consistent.
type Service struct {
	cfg    Config
	client chain.Client
	key    *ecdsa.PrivateKey
	wallet common.Address
	store  ClaimStore
	clock  utils.Clock
	logger utils.Logger

	mu sync.Mutex
}

func NewService(cfg Config, client chain.Client, key *ecdsa.PrivateKey, store ClaimStore, clock utils.Clock, logger utils.Logger) (*Service, error) {
	if key == nil {
		return nil, ErrNotConfigured
	}
	if client == nil || store == nil {
		return nil, fmt.Errorf("reward service needs a chain client and a claim store")
	}
	if cfg.PointsPerToken <= 0 {
		return nil, fmt.Errorf("points per token must be positive, got %d", cfg.PointsPerToken)
	}
	if clock == nil {
		clock = utils.RealClock{}
	}

	s := &Service{
		cfg:    cfg,
		client: client,
		key:    key,
		wallet: crypto.PubkeyToAddress(key.PublicKey),
		store:  store,
		clock:  clock,
		logger: logger,
	}
	logger.Info(fmt.Sprintf("Reward wallet initialized: %s", s.wallet.Hex()), "rewards")
	return s, nil
}

// FromConfig dials rpc_url and loads reward_wallet_private_key.
func FromConfig(cm *utils.ConfigManager, store ClaimStore, logger utils.Logger) (*Service, error) {
	raw := cm.GetConfigWithDefault("reward_wallet_private_key", "")
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNotConfigured
	}
	key, err := payment.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("reward_wallet_private_key: %w", err)
	}

	client, err := chain.Dial(cm.GetConfigWithDefault("rpc_url", "https://evm-t3.cronos.org"))
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	cfg := DefaultConfig()
	cfg.ChainID = cm.GetConfigInt64("chain_id", cfg.ChainID, 1, 1<<40)
	cfg.PointsPerToken = cm.GetConfigInt64("reward_points_per_token", cfg.PointsPerToken, 1, 1<<40)
	cfg.RewardMode = cm.GetConfigWithDefault("reward_game_mode", cfg.RewardMode)
	cfg.DuplicateWindow = time.Duration(cm.GetConfigInt("reward_duplicate_window_seconds", 300, 0, 86400)) * time.Second

	return NewService(cfg, client, key, store, nil, logger)
}

func (s *Service) Wallet() common.Address {
	return s.wallet
}

// CalculateReward converts a score to wei: one whole token per
// PointsPerToken points, rounded down.
func (s *Service) CalculateReward(score int64) *big.Int {
	if score <= 0 {
		return big.NewInt(0)
	}
	tokens := big.NewInt(score / s.cfg.PointsPerToken)
	return tokens.Mul(tokens, weiPerToken)
}

// Claim pays the reward for score to address. Business rejections and
// payout failures come back as an unsuccessful result.
func (s *Service) Claim(ctx context.Context, address string, score int64, gameMode string) ClaimResult {
	if gameMode != s.cfg.RewardMode || score < s.cfg.PointsPerToken {
		return ClaimResult{Error: ReasonNotEligible, RewardAmount: big.NewInt(0)}
	}

	reward := s.CalculateReward(score)
	if !common.IsHexAddress(address) {
		return ClaimResult{Error: ReasonInvalidAddress, RewardAmount: reward}
	}
	player := strings.ToLower(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	now := s.clock.Now()
	recent, err := s.store.CountRewardClaimsSince(ctx, player, score, gameMode, now.Add(-s.cfg.DuplicateWindow))
	if err != nil {
		return s.failed(reward, fmt.Errorf("failed to check previous claims: %w", err))
	}
	if recent > 0 {
		return ClaimResult{Error: ReasonAlreadyClaimed, RewardAmount: reward}
	}

	balance, err := s.client.BalanceAt(ctx, s.wallet, nil)
	if err != nil {
		return s.failed(reward, fmt.Errorf("failed to read wallet balance: %w", err))
	}
	if balance.Cmp(reward) < 0 {
		return ClaimResult{Error: ReasonInsufficientFund, RewardAmount: reward}
	}

	txHash, err := chain.SendValue(ctx, s.client, s.key, common.HexToAddress(address), reward, big.NewInt(s.cfg.ChainID))
	if err != nil {
		return s.failed(reward, err)
	}

	s.logger.Info(fmt.Sprintf("Reward sent: %s tCRO to %s (tx %s)", FormatWei(reward), address, txHash.Hex()), "rewards")

	if err := s.store.InsertRewardClaim(ctx, &database.RewardClaimRow{
		Address:   player,
		Score:     score,
		GameMode:  gameMode,
		AmountWei: reward.String(),
		TxHash:    txHash.Hex(),
		CreatedAt: now,
	}); err != nil {
		// The transfer is already broadcast; report success and keep the log.
		s.logger.Error(fmt.Sprintf("Failed to persist reward claim %s: %v", txHash.Hex(), err), "rewards")
	}

	return ClaimResult{Success: true, TxHash: txHash.Hex(), RewardAmount: reward}
}

func (s *Service) failed(reward *big.Int, err error) ClaimResult {
	s.logger.Error(fmt.Sprintf("Error sending reward: %v", err), "rewards")
	return ClaimResult{Error: err.Error(), RewardAmount: reward}
}

// History lists the payouts to address, newest first.
func (s *Service) History(ctx context.Context, address string) ([]*database.RewardClaimRow, error) {
	return s.store.ListRewardClaims(ctx, strings.ToLower(address))
}

// FormatWei renders wei as a whole-token decimal without trailing zeros.
func FormatWei(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}
	return money.FromUnits(wei, 18).Reduced().String()
}
