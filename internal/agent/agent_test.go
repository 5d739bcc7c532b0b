package agent

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/advisory"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/middleware"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/chain"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/policy"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/workers"
)

const (
	testPayTo = "0x1111111111111111111111111111111111111111"
	testAsset = "0xc21223249CA28397B4B6541dfFaEcC539BfF0c59"
)

func testLogger() utils.Logger {
	return utils.NewWriterLogsManager(io.Discard, "debug")
}

type captureReporter struct {
	mu      sync.Mutex
	reports []PaymentReport
}

func (c *captureReporter) Report(r PaymentReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func (c *captureReporter) all() []PaymentReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PaymentReport(nil), c.reports...)
}

func testDomain() payment.Domain {
	return payment.Domain{Name: "USD Coin", Version: "2", ChainID: 338, VerifyingContract: common.HexToAddress(testAsset)}
}

type fixture struct {
	agent    *Agent
	policy   *policy.SpendingPolicy
	reporter *captureReporter
	states   []State
}

func newFixture(t *testing.T, client *PaywallClient) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := payment.NewSigner(key, testDomain(), 300*time.Second, nil)
	require.NoError(t, err)

	pol, err := policy.New(policy.DefaultRules(), nil)
	require.NoError(t, err)
	gate := advisory.NewGate(advisory.Config{Mode: advisory.ModeRules}, nil, pol, testLogger())

	f := &fixture{policy: pol, reporter: &captureReporter{}}
	f.agent, err = New(Config{PollInterval: 10 * time.Millisecond, Decimals: 6, Game: "arcade"},
		signer, gate, client, nil, f.reporter, testLogger())
	require.NoError(t, err)
	f.agent.OnStateChange(func(s State) { f.states = append(f.states, s) })
	return f
}

func challenge(units string, proofFormat string) *payment.ChallengeBody {
	return &payment.ChallengeBody{
		Error:   "Payment required",
		Message: "Pay to continue playing",
		Invoice: payment.Invoice{
			ID:          "inv_1",
			Amount:      units,
			Currency:    "USDC",
			Network:     "cronos-t3",
			Description: "Gasless Arcade Premium Play",
		},
		PaymentRequirements: payment.PaymentRequirements{
			Scheme:            "exact",
			Network:           "cronos-t3",
			MaxAmountRequired: units,
			PayTo:             testPayTo,
			MaxTimeoutSeconds: 300,
			Asset:             testAsset,
			Extra: &payment.PaymentRequirementsExtra{
				Name:        "USD Coin",
				Version:     "2",
				ChainID:     338,
				ProofFormat: proofFormat,
			},
		},
	}
}

func TestChargeFromChallenge(t *testing.T) {
	charge, err := ChargeFromChallenge(challenge("10000", ""), 6)
	require.NoError(t, err)
	assert.Equal(t, "0.01", charge.Amount.String())
	assert.Equal(t, big.NewInt(10000), charge.Units)

	bad := challenge("10000", "")
	bad.PaymentRequirements.PayTo = ""
	_, err = ChargeFromChallenge(bad, 6)
	assert.ErrorIs(t, err, ErrInvalidCharge)

	bad = challenge("ten", "")
	_, err = ChargeFromChallenge(bad, 6)
	assert.ErrorIs(t, err, ErrInvalidCharge)

	_, err = ChargeFromChallenge(nil, 6)
	assert.ErrorIs(t, err, ErrInvalidCharge)
}

func TestConfigDecimals(t *testing.T) {
	cfg := ConfigFromConfig(utils.NewConfigManagerFromValues(utils.Config{}))
	assert.Equal(t, 6, cfg.Decimals)

	cfg = ConfigFromConfig(utils.NewConfigManagerFromValues(utils.Config{"game_fee_decimals": "0"}))
	assert.Equal(t, 0, cfg.Decimals)

	f := newFixture(t, nil)
	a, err := New(cfg, f.agent.signer, f.agent.authorizer, nil, nil, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, a.cfg.Decimals)

	charge, err := ChargeFromChallenge(challenge("10000", ""), a.cfg.Decimals)
	require.NoError(t, err)
	assert.Equal(t, "10000", charge.Amount.String())

	cfg.Decimals = -1
	_, err = New(cfg, f.agent.signer, f.agent.authorizer, nil, nil, nil, testLogger())
	assert.Error(t, err)
}

func TestProcessChargeSignsWithinLimits(t *testing.T) {
	f := newFixture(t, nil)

	charge, err := ChargeFromChallenge(challenge("30000", ""), 6)
	require.NoError(t, err)

	result := f.agent.ProcessCharge(context.Background(), charge)
	require.True(t, result.Success, result.Reason)
	assert.Equal(t, []State{StateCheckingPolicy, StateSigning, StateRecording, StateIdle}, f.states)
	assert.Equal(t, StateIdle, f.agent.State())
	assert.Equal(t, 0, f.policy.Snapshot().DailySpent.Cmp(money.MustParse("0.03")))

	proof, err := payment.DecodeProof(result.Header)
	require.NoError(t, err)
	assert.Equal(t, payment.ProofSignature, proof.Kind)
	require.Len(t, proof.Bytes, 65)

	signer, err := payment.RecoverSigner(testDomain(), result.Authorization.Message, proof.Bytes)
	require.NoError(t, err)
	assert.Equal(t, f.agent.Address(), signer)
	assert.Equal(t, 0, result.Authorization.Message.ValidAfter.Sign())

	reports := f.reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, StatusSuccess, reports[0].Status)
	assert.Equal(t, "inv_1", reports[0].InvoiceID)

	// second 0.03 still fits the daily limit
	result = f.agent.ProcessCharge(context.Background(), charge)
	require.True(t, result.Success)
	assert.Equal(t, 0, f.policy.Snapshot().DailySpent.Cmp(money.MustParse("0.06")))
}

func TestProcessChargeDenied(t *testing.T) {
	f := newFixture(t, nil)

	charge, err := ChargeFromChallenge(challenge("60000", ""), 6)
	require.NoError(t, err)

	result := f.agent.ProcessCharge(context.Background(), charge)
	assert.False(t, result.Success)
	assert.Equal(t, "Amount exceeds max payment per tx (0.05)", result.Reason)
	assert.Empty(t, result.Header)
	assert.Equal(t, []State{StateCheckingPolicy, StateDenied, StateIdle}, f.states)
	assert.True(t, f.policy.Snapshot().DailySpent.IsZero())

	reports := f.reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, StatusFailed, reports[0].Status)
	assert.Equal(t, result.Reason, reports[0].Reason)
}

func TestProcessChargeSigningFailureReleasesSpend(t *testing.T) {
	f := newFixture(t, nil)

	charge, err := ChargeFromChallenge(challenge("20000", ""), 6)
	require.NoError(t, err)
	charge.Requirements.PayTo = "not-an-address"

	result := f.agent.ProcessCharge(context.Background(), charge)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "signing failed")
	assert.True(t, f.policy.Snapshot().DailySpent.IsZero())
	assert.Equal(t, StateIdle, f.agent.State())
}

func TestProcessChargePayloadFormat(t *testing.T) {
	f := newFixture(t, nil)

	charge, err := ChargeFromChallenge(challenge("10000", "payload"), 6)
	require.NoError(t, err)

	result := f.agent.ProcessCharge(context.Background(), charge)
	require.True(t, result.Success)

	proof, err := payment.DecodeProof(result.Header)
	require.NoError(t, err)
	assert.Equal(t, payment.ProofPayload, proof.Kind)
	require.NotNil(t, proof.Payload)
	assert.Equal(t, "10000", proof.Payload.Authorization.Value)
	assert.Equal(t, f.agent.Address().Hex(), proof.Payload.Authorization.From)
}

func TestPlayRoundPaysChallenge(t *testing.T) {
	var (
		mu      sync.Mutex
		headers []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/play", r.URL.Path)
		header := r.Header.Get(payment.HeaderName)
		mu.Lock()
		headers = append(headers, header)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if header == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(challenge("10000", ""))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"allowed":   true,
			"isPremium": true,
			"gameData":  map[string]string{"gameId": "game_1"},
		})
	}))
	defer srv.Close()

	f := newFixture(t, NewPaywallClient(srv.URL, time.Second, 0, time.Millisecond, testLogger()))

	resp, err := f.agent.PlayRound(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.IsPremium)
	assert.JSONEq(t, `{"gameId":"game_1"}`, string(resp.GameData))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, headers, 2)
	assert.Empty(t, headers[0])
	assert.NotEmpty(t, headers[1])
}

func TestPlayRoundDeniedDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(challenge("1000000", ""))
	}))
	defer srv.Close()

	f := newFixture(t, NewPaywallClient(srv.URL, time.Second, 0, time.Millisecond, testLogger()))

	resp, err := f.agent.PlayRound(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.PaymentRequired())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPaywallClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"allowed":true,"isPremium":false,"freePlayRemaining":2}`))
	}))
	defer srv.Close()

	client := NewPaywallClient(srv.URL, time.Second, 3, time.Millisecond, testLogger())
	resp, err := client.Play(context.Background(), "0xabc", "")
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, 2, resp.FreePlayRemaining)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPaywallClientGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
	}))
	defer srv.Close()

	client := NewPaywallClient(srv.URL, time.Second, 2, time.Millisecond, testLogger())
	_, err := client.Play(context.Background(), "0xabc", "")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestVerifyPaymentRejectedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xabc", body["address"])
		assert.Equal(t, "header", body["paymentHeader"])
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"success":false,"error":"Invalid payment"}`))
	}))
	defer srv.Close()

	client := NewPaywallClient(srv.URL, time.Second, 3, time.Millisecond, testLogger())
	err := client.VerifyPayment(context.Background(), "0xabc", "header")
	assert.ErrorIs(t, err, ErrPaymentRejected)
	assert.Contains(t, err.Error(), "Invalid payment")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDashboardReporterSendsSignedReport(t *testing.T) {
	jm := middleware.NewJWTManager([]byte("0123456789abcdef0123456789abcdef"), "gasless-arcade")
	received := make(chan map[string]interface{}, 1)

	srv := httptest.NewServer(jm.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := middleware.GetClaims(r)
		if assert.NoError(t, err) {
			assert.Equal(t, "0xAgent", claims.AgentAddress)
		}

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		_, _ = w.Write([]byte(`{"success":true}`))
	})))
	defer srv.Close()

	pool := workers.NewWorkerPool(context.Background(), 1, testLogger())
	pool.Start()
	defer pool.Stop()

	reporter := NewDashboardReporter(srv.URL, jm, "0xAgent", pool, testLogger())
	reporter.Report(PaymentReport{Game: "arcade", Amount: money.MustParse("0.01"), Currency: "USDC", Status: StatusSuccess})

	select {
	case body := <-received:
		assert.Equal(t, "arcade", body["game"])
		assert.Equal(t, 0.01, body["amount"])
		assert.Equal(t, "success", body["status"])
	case <-time.After(5 * time.Second):
		t.Fatal("report was not delivered")
	}
}

func TestDashboardReporterUnauthorized(t *testing.T) {
	jm := middleware.NewJWTManager([]byte("0123456789abcdef0123456789abcdef"), "gasless-arcade")
	srv := httptest.NewServer(jm.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a token")
	})))
	defer srv.Close()

	reporter := NewDashboardReporter(srv.URL, nil, "0xAgent", nil, testLogger())
	err := reporter.Send(context.Background(), PaymentReport{Game: "arcade", Amount: money.MustParse("0.01"), Status: StatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRunSurvivesBalanceErrors(t *testing.T) {
	f := newFixture(t, nil)
	fake := chain.NewFakeClient(338)
	fake.Err = assert.AnError
	f.agent.chain = fake

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.agent.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent loop did not stop after cancellation")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "checking_advisory", StateCheckingAdvisory.String())
	assert.Equal(t, "denied", StateDenied.String())
	assert.Equal(t, "unknown", State(42).String())
}
