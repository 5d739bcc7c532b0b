package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/middleware"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/dashboard"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/database"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/game"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/market"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

const (
	testPayee  = "0x1111111111111111111111111111111111111111"
	testAsset  = "0xc21223249CA28397B4B6541dfFaEcC539BfF0c59"
	testPlayer = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type stubFeed struct {
	err error
}

func (f stubFeed) Price(_ context.Context, id string) (market.Quote, error) {
	if !market.IsSupported(id) {
		return market.Quote{}, market.ErrUnsupportedCrypto
	}
	return market.Quote{ID: id, Symbol: "BTC", Name: "Bitcoin", Price: 50000}, nil
}

func (f stubFeed) Prices(_ context.Context) ([]market.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []market.Quote{{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Price: 50000}}, nil
}

type testServer struct {
	*httptest.Server
	ledger *payment.MemoryLedger
	jwt    *middleware.JWTManager
}

func newTestServer(t *testing.T, withJWT bool, feed market.PriceFeed) *testServer {
	t.Helper()
	logger := utils.NewWriterLogsManager(io.Discard, "error")

	ledger := payment.NewMemoryLedger()
	gate, err := payment.NewGate(payment.PaywallConfig{
		FreePlayLimit:     3,
		Amount:            "10000",
		Decimals:          6,
		Currency:          "USDC",
		Network:           "cronos-t3",
		Description:       "Gasless Arcade Premium Play",
		PayTo:             testPayee,
		Asset:             testAsset,
		MaxTimeoutSeconds: 300,
		InvoiceTTL:        5 * time.Minute,
		TokenName:         "USD Coin",
		TokenVersion:      "2",
		ChainID:           338,
		Mode:              payment.ModeLenient,
	}, ledger, nil, logger)
	require.NoError(t, err)

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	store, err := database.NewSQLiteManagerWithDB(db, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if feed == nil {
		feed = stubFeed{}
	}
	mkt := market.NewService(feed, nil, logger)
	t.Cleanup(mkt.Stop)

	deps := Deps{
		Paywall:   gate,
		Game:      game.NewService(nil),
		Market:    mkt,
		Dashboard: dashboard.NewService(store, dashboard.DefaultSettings(), 50, nil),
	}
	if withJWT {
		deps.JWT = middleware.NewJWTManager([]byte("test-secret"), "gasless-arcade")
	}

	cm := utils.NewConfigManagerFromValues(utils.Config{})
	srv := NewServer(cm, logger, nil, deps)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, ledger: ledger, jwt: deps.JWT}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func signedHeader(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := payment.NewSigner(key, payment.Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           338,
		VerifyingContract: common.HexToAddress(testAsset),
	}, 300*time.Second, nil)
	require.NoError(t, err)
	auth, err := signer.Authorize(testPayee, big.NewInt(10000))
	require.NoError(t, err)
	return auth.Header()
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false, nil)
	resp, body := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestPlayRequiresAddress(t *testing.T) {
	ts := newTestServer(t, false, nil)
	resp, body := ts.do(t, http.MethodGet, "/api/play", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Address required", body["error"])
}

func TestPlayFreePlaysThenPaymentRequired(t *testing.T) {
	ts := newTestServer(t, false, nil)

	for _, remaining := range []float64{2, 1, 0} {
		resp, body := ts.do(t, http.MethodGet, "/api/play?address="+testPlayer, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, false, body["isPremium"])
		assert.Equal(t, remaining, body["freePlayRemaining"])
		assert.NotNil(t, body["gameData"])
	}

	resp, body := ts.do(t, http.MethodGet, "/api/play?address="+testPlayer, nil, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "Payment required", body["error"])
	assert.Equal(t, "Pay 0.01 USDC to continue playing", body["message"])
	assert.Equal(t, "true", resp.Header.Get("X-Payment-Required"))
	assert.Equal(t, "10000", resp.Header.Get("X-Payment-Amount"))
	assert.Equal(t, "cronos-t3", resp.Header.Get("X-Payment-Network"))
	assert.Equal(t, testPayee, resp.Header.Get("X-Payment-To"))

	invoice, ok := body["invoice"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, invoice["id"], resp.Header.Get("X-Invoice-Id"))

	reqs, ok := body["paymentRequirements"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "exact", reqs["scheme"])
	assert.Equal(t, testPayee, reqs["payTo"])
}

func TestPlayWithPaymentHeaderThenLedgerShortCircuit(t *testing.T) {
	ts := newTestServer(t, false, nil)
	for i := 0; i < 4; i++ {
		ts.do(t, http.MethodGet, "/api/play?address="+testPlayer, nil, nil)
	}

	resp, body := ts.do(t, http.MethodGet, "/api/play?address="+testPlayer, nil,
		map[string]string{payment.HeaderName: signedHeader(t)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["isPremium"])
	assert.NotContains(t, body, "freePlayRemaining")
	assert.Equal(t, 1, ts.ledger.Len())

	resp, body = ts.do(t, http.MethodGet, "/api/play?address="+testPlayer, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["isPremium"])
	assert.Equal(t, 1, ts.ledger.Len())
}

func TestPlayUndecodableHeaderStillChallenged(t *testing.T) {
	ts := newTestServer(t, false, nil)
	for i := 0; i < 3; i++ {
		ts.do(t, http.MethodGet, "/api/play?address="+testPlayer, nil, nil)
	}
	resp, _ := ts.do(t, http.MethodGet, "/api/play?address="+testPlayer, nil,
		map[string]string{payment.HeaderName: "%%%"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Zero(t, ts.ledger.Len())
}

func TestVerifyPayment(t *testing.T) {
	ts := newTestServer(t, false, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/verify-payment", map[string]string{
		"address":       testPlayer,
		"paymentHeader": "not base64 at all!",
	}, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid payment", body["error"])

	resp, body = ts.do(t, http.MethodPost, "/api/verify-payment", map[string]string{
		"address":       testPlayer,
		"paymentHeader": signedHeader(t),
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Payment verified", body["message"])
	assert.Equal(t, 1, ts.ledger.Len())

	resp, body = ts.do(t, http.MethodGet, "/api/play?address="+testPlayer, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["isPremium"])
}

func TestScoreAndStats(t *testing.T) {
	ts := newTestServer(t, false, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/score", map[string]interface{}{"address": testPlayer}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Address and score required", body["error"])

	resp, body = ts.do(t, http.MethodPost, "/api/score", map[string]interface{}{
		"address": testPlayer, "score": 0, "isPremium": false,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	ts.do(t, http.MethodPost, "/api/score", map[string]interface{}{"address": testPlayer, "score": 150}, nil)

	resp, body = ts.do(t, http.MethodGet, "/api/stats/"+testPlayer, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(150), body["bestScore"])
	assert.Equal(t, float64(2), body["gamesPlayed"])
}

func TestClaimRewardWithoutService(t *testing.T) {
	ts := newTestServer(t, false, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/claim-reward", map[string]interface{}{"address": testPlayer, "score": 200}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Address, score, and gameMode required", body["error"])

	resp, body = ts.do(t, http.MethodPost, "/api/claim-reward", map[string]interface{}{
		"address": testPlayer, "score": 200, "gameMode": "classic",
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Reward service not initialized", body["error"])
}

func TestAgentPaymentsOpenWithoutSecret(t *testing.T) {
	ts := newTestServer(t, false, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/agent/payments", map[string]interface{}{"amount": 0.01}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "game (string) is required", body["error"])

	resp, body = ts.do(t, http.MethodPost, "/api/agent/payments", map[string]interface{}{"game": "arcade", "amount": "0.01"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "amount (number) is required", body["error"])

	resp, body = ts.do(t, http.MethodPost, "/api/agent/payments", map[string]interface{}{
		"game": "arcade", "amount": 0.01, "status": "weird",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = ts.do(t, http.MethodGet, "/api/agent/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.01, body["todaysSpend"])
	assert.Equal(t, 0.25, body["balance"])
	assert.Equal(t, 0.1, body["dailyLimit"])
	assert.Equal(t, "USDC", body["currency"])

	payments, ok := body["payments"].([]interface{})
	require.True(t, ok)
	require.Len(t, payments, 1)
	assert.Equal(t, "success", payments[0].(map[string]interface{})["status"])
}

func TestAgentPaymentsRequireTokenWhenSecretSet(t *testing.T) {
	ts := newTestServer(t, true, nil)
	payload := map[string]interface{}{"game": "arcade", "amount": 0.01}

	resp, body := ts.do(t, http.MethodPost, "/api/agent/payments", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Missing Authorization header", body["error"])

	token, err := ts.jwt.GenerateToken(testPlayer, time.Minute)
	require.NoError(t, err)
	resp, body = ts.do(t, http.MethodPost, "/api/agent/payments", payload,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = ts.do(t, http.MethodGet, "/api/agent/stats", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "stats stay public")
}

func TestAgentConfigUpdate(t *testing.T) {
	ts := newTestServer(t, false, nil)

	resp, body := ts.do(t, http.MethodPut, "/api/agent/config", map[string]interface{}{"dailyLimit": 0.5}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.5, body["dailyLimit"])
	assert.Equal(t, 0.25, body["balance"])

	resp, _ = ts.do(t, http.MethodPut, "/api/agent/config", map[string]interface{}{"balance": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarketValidationMessages(t *testing.T) {
	ts := newTestServer(t, false, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/market/guess", map[string]interface{}{
		"address": testPlayer, "crypto": "bitcoin", "guess": "up",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields: address, crypto, startPrice, guess", body["error"])

	resp, body = ts.do(t, http.MethodPost, "/api/market/guess", map[string]interface{}{
		"address": testPlayer, "crypto": "bitcoin", "startPrice": 50000, "guess": "sideways",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Guess must be 'up' or 'down'", body["error"])
	assert.Equal(t, false, body["success"])

	resp, body = ts.do(t, http.MethodGet, "/api/market/price/notacoin", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Unsupported cryptocurrency", body["error"])
}

func TestMarketGuessLifecycle(t *testing.T) {
	ts := newTestServer(t, false, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/market/guess", map[string]interface{}{
		"address": testPlayer, "crypto": "bitcoin", "startPrice": 50000, "guess": "UP", "duration": 60,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Evaluating guess for bitcoin in 60 seconds...", body["message"])
	assert.Equal(t, float64(60), body["duration"])
	id, _ := body["guessId"].(string)
	require.NotEmpty(t, id)

	resp, body = ts.do(t, http.MethodGet, "/api/market/guess/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	guess := body["guess"].(map[string]interface{})
	assert.Equal(t, "pending", guess["status"])
	assert.Equal(t, "up", guess["userGuess"])

	resp, _ = ts.do(t, http.MethodDelete, "/api/market/guess/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/api/market/guess/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/market/stats/"+testPlayer, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testPlayer, body["address"])
	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, float64(0), stats["totalGuesses"])

	resp, body = ts.do(t, http.MethodGet, "/api/market/leaderboard?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{}, body["leaderboard"])
}

func TestMarketCryptosFailure(t *testing.T) {
	ts := newTestServer(t, false, stubFeed{err: market.ErrNoPriceData})
	resp, body := ts.do(t, http.MethodGet, "/api/market/cryptos", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to fetch cryptocurrency data", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, false, nil)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/play", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Payment")
}

func TestParsePortList(t *testing.T) {
	assert.Equal(t, []string{}, parsePortList(""))
	assert.Equal(t, []string{"5001", "5002"}, parsePortList(" 5001, ,5002 "))
}

func TestLoadOrCreateCertificate(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	_, created, err := loadOrCreateCertificate(dir, now)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = loadOrCreateCertificate(dir, now)
	require.NoError(t, err)
	assert.False(t, created)

	_, created, err = loadOrCreateCertificate(dir, now.Add(400*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, created, "expired certificate is replaced")
}
