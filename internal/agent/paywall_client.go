package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var (
	ErrBackendUnavailable = errors.New("game backend unavailable")
	ErrPaymentRejected    = errors.New("payment rejected by game backend")
	ErrUnexpectedStatus   = errors.New("unexpected response from game backend")
)

// PlayResponse is the decoded answer of GET /api/play. Challenge is set only
// on a 402.
type PlayResponse struct {
	StatusCode        int                    `json:"-"`
	Allowed           bool                   `json:"allowed"`
	IsPremium         bool                   `json:"isPremium"`
	FreePlayRemaining int                    `json:"freePlayRemaining"`
	GameData          json.RawMessage        `json:"gameData,omitempty"`
	Challenge         *payment.ChallengeBody `json:"-"`
}

// PaymentRequired reports whether the backend answered with a 402.
func (r *PlayResponse) PaymentRequired() bool {
	return r.StatusCode == http.StatusPaymentRequired && r.Challenge != nil
}

// PaywallClient talks to the game backend on behalf of the agent. Transport
// errors and 5xx answers are retried with exponential backoff.
type PaywallClient struct {
	baseURL      string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	logger       utils.Logger
}

func NewPaywallClient(baseURL string, timeout time.Duration, maxRetries int, retryBackoff time.Duration, logger utils.Logger) *PaywallClient {
	return &PaywallClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

// PaywallClientFromConfig reads backend_url and the agent_* HTTP settings.
func PaywallClientFromConfig(cm *utils.ConfigManager, logger utils.Logger) *PaywallClient {
	timeout := time.Duration(cm.GetConfigInt("agent_http_timeout_seconds", 10, 1, 60)) * time.Second
	maxRetries := cm.GetConfigInt("agent_max_retries", 3, 0, 10)
	retryBackoff := time.Duration(cm.GetConfigInt("agent_retry_backoff_ms", 1000, 10, 60000)) * time.Millisecond
	baseURL := cm.GetConfigWithDefault("backend_url", "http://localhost:5000")

	client := NewPaywallClient(baseURL, timeout, maxRetries, retryBackoff, logger)
	logger.Info(fmt.Sprintf("Paywall client initialized: url=%s, retries=%d, backoff=%v",
		client.baseURL, maxRetries, retryBackoff), "paywall_client")
	return client
}

func (c *PaywallClient) BaseURL() string {
	return c.baseURL
}

// Play requests a game for address, attaching header as X-Payment when set.
func (c *PaywallClient) Play(ctx context.Context, address string, header string) (*PlayResponse, error) {
	endpoint := c.baseURL + "/api/play?address=" + url.QueryEscape(address)

	var out *PlayResponse
	err := c.withRetry(ctx, "play", func() error {
		status, body, err := c.send(ctx, http.MethodGet, endpoint, nil, header)
		if err != nil {
			return err
		}

		resp := &PlayResponse{StatusCode: status}
		switch status {
		case http.StatusOK:
			if err := json.Unmarshal(body, resp); err != nil {
				return fmt.Errorf("failed to parse play response: %v", err)
			}
		case http.StatusPaymentRequired:
			var challenge payment.ChallengeBody
			if err := json.Unmarshal(body, &challenge); err != nil {
				return fmt.Errorf("failed to parse payment challenge: %v", err)
			}
			resp.Challenge = &challenge
		default:
			return fmt.Errorf("%w: play returned HTTP %d: %s", ErrUnexpectedStatus, status, errorMessage(body))
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyPayment submits header for address to /api/verify-payment. A 402
// yields ErrPaymentRejected and is never retried.
func (c *PaywallClient) VerifyPayment(ctx context.Context, address string, header string) error {
	reqBody := map[string]string{
		"address":       address,
		"paymentHeader": header,
	}

	return c.withRetry(ctx, "verify-payment", func() error {
		status, body, err := c.send(ctx, http.MethodPost, c.baseURL+"/api/verify-payment", reqBody, "")
		if err != nil {
			return err
		}
		switch status {
		case http.StatusOK:
			return nil
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrPaymentRejected, errorMessage(body))
		default:
			return fmt.Errorf("%w: verify-payment returned HTTP %d: %s", ErrUnexpectedStatus, status, errorMessage(body))
		}
	})
}

func (c *PaywallClient) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := c.retryBackoff * time.Duration(1<<uint(attempt-1))
			c.logger.Info(fmt.Sprintf("Retrying %s after %v (attempt %d/%d)", operation, backoff, attempt, c.maxRetries), "paywall_client")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrBackendUnavailable) {
			return lastErr
		}
		c.logger.Warn(fmt.Sprintf("%s attempt %d failed: %v", operation, attempt+1, lastErr), "paywall_client")
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, c.maxRetries+1, lastErr)
}

// send performs one request. Transport failures and 5xx map to
// ErrBackendUnavailable; every other status is handed back to the caller.
func (c *PaywallClient) send(ctx context.Context, method string, endpoint string, body interface{}, paymentHeader string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gasless-arcade-agent/1.0")
	if paymentHeader != "" {
		req.Header.Set(payment.HeaderName, paymentHeader)
	}

	c.logger.Debug(fmt.Sprintf("%s %s", method, endpoint), "paywall_client")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return resp.StatusCode, respBody, fmt.Errorf("%w: HTTP %d: %s", ErrBackendUnavailable, resp.StatusCode, errorMessage(respBody))
	}
	return resp.StatusCode, respBody, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}
