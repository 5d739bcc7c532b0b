package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/middleware"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/workers"
)

const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// PaymentReport is one entry in the agent dashboard's payment history.
type PaymentReport struct {
	Game      string       `json:"game"`
	Amount    money.Amount `json:"amount"`
	Currency  string       `json:"currency"`
	Status    string       `json:"status"`
	InvoiceID string       `json:"invoiceId,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Reporter publishes payment outcomes. Report must not block the caller.
type Reporter interface {
	Report(report PaymentReport)
}

type nopReporter struct{}

func (nopReporter) Report(PaymentReport) {}

// DashboardReporter posts reports to /api/agent/payments on a worker pool,
// signed with a short-lived bearer token when a secret is configured.
type DashboardReporter struct {
	endpoint   string
	httpClient *http.Client
	jwt        *middleware.JWTManager
	agent      string
	pool       *workers.WorkerPool
	logger     utils.Logger
}

func NewDashboardReporter(baseURL string, jwtManager *middleware.JWTManager, agentAddress string, pool *workers.WorkerPool, logger utils.Logger) *DashboardReporter {
	return &DashboardReporter{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/agent/payments",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		jwt:        jwtManager,
		agent:      agentAddress,
		pool:       pool,
		logger:     logger,
	}
}

// Report queues report for delivery. A stopped pool drops it with a warning.
func (r *DashboardReporter) Report(report PaymentReport) {
	err := r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := r.Send(ctx, report); err != nil {
			r.logger.Warn(fmt.Sprintf("Failed to report %s payment to dashboard: %v", report.Status, err), "reporter")
		}
	})
	if err != nil {
		r.logger.Warn(fmt.Sprintf("Dropping dashboard report: %v", err), "reporter")
	}
}

// Send delivers report synchronously.
func (r *DashboardReporter) Send(ctx context.Context, report PaymentReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if r.jwt != nil {
		token, err := r.jwt.GenerateToken(r.agent, 5*time.Minute)
		if err != nil {
			return fmt.Errorf("failed to sign dashboard token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dashboard returned HTTP %d: %s", resp.StatusCode, errorMessage(respBody))
	}
	return nil
}
