package payment

import (
	"encoding/json"
	"time"
)

// Invoice describes what payment would satisfy a 402 challenge for a payer.
// Invoices are immutable once issued.
type Invoice struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Amount      string `json:"amount"` // base units
	Currency    string `json:"currency"`
	Network     string `json:"network"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"` // unix ms
	ExpiresAt   int64  `json:"expiresAt"` // unix ms
}

// Expired reports whether the invoice is past its expiry at now.
func (i Invoice) Expired(now time.Time) bool {
	return now.UnixMilli() >= i.ExpiresAt
}

// PaymentRequirements is the x402 "exact" scheme requirement block returned
// in a 402 body.
type PaymentRequirements struct {
	Scheme            string                    `json:"scheme"`
	Network           string                    `json:"network"`
	MaxAmountRequired string                    `json:"maxAmountRequired"`
	Resource          string                    `json:"resource,omitempty"`
	Description       string                    `json:"description,omitempty"`
	MimeType          string                    `json:"mimeType,omitempty"`
	PayTo             string                    `json:"payTo"`
	MaxTimeoutSeconds int                       `json:"maxTimeoutSeconds"`
	Asset             string                    `json:"asset"`
	Extra             *PaymentRequirementsExtra `json:"extra,omitempty"`
}

// PaymentRequirementsExtra carries the EIP-712 domain parameters of the asset.
type PaymentRequirementsExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	ChainID int64  `json:"chainId,omitempty"`

	// ProofFormat is "payload" when the gate only accepts the structured
	// header form.
	ProofFormat string `json:"proofFormat,omitempty"`
}

// Challenge is everything a 402 response carries.
type Challenge struct {
	Invoice      Invoice
	Requirements PaymentRequirements
	Message      string
	Headers      map[string]string
}

// ChallengeBody is the JSON body of a 402 response.
type ChallengeBody struct {
	Error               string              `json:"error"`
	Message             string              `json:"message"`
	Invoice             Invoice             `json:"invoice"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Body renders the challenge as a 402 response body.
func (c *Challenge) Body() ChallengeBody {
	return ChallengeBody{
		Error:               "Payment required",
		Message:             c.Message,
		Invoice:             c.Invoice,
		PaymentRequirements: c.Requirements,
	}
}

// PaymentRecord is the ledger entry created by a successful verification.
type PaymentRecord struct {
	Address   string    `json:"address"`
	Amount    string    `json:"amount"`
	ProofRef  string    `json:"proofRef"`
	Proof     string    `json:"-"`
	InvoiceID string    `json:"invoiceId,omitempty"`
	Payer     string    `json:"payer,omitempty"` // recovered signer, strict mode only
	Timestamp time.Time `json:"timestamp"`
}

func (r PaymentRecord) MarshalJSON() ([]byte, error) {
	type Alias PaymentRecord
	return json.Marshal(&struct {
		Alias
		Timestamp int64 `json:"timestamp"`
	}{
		Alias:     Alias(r),
		Timestamp: r.Timestamp.UnixMilli(),
	})
}

// X402PayloadWrapper is the structured form of a payment header: the
// authorization fields plus the hex signature over them.
type X402PayloadWrapper struct {
	Signature     string             `json:"signature"`
	Authorization *X402Authorization `json:"authorization"`
	Domain        *X402Domain        `json:"domain,omitempty"`
}

// X402Domain is the EIP-712 domain in wire form.
type X402Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainId           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// X402Authorization is the TransferWithAuthorization message in wire form.
type X402Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}
