package payment

import "errors"

var (
	// Invoice errors
	ErrInvalidPayer    = errors.New("payer address required")
	ErrInvoiceNotFound = errors.New("invoice not found")

	// Proof errors
	ErrPaymentRequired      = errors.New("payment header required")
	ErrMalformedProof       = errors.New("payment header could not be decoded")
	ErrInvalidSignature     = errors.New("invalid payment signature")
	ErrSignerMismatch       = errors.New("payment signer does not match payer")
	ErrRecipientMismatch    = errors.New("payment recipient does not match payee")
	ErrInsufficientPayment  = errors.New("insufficient payment amount")
	ErrAuthorizationExpired = errors.New("payment authorization outside validity window")
	ErrNonceReplayed        = errors.New("payment nonce already used")

	// Signer errors
	ErrInvalidKey       = errors.New("invalid private key")
	ErrInvalidRecipient = errors.New("invalid recipient address")
	ErrInvalidAmount    = errors.New("invalid payment amount")
)
