package payment

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

// VerificationMode selects how much a payment header has to prove.
type VerificationMode string

const (
	// ModeLenient accepts any decodable header.
	ModeLenient VerificationMode = "lenient"
	// ModeStrict requires a structured header whose signature recovers to
	// the payer, pays the configured recipient at least the fee, is inside
	// its validity window and carries an unused nonce.
	ModeStrict VerificationMode = "strict"
)

func ParseVerificationMode(s string) (VerificationMode, error) {
	switch VerificationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLenient:
		return ModeLenient, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown payment verification mode %q", s)
	}
}

// IsProofError reports whether err means the presented proof was rejected,
// as opposed to an infrastructure failure.
func IsProofError(err error) bool {
	for _, target := range []error{
		ErrPaymentRequired,
		ErrMalformedProof,
		ErrInvalidSignature,
		ErrSignerMismatch,
		ErrRecipientMismatch,
		ErrInsufficientPayment,
		ErrAuthorizationExpired,
		ErrNonceReplayed,
		ErrInvalidPayer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Verification is the accepted form of a payment header.
type Verification struct {
	Proof  *Proof
	Signer string // lower-cased recovered signer, strict mode only
}

// Verifier checks payment headers.
type Verifier struct {
	mode     VerificationMode
	domain   Domain
	payTo    common.Address
	required *big.Int
	clock    utils.Clock
	nonces   *NonceSet
}

func NewVerifier(mode VerificationMode, domain Domain, payTo string, required *big.Int, clock utils.Clock) (*Verifier, error) {
	if clock == nil {
		clock = utils.RealClock{}
	}
	v := &Verifier{
		mode:     mode,
		domain:   domain,
		required: new(big.Int),
		clock:    clock,
		nonces:   NewNonceSet(clock),
	}
	if required != nil {
		v.required.Set(required)
	}

	if mode == ModeStrict {
		if !common.IsHexAddress(payTo) {
			return nil, fmt.Errorf("strict verification needs a hex payee address: %w", ErrInvalidRecipient)
		}
		v.payTo = common.HexToAddress(payTo)
	}
	return v, nil
}

func (v *Verifier) Mode() VerificationMode {
	return v.mode
}

// Verify checks header on behalf of payer, which must already be normalized.
func (v *Verifier) Verify(payer string, header string) (*Verification, error) {
	proof, err := DecodeProof(header)
	if err != nil {
		return nil, err
	}

	if v.mode != ModeStrict {
		return &Verification{Proof: proof}, nil
	}

	if proof.Kind != ProofPayload {
		return nil, fmt.Errorf("%w: structured payload required, got %s", ErrMalformedProof, proof.Kind)
	}

	msg, err := ParseAuthorization(proof.Payload.Authorization)
	if err != nil {
		return nil, err
	}

	signature, err := hexutil.Decode(proof.Payload.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex: %v", ErrMalformedProof, err)
	}

	signer, err := RecoverSigner(v.domain, msg, signature)
	if err != nil {
		return nil, err
	}
	if signer != msg.From {
		return nil, fmt.Errorf("%w: recovered %s, authorization from %s", ErrInvalidSignature, signer.Hex(), msg.From.Hex())
	}
	if !strings.EqualFold(signer.Hex(), payer) {
		return nil, fmt.Errorf("%w: recovered %s, payer %s", ErrSignerMismatch, signer.Hex(), payer)
	}
	if msg.To != v.payTo {
		return nil, fmt.Errorf("%w: %s", ErrRecipientMismatch, msg.To.Hex())
	}
	if msg.Value.Cmp(v.required) < 0 {
		return nil, fmt.Errorf("%w: got %s, need %s", ErrInsufficientPayment, msg.Value, v.required)
	}

	now := big.NewInt(v.clock.Now().Unix())
	if now.Cmp(msg.ValidAfter) < 0 || now.Cmp(msg.ValidBefore) >= 0 {
		return nil, fmt.Errorf("%w: now %s, window [%s, %s)", ErrAuthorizationExpired, now, msg.ValidAfter, msg.ValidBefore)
	}

	if !v.nonces.Use(msg.From, msg.Nonce, nonceExpiry(msg.ValidBefore)) {
		return nil, fmt.Errorf("%w: %s", ErrNonceReplayed, hexutil.Encode(msg.Nonce[:]))
	}

	return &Verification{Proof: proof, Signer: strings.ToLower(signer.Hex())}, nil
}

// maxNonceExpiry caps how long a nonce is remembered. validBefore is a
// uint256 and may lie beyond what time.Time can hold.
var maxNonceExpiry = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

func nonceExpiry(validBefore *big.Int) time.Time {
	if !validBefore.IsInt64() || validBefore.Int64() > maxNonceExpiry.Unix() {
		return maxNonceExpiry
	}
	return time.Unix(validBefore.Int64(), 0)
}

type nonceKey struct {
	from  common.Address
	nonce [32]byte
}

// NonceSet remembers used authorization nonces until their authorization
// expires. After that the window check rejects a replay anyway.
type NonceSet struct {
	clock utils.Clock

	mu   sync.Mutex
	used map[nonceKey]time.Time
}

func NewNonceSet(clock utils.Clock) *NonceSet {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &NonceSet{clock: clock, used: make(map[nonceKey]time.Time)}
}

// Use marks nonce as used by from. It returns false if it was already used.
func (s *NonceSet) Use(from common.Address, nonce [32]byte, expiry time.Time) bool {
	now := s.clock.Now()
	key := nonceKey{from: from, nonce: nonce}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, exp := range s.used {
		if !now.Before(exp) {
			delete(s.used, k)
		}
	}

	if _, seen := s.used[key]; seen {
		return false
	}
	s.used[key] = expiry
	return true
}

// Len returns the number of tracked nonces.
func (s *NonceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}
