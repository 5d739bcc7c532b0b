package payment

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

const primaryType = "TransferWithAuthorization"

var privateKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Domain is the EIP-712 domain binding an authorization to one asset contract
// on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// Wire renders the domain in header form.
func (d Domain) Wire() *X402Domain {
	return &X402Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           strconv.FormatInt(d.ChainID, 10),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// TransferAuthorization is the EIP-3009 TransferWithAuthorization message.
type TransferAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// Wire renders the message in header form.
func (m TransferAuthorization) Wire() *X402Authorization {
	return &X402Authorization{
		From:        m.From.Hex(),
		To:          m.To.Hex(),
		Value:       m.Value.String(),
		ValidAfter:  m.ValidAfter.String(),
		ValidBefore: m.ValidBefore.String(),
		Nonce:       hexutil.Encode(m.Nonce[:]),
	}
}

// ParseAuthorization converts the wire form back into a message.
func ParseAuthorization(a *X402Authorization) (TransferAuthorization, error) {
	var msg TransferAuthorization
	if a == nil {
		return msg, fmt.Errorf("%w: missing authorization", ErrMalformedProof)
	}
	if !common.IsHexAddress(a.From) || !common.IsHexAddress(a.To) {
		return msg, fmt.Errorf("%w: invalid from/to address", ErrMalformedProof)
	}
	msg.From = common.HexToAddress(a.From)
	msg.To = common.HexToAddress(a.To)

	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"value", a.Value, &msg.Value},
		{"validAfter", a.ValidAfter, &msg.ValidAfter},
		{"validBefore", a.ValidBefore, &msg.ValidBefore},
	}
	for _, f := range fields {
		v, ok := new(big.Int).SetString(f.raw, 10)
		if !ok || v.Sign() < 0 {
			return msg, fmt.Errorf("%w: invalid %s %q", ErrMalformedProof, f.name, f.raw)
		}
		*f.dst = v
	}

	nonce, err := hexutil.Decode(a.Nonce)
	if err != nil || len(nonce) != 32 {
		return msg, fmt.Errorf("%w: nonce must be 32 bytes", ErrMalformedProof)
	}
	copy(msg.Nonce[:], nonce)

	return msg, nil
}

// TypedData builds the EIP-712 typed data for msg under domain.
func TypedData(domain Domain, msg TransferAuthorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        msg.From.Hex(),
			"to":          msg.To.Hex(),
			"value":       new(big.Int).Set(msg.Value),
			"validAfter":  new(big.Int).Set(msg.ValidAfter),
			"validBefore": new(big.Int).Set(msg.ValidBefore),
			"nonce":       hexutil.Encode(msg.Nonce[:]),
		},
	}
}

// HashTypedData returns keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message)).
func HashTypedData(typedData apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append(append([]byte("\x19\x01"), domainSeparator...), messageHash...)
	return crypto.Keccak256Hash(rawData), nil
}

// ParsePrivateKey accepts a 64-character hex key with or without 0x.
func ParsePrivateKey(key string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(key), "0x")
	if !privateKeyPattern.MatchString(clean) {
		return nil, fmt.Errorf("%w: must be a 64-character hex string (with or without 0x prefix)", ErrInvalidKey)
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	privateKey, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return privateKey, nil
}

// Authorization is a signed transfer authorization.
type Authorization struct {
	Domain    Domain
	Message   TransferAuthorization
	Signature []byte // 65 bytes, v in {27, 28}
}

// Header is the base64 raw-signature form of the payment header.
func (a *Authorization) Header() string {
	return EncodeSignatureHeader(a.Signature)
}

// Payload is the structured form carrying the message with the signature.
func (a *Authorization) Payload() X402PayloadWrapper {
	return X402PayloadWrapper{
		Signature:     hexutil.Encode(a.Signature),
		Authorization: a.Message.Wire(),
		Domain:        a.Domain.Wire(),
	}
}

// PayloadHeader is the base64 JSON form of the payment header.
func (a *Authorization) PayloadHeader() (string, error) {
	return EncodePayloadHeader(a.Payload())
}

// Signer produces transfer authorizations with the payer's key. It holds no
// state between calls.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	domain  Domain
	timeout time.Duration
	clock   utils.Clock
}

func NewSigner(key *ecdsa.PrivateKey, domain Domain, timeout time.Duration, clock utils.Clock) (*Signer, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("authorization timeout must be positive, got %v", timeout)
	}
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		domain:  domain,
		timeout: timeout,
		clock:   clock,
	}, nil
}

// Address is the payer address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Domain returns the signing domain.
func (s *Signer) Domain() Domain {
	return s.domain
}

// WithDomain returns a signer for another domain sharing the same key.
func (s *Signer) WithDomain(domain Domain) *Signer {
	clone := *s
	clone.domain = domain
	return &clone
}

// Authorize signs a transfer of amount base units to recipient, valid from
// now until now+timeout, under a fresh random nonce.
func (s *Signer) Authorize(recipient string, amount *big.Int) (*Authorization, error) {
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	validBefore := s.clock.Now().Add(s.timeout).Unix()
	msg := TransferAuthorization{
		From:        s.address,
		To:          common.HexToAddress(recipient),
		Value:       new(big.Int).Set(amount),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(validBefore),
		Nonce:       nonce,
	}

	signature, err := s.Sign(msg)
	if err != nil {
		return nil, err
	}

	return &Authorization{Domain: s.domain, Message: msg, Signature: signature}, nil
}

// Sign signs msg under the signer's domain. Identical inputs yield identical
// signatures.
func (s *Signer) Sign(msg TransferAuthorization) ([]byte, error) {
	hash, err := HashTypedData(TypedData(s.domain, msg))
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// crypto.Sign yields v as 0/1; token contracts expect 27/28
	if signature[64] < 27 {
		signature[64] += 27
	}
	return signature, nil
}

// RecoverSigner returns the address that produced signature over msg.
func RecoverSigner(domain Domain, msg TransferAuthorization, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrInvalidSignature, len(signature))
	}

	hash, err := HashTypedData(TypedData(domain, msg))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}

	pubkey, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
