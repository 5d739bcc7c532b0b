package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// HeaderName is the request header carrying the payment proof.
const HeaderName = "X-Payment"

const bearerPrefix = "Bearer "

// ProofKind identifies how a payment header was encoded.
type ProofKind int

const (
	// ProofSignature is base64 of the raw signature bytes.
	ProofSignature ProofKind = iota
	// ProofPayload is base64 of a JSON X402PayloadWrapper.
	ProofPayload
	// ProofBearer is an opaque "Bearer <token>" value.
	ProofBearer
)

func (k ProofKind) String() string {
	switch k {
	case ProofSignature:
		return "signature"
	case ProofPayload:
		return "payload"
	case ProofBearer:
		return "bearer"
	default:
		return "unknown"
	}
}

// Proof is a decoded payment header.
type Proof struct {
	Kind    ProofKind
	Raw     string
	Bytes   []byte
	Payload *X402PayloadWrapper
}

// DecodeProof decodes a payment header. It checks encoding only; signature
// validity is the Verifier's job.
func DecodeProof(header string) (*Proof, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return nil, ErrPaymentRequired
	}

	if strings.EqualFold(raw, strings.TrimSpace(bearerPrefix)) || strings.HasPrefix(raw, bearerPrefix) {
		token := strings.TrimSpace(raw[len(bearerPrefix)-1:])
		if token == "" {
			return nil, fmt.Errorf("%w: empty bearer token", ErrMalformedProof)
		}
		return &Proof{Kind: ProofBearer, Raw: raw, Bytes: []byte(token)}, nil
	}

	decoded, err := decodeBase64(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedProof)
	}

	proof := &Proof{Kind: ProofSignature, Raw: raw, Bytes: decoded}

	// a raw signature may start with '{' by chance; payloads are never 65 bytes
	if decoded[0] == '{' && len(decoded) != 65 {
		var wrapper X402PayloadWrapper
		if err := json.Unmarshal(decoded, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: invalid payload json: %v", ErrMalformedProof, err)
		}
		if wrapper.Authorization == nil || wrapper.Signature == "" {
			return nil, fmt.Errorf("%w: payload missing authorization or signature", ErrMalformedProof)
		}
		proof.Kind = ProofPayload
		proof.Payload = &wrapper
	}

	return proof, nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// EncodeSignatureHeader renders raw signature bytes as a payment header.
func EncodeSignatureHeader(signature []byte) string {
	return base64.StdEncoding.EncodeToString(signature)
}

// EncodePayloadHeader renders a structured payload as a payment header.
func EncodePayloadHeader(wrapper X402PayloadWrapper) (string, error) {
	data, err := json.Marshal(wrapper)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ProofRef is the stored reference for a presented header: base58 of its
// blake3 digest.
func ProofRef(header string) string {
	sum := blake3.Sum256([]byte(strings.TrimSpace(header)))
	return base58.Encode(sum[:])
}
