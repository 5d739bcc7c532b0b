package payment

import (
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

const (
	testKeyHex   = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testPayee    = "0x1111111111111111111111111111111111111111"
	testAsset    = "0xc21223249CA28397B4B6541dfFaEcC539BfF0c59"
	testAltAsset = "0x2222222222222222222222222222222222222222"
)

func testDomain() Domain {
	return Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           338,
		VerifyingContract: common.HexToAddress(testAsset),
	}
}

func newTestSigner(t *testing.T, clock utils.Clock) *Signer {
	t.Helper()
	key, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	signer, err := NewSigner(key, testDomain(), 300*time.Second, clock)
	require.NoError(t, err)
	return signer
}

func TestParsePrivateKey(t *testing.T) {
	plain, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)

	prefixed, err := ParsePrivateKey("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(plain.PublicKey), crypto.PubkeyToAddress(prefixed.PublicKey))

	for _, bad := range []string{"", "0x", testKeyHex[:63], testKeyHex + "00", "zz" + testKeyHex[2:]} {
		_, err := ParsePrivateKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", bad)
	}
}

func TestAuthorizeBuildsMessage(t *testing.T) {
	clock := utils.NewManualClock(testStart)
	signer := newTestSigner(t, clock)

	auth, err := signer.Authorize(testPayee, big.NewInt(10000))
	require.NoError(t, err)

	msg := auth.Message
	assert.Equal(t, signer.Address(), msg.From)
	assert.Equal(t, common.HexToAddress(testPayee), msg.To)
	assert.Equal(t, int64(10000), msg.Value.Int64())
	assert.Equal(t, int64(0), msg.ValidAfter.Int64())
	assert.Equal(t, testStart.Add(300*time.Second).Unix(), msg.ValidBefore.Int64())
	assert.NotEqual(t, [32]byte{}, msg.Nonce)

	require.Len(t, auth.Signature, 65)
	assert.Contains(t, []byte{27, 28}, auth.Signature[64])

	decoded, err := base64.StdEncoding.DecodeString(auth.Header())
	require.NoError(t, err)
	assert.Equal(t, auth.Signature, decoded)
}

func TestAuthorizeNonceUniqueness(t *testing.T) {
	signer := newTestSigner(t, nil)

	seen := make(map[[32]byte]bool)
	for i := 0; i < 100; i++ {
		auth, err := signer.Authorize(testPayee, big.NewInt(1))
		require.NoError(t, err)
		require.False(t, seen[auth.Message.Nonce], "nonce reused after %d authorizations", i)
		seen[auth.Message.Nonce] = true
	}
}

func TestSignIsDeterministic(t *testing.T) {
	signer := newTestSigner(t, nil)

	msg := TransferAuthorization{
		From:        signer.Address(),
		To:          common.HexToAddress(testPayee),
		Value:       big.NewInt(10000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(1900000000),
		Nonce:       [32]byte{1, 2, 3},
	}

	first, err := signer.Sign(msg)
	require.NoError(t, err)
	second, err := signer.Sign(msg)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := signer.WithDomain(Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           338,
		VerifyingContract: common.HexToAddress(testAltAsset),
	}).Sign(msg)
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "signature must be bound to the verifying contract")
}

func TestRecoverSigner(t *testing.T) {
	signer := newTestSigner(t, nil)

	auth, err := signer.Authorize(testPayee, big.NewInt(10000))
	require.NoError(t, err)

	recovered, err := RecoverSigner(testDomain(), auth.Message, auth.Signature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	tampered := auth.Message
	tampered.Value = big.NewInt(1)
	recovered, err = RecoverSigner(testDomain(), tampered, auth.Signature)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), recovered)

	_, err = RecoverSigner(testDomain(), auth.Message, auth.Signature[:64])
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAuthorizeRejectsBadInput(t *testing.T) {
	signer := newTestSigner(t, nil)

	_, err := signer.Authorize("not-an-address", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = signer.Authorize(testPayee, big.NewInt(-1))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewSigner(nil, testDomain(), time.Minute, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPayloadRoundTrip(t *testing.T) {
	signer := newTestSigner(t, nil)

	auth, err := signer.Authorize(testPayee, big.NewInt(10000))
	require.NoError(t, err)

	header, err := auth.PayloadHeader()
	require.NoError(t, err)

	proof, err := DecodeProof(header)
	require.NoError(t, err)
	require.Equal(t, ProofPayload, proof.Kind)

	msg, err := ParseAuthorization(proof.Payload.Authorization)
	require.NoError(t, err)
	assert.Equal(t, auth.Message.Nonce, msg.Nonce)
	assert.Equal(t, 0, auth.Message.ValidBefore.Cmp(msg.ValidBefore))
	assert.Equal(t, "338", proof.Payload.Domain.ChainId)
}
