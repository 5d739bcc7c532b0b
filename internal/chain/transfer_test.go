package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendValue(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	client := NewFakeClient(338)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	value := big.NewInt(1_000_000_000_000_000_000)

	hash, err := SendValue(context.Background(), client, key, to, value, big.NewInt(338))
	require.NoError(t, err)

	sent := client.SentTransactions()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, to, *tx.To())
	assert.Equal(t, 0, value.Cmp(tx.Value()))
	assert.Equal(t, uint64(25200), tx.Gas())
	assert.Equal(t, 0, big.NewInt(2_100_000_000).Cmp(tx.GasFeeCap()))

	sender, err := types.Sender(types.NewLondonSigner(big.NewInt(338)), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestSendValueWithoutBaseFee(t *testing.T) {
	key, _ := crypto.GenerateKey()
	client := NewFakeClient(338)
	client.BaseFee = nil

	_, err := SendValue(context.Background(), client, key, common.Address{}, big.NewInt(1), big.NewInt(338))
	assert.ErrorIs(t, err, ErrNoBaseFee)
	assert.Empty(t, client.SentTransactions())
}

func TestSendValueRPCError(t *testing.T) {
	key, _ := crypto.GenerateKey()
	client := NewFakeClient(338)
	client.Err = errors.New("rpc down")

	_, err := SendValue(context.Background(), client, key, common.Address{}, big.NewInt(1), big.NewInt(338))
	assert.Error(t, err)
}

func TestTokenBalance(t *testing.T) {
	client := NewFakeClient(338)
	client.CallResult = math.U256Bytes(big.NewInt(250000))

	balance, err := TokenBalance(context.Background(), client,
		common.HexToAddress("0xc21223249CA28397B4B6541dfFaEcC539BfF0c59"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)
	assert.Equal(t, int64(250000), balance.Int64())

	client.CallResult = []byte{0x01}
	_, err = TokenBalance(context.Background(), client, common.Address{}, common.Address{})
	assert.Error(t, err)
}
