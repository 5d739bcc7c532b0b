package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeClient is an in-memory Client for tests and dry runs.
type FakeClient struct {
	mu sync.Mutex

	ID       *big.Int
	Balances map[common.Address]*big.Int
	// CallResult is returned from CallContract.
	CallResult []byte
	BaseFee    *big.Int
	Tip        *big.Int
	Gas        uint64
	Err        error

	nonce uint64
	Sent  []*types.Transaction
}

func NewFakeClient(chainID int64) *FakeClient {
	return &FakeClient{
		ID:       big.NewInt(chainID),
		Balances: make(map[common.Address]*big.Int),
		BaseFee:  big.NewInt(1_000_000_000),
		Tip:      big.NewInt(100_000_000),
		Gas:      21000,
	}
}

func (f *FakeClient) ChainID(ctx context.Context) (*big.Int, error) {
	return f.ID, f.Err
}

func (f *FakeClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if b, ok := f.Balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *FakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.CallResult, f.Err
}

func (f *FakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, f.Err
}

func (f *FakeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.Tip, f.Err
}

func (f *FakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &types.Header{BaseFee: f.BaseFee}, nil
}

func (f *FakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.Gas, f.Err
}

func (f *FakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.nonce++
	f.Sent = append(f.Sent, tx)
	return nil
}

// SentTransactions returns a copy of the broadcast transactions.
func (f *FakeClient) SentTransactions() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.Sent...)
}
