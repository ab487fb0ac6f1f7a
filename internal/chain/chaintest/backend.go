// Package chaintest provides an in-memory Backend for orchestrator tests.
// Contract views are served by handlers registered per ABI method; writes
// are recorded and answered with canned receipts.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type handler struct {
	method abi.Method
	fn     func(args []any) []any
}

// Backend is a fake chain.Backend.
type Backend struct {
	mu       sync.Mutex
	handlers map[string]handler // selector hex → handler
	receipts map[common.Hash]*types.Receipt
	head     uint64
	nonce    uint64

	// SentTxs records every broadcast transaction in order.
	SentTxs []*types.Transaction
	// SendHook, when set, runs inside SendTransaction before recording;
	// used to block a submission mid-flight.
	SendHook func()
	// SendErr fails SendTransaction outright.
	SendErr error
	// NextReceiptStatus is applied to the receipt of the next sent tx.
	NextReceiptStatus uint64
	// NextReceiptLogs is attached to the receipt of the next sent tx.
	NextReceiptLogs []*types.Log
}

func New() *Backend {
	return &Backend{
		handlers:          make(map[string]handler),
		receipts:          make(map[common.Hash]*types.Receipt),
		head:              100,
		NextReceiptStatus: types.ReceiptStatusSuccessful,
	}
}

// Handle serves a view method from fn, which receives unpacked args and
// returns the values to pack as outputs.
func (b *Backend) Handle(a abi.ABI, method string, fn func(args []any) []any) {
	m, ok := a.Methods[method]
	if !ok {
		panic("chaintest: unknown method " + method)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[common.Bytes2Hex(m.ID)] = handler{method: m, fn: fn}
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	b.mu.Lock()
	h, ok := b.handlers[common.Bytes2Hex(msg.Data[:4])]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no handler for selector %x", msg.Data[:4])
	}
	args, err := h.method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	return h.method.Outputs.Pack(h.fn(args)...)
}

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head++ // blocks advance on every poll so confirmations accrue
	return b.head, nil
}

func (b *Backend) HeaderByNumber(ctx context.Context, _ *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(b.head),
		BaseFee: big.NewInt(1_000_000_000),
	}, nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *Backend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *Backend) EstimateGas(ctx context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.SendHook != nil {
		b.SendHook()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SendErr != nil {
		return b.SendErr
	}
	b.SentTxs = append(b.SentTxs, tx)
	b.nonce++
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      b.NextReceiptStatus,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.head + 1),
		Logs:        b.NextReceiptLogs,
	}
	return nil
}

// Sent returns how many transactions were broadcast.
func (b *Backend) Sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.SentTxs)
}
