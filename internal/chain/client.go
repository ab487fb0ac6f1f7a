// Package chain wraps the RPC connection shared by every orchestrator: a
// read-only view for queries and receipt polling, and a per-submission
// signer for writes.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Reader is the read-only slice of the RPC surface. Shared freely across
// orchestrations; requires no locking.
type Reader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Backend extends Reader with what a submission needs. *ethclient.Client
// satisfies it.
type Backend interface {
	Reader
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// RawCaller is the untyped JSON-RPC surface. Kept separate because some
// gateways answer eth_sendRawTransaction with nonstandard result shapes that
// have to be normalized before anything downstream sees them.
type RawCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Client bundles the dialed backend with the chain identity.
type Client struct {
	Backend Backend
	RPC     RawCaller
	ChainID *big.Int
}

// Dial connects to the configured RPC endpoint. When chainID is zero it is
// fetched from the node.
func Dial(ctx context.Context, rpcURL string, chainID int64) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	ec := ethclient.NewClient(rc)
	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = ec.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}
	return &Client{Backend: ec, RPC: rc, ChainID: id}, nil
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}

// CallWithRetry performs eth_call with small exponential backoff.
func CallWithRetry(ctx context.Context, r Reader, msg ethereum.CallMsg) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ret, err := r.CallContract(ctx, msg, nil)
		if err == nil {
			return ret, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}

// EstimateGasWithRetry mirrors CallWithRetry for gas estimation.
func EstimateGasWithRetry(ctx context.Context, b Backend, msg ethereum.CallMsg) (uint64, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		g, err := b.EstimateGas(ctx, msg)
		if err == nil {
			return g, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return 0, lastErr
}
