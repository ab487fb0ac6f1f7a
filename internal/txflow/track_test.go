package txflow

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves one receipt after a configurable number of misses and
// lets tests pin the chain head.
type fakeReader struct {
	mu        sync.Mutex
	misses    int
	receipt   *types.Receipt
	head      uint64
	headStep  uint64
	polls     int
	headPolls int
}

func (r *fakeReader) TransactionReceipt(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	if r.polls <= r.misses || r.receipt == nil {
		return nil, ethereum.NotFound
	}
	return r.receipt, nil
}

func (r *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headPolls++
	r.head += r.headStep
	return r.head, nil
}

func (r *fakeReader) CallContract(ctx context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return nil, nil
}

func (r *fakeReader) HeaderByNumber(ctx context.Context, _ *big.Int) (*types.Header, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(r.head)}, nil
}

func fastOpts(timeout time.Duration) TrackOptions {
	return TrackOptions{Confirmations: 2, PollInterval: time.Millisecond, Timeout: timeout}
}

func TestTrackSuccessAfterMisses(t *testing.T) {
	reader := &fakeReader{
		misses:   2,
		receipt:  &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)},
		head:     99,
		headStep: 1,
	}
	tr := &Tracker{Reader: reader}

	rcpt, err := tr.Track(context.Background(), common.HexToHash(goodHash), fastOpts(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, rcpt.Status)
	assert.GreaterOrEqual(t, reader.polls, 3)
}

func TestTrackReturnsFailedReceipt(t *testing.T) {
	reader := &fakeReader{
		receipt:  &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(50)},
		head:     60,
		headStep: 1,
	}
	tr := &Tracker{Reader: reader}

	// A failed receipt is still a tracking success; status classification
	// belongs to the caller.
	rcpt, err := tr.Track(context.Background(), common.HexToHash(goodHash), fastOpts(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, rcpt.Status)
}

func TestTrackTimeoutWithoutReceipt(t *testing.T) {
	reader := &fakeReader{head: 10, headStep: 1}
	tr := &Tracker{Reader: reader}

	_, err := tr.Track(context.Background(), common.HexToHash(goodHash), fastOpts(30*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, KindTimeout, AsFault(err).Kind)
}

func TestTrackTimeoutAwaitingConfirmations(t *testing.T) {
	// Receipt lands immediately but the head never advances past inclusion.
	reader := &fakeReader{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)},
		head:    100,
	}
	tr := &Tracker{Reader: reader}

	_, err := tr.Track(context.Background(), common.HexToHash(goodHash), fastOpts(30*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, KindTimeout, AsFault(err).Kind)
	assert.Contains(t, err.Error(), "partially confirmed")
}

func TestTrackCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &fakeReader{head: 10}
	tr := &Tracker{Reader: reader}

	_, err := tr.Track(ctx, common.HexToHash(goodHash), fastOpts(time.Second))
	require.Error(t, err)
	assert.Equal(t, KindTimeout, AsFault(err).Kind)
}
