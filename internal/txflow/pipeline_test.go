package txflow

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantgrid/irecdesk/internal/chain"
)

const testSignerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// pipelineBackend is a minimal chain.Backend for pipeline-level tests:
// canned gas and nonce, configurable eth_call error, optional receipt
// withholding.
type pipelineBackend struct {
	mu            sync.Mutex
	head          uint64
	receipts      map[common.Hash]*types.Receipt
	receiptStatus uint64
	noReceipt     bool
	callErr       error
	sent          int
}

func newPipelineBackend() *pipelineBackend {
	return &pipelineBackend{
		head:          100,
		receipts:      map[common.Hash]*types.Receipt{},
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (b *pipelineBackend) CallContract(ctx context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return nil, b.callErr
}

func (b *pipelineBackend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head++
	return b.head, nil
}

func (b *pipelineBackend) HeaderByNumber(ctx context.Context, _ *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(b.head),
		BaseFee: big.NewInt(1_000_000_000),
	}, nil
}

func (b *pipelineBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[txHash]; ok && !b.noReceipt {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *pipelineBackend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	return 0, nil
}

func (b *pipelineBackend) EstimateGas(ctx context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (b *pipelineBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent++
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      b.receiptStatus,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.head + 1),
	}
	return nil
}

func (b *pipelineBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// rejectingSigner declines every signature request.
type rejectingSigner struct{}

func (rejectingSigner) Account() (common.Address, error) {
	return common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), nil
}

func (rejectingSigner) SignTx(*types.Transaction, *big.Int) (*types.Transaction, error) {
	return nil, chain.ErrRejected
}

func approveCall() Call {
	return Call{
		Target: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		ABI:    &chain.RegistryABI,
		Method: "approveProject",
		Args:   []any{common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")},
	}
}

func newPipeline(b *pipelineBackend, src chain.SignerSource) *Pipeline {
	return &Pipeline{
		Submitter: &Submitter{
			Backend:      b,
			ChainID:      big.NewInt(31337),
			Source:       src,
			TipGwei:      1,
			BasefeeMul:   2,
			GasBufferPct: 20,
		},
		Tracker: &Tracker{Reader: b},
		Opts:    TrackOptions{Confirmations: 1, PollInterval: time.Millisecond, Timeout: 100 * time.Millisecond},
	}
}

func TestExecuteUserRejectedIsTerminal(t *testing.T) {
	b := newPipelineBackend()
	p := newPipeline(b, func() (chain.Signer, error) { return rejectingSigner{}, nil })

	out, err := p.Execute(context.Background(), "role_grant", approveCall(), nil)
	require.NoError(t, err, "a declined signature is a terminal outcome, not a transport error")
	assert.Equal(t, StatusRejected, out.Status)
	assert.False(t, out.Submitted)
	assert.Nil(t, out.Hash)
	assert.Equal(t, 0, b.sentCount())
}

func TestExecuteNoSignerIsAnError(t *testing.T) {
	b := newPipelineBackend()
	p := newPipeline(b, chain.KeySource(""))

	_, err := p.Execute(context.Background(), "role_grant", approveCall(), nil)
	require.Error(t, err)
	assert.Equal(t, KindWalletNotConnected, AsFault(err).Kind)
}

func TestExecuteTimeoutIsUnknown(t *testing.T) {
	b := newPipelineBackend()
	b.noReceipt = true
	p := newPipeline(b, chain.KeySource(testSignerKey))

	var hooked Outcome
	out, err := p.Execute(context.Background(), "role_grant", approveCall(), func(pending Outcome) {
		hooked = pending
	})
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, out.Status)
	assert.True(t, out.Submitted, "the transaction was broadcast; only its fate is unknown")
	require.NotNil(t, out.Hash)
	require.NotNil(t, hooked.Hash, "overlay hook fires once the hash is known")
	assert.Equal(t, *out.Hash, *hooked.Hash)
}

func TestExecuteRevertReplaysForReason(t *testing.T) {
	// Receipt carries no decodable log; the eth_call replay supplies the
	// node's revert text instead of the generic message.
	b := newPipelineBackend()
	b.receiptStatus = types.ReceiptStatusFailed
	b.callErr = errors.New("rpc error: execution reverted: Access denied")
	p := newPipeline(b, chain.KeySource(testSignerKey))

	out, err := p.Execute(context.Background(), "role_grant", approveCall(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, out.Status)
	assert.Equal(t, "execution reverted: Access denied", out.RevertReason)
}

func TestExecuteRevertReplayDiscardsUnrelatedErrors(t *testing.T) {
	b := newPipelineBackend()
	b.receiptStatus = types.ReceiptStatusFailed
	b.callErr = errors.New("connection refused")
	p := newPipeline(b, chain.KeySource(testSignerKey))

	out, err := p.Execute(context.Background(), "role_grant", approveCall(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, out.Status)
	assert.Equal(t, GenericRevertMessage, out.RevertReason)
}

func TestOutcomeJSONOmitsHashUntilSubmitted(t *testing.T) {
	raw, err := json.Marshal(Outcome{OpID: "op", Action: "role_grant", Status: StatusRejected})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"hash"`)

	h := common.HexToHash(goodHash)
	raw, err = json.Marshal(Outcome{OpID: "op", Action: "role_grant", Hash: &h, Submitted: true, Status: StatusSuccess})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"hash":"`+goodHash+`"`)
}
