package txflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/verdantgrid/irecdesk/internal/chain"
)

// Call describes one contract invocation.
type Call struct {
	Target common.Address
	ABI    *abi.ABI
	Method string
	Args   []any
	Value  *big.Int
}

// Submitter is the only component that triggers a signature. It obtains the
// signer fresh per submission so an account switch is always observed.
type Submitter struct {
	Backend chain.Backend
	RPC     chain.RawCaller // optional; enables raw submission path
	ChainID *big.Int
	Source  chain.SignerSource

	TipGwei      int64
	BasefeeMul   int64
	GasBufferPct int64

	Logger *slog.Logger
}

const fallbackGasLimit = 300_000

// Submit packs, signs and broadcasts the call, returning the tx hash.
// Failures come back classified: wallet absence, user rejection, provider
// errors and unparseable responses are distinct faults.
func (s *Submitter) Submit(ctx context.Context, call Call) (common.Hash, error) {
	signer, err := s.Source()
	if err != nil {
		if errors.Is(err, chain.ErrNoSigner) {
			return common.Hash{}, WrapFault(KindWalletNotConnected, "no wallet connected", err)
		}
		return common.Hash{}, WrapFault(KindWalletNotInstalled, "signer unavailable", err)
	}
	from, err := signer.Account()
	if err != nil {
		return common.Hash{}, WrapFault(KindWalletNotConnected, "no active account", err)
	}

	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return common.Hash{}, Faultf(KindValidation, "", "pack %s: %v", call.Method, err)
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := s.Backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, WrapFault(KindProvider, "nonce", err)
	}
	head, err := s.Backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, WrapFault(KindProvider, "head", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	tip := new(big.Int).Mul(big.NewInt(max64(s.TipGwei, 1)), big.NewInt(1_000_000_000))
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(max64(s.BasefeeMul, 1)))
	feeCap.Add(feeCap, tip)

	msg := ethereum.CallMsg{From: from, To: &call.Target, Value: value, Data: data}
	gas, err := chain.EstimateGasWithRetry(ctx, s.Backend, msg)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("estimateGas failed, using fallback", "method", call.Method, "err", err)
		}
		gas = fallbackGasLimit
	}
	gas = uint64(float64(gas) * (1.0 + float64(s.GasBufferPct)/100.0))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &call.Target,
		Value:     value,
		Data:      data,
	})
	signed, err := signer.SignTx(tx, s.ChainID)
	if err != nil {
		if errors.Is(err, chain.ErrRejected) {
			return common.Hash{}, WrapFault(KindUserRejected, "signature declined", err)
		}
		return common.Hash{}, WrapFault(KindProvider, "sign", err)
	}

	if s.RPC != nil {
		return s.submitRaw(ctx, signed)
	}
	if err := s.Backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, WrapFault(KindProvider, "send", err)
	}
	if s.Logger != nil {
		s.Logger.Info("submitted", "method", call.Method, "hash", signed.Hash().Hex())
	}
	return signed.Hash(), nil
}

// submitRaw broadcasts the encoded tx over raw JSON-RPC and normalizes the
// result. Gateways in the wild answer with a bare hash string, an object
// carrying "hash" or "transactionHash", or {"success":false,...}.
func (s *Submitter) submitRaw(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, WrapFault(KindProvider, "encode", err)
	}
	var raw json.RawMessage
	if err := s.RPC.CallContext(ctx, &raw, "eth_sendRawTransaction", hexutil.Encode(enc)); err != nil {
		return common.Hash{}, WrapFault(KindProvider, "send", err)
	}
	hash, err := NormalizeSubmitResult(raw)
	if err != nil {
		return common.Hash{}, err
	}
	if s.Logger != nil {
		s.Logger.Info("submitted", "hash", hash.Hex())
	}
	return hash, nil
}

// NormalizeSubmitResult collapses the observed response shapes into one
// canonical hash-or-fault. This is the only place shape sniffing happens.
func NormalizeSubmitResult(raw json.RawMessage) (common.Hash, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return common.Hash{}, Faultf(KindUnexpectedShape, "", "empty submit response")
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if h, ok := parseHash(str); ok {
			return h, nil
		}
		return common.Hash{}, Faultf(KindUnexpectedShape, "", "submit response %q is not a tx hash", str)
	}

	var obj struct {
		Hash            string `json:"hash"`
		TransactionHash string `json:"transactionHash"`
		Success         *bool  `json:"success"`
		Error           string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return common.Hash{}, Faultf(KindUnexpectedShape, "", "unparseable submit response: %.120s", trimmed)
	}
	if obj.Success != nil && !*obj.Success {
		msg := obj.Error
		if msg == "" {
			msg = "submission reported failure"
		}
		return common.Hash{}, Faultf(KindProvider, "", "%s", msg)
	}
	for _, cand := range []string{obj.Hash, obj.TransactionHash} {
		if h, ok := parseHash(cand); ok {
			return h, nil
		}
	}
	return common.Hash{}, Faultf(KindUnexpectedShape, "", "submit response carries no tx hash: %.120s", trimmed)
}

func parseHash(s string) (common.Hash, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, false
	}
	if _, err := hexutil.Decode(s); err != nil {
		return common.Hash{}, false
	}
	return common.HexToHash(s), true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
