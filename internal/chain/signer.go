package chain

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signing failures the rest of the system classifies on.
var (
	// ErrNoSigner means no signing capability is present at all.
	ErrNoSigner = errors.New("no signer available")
	// ErrSignerLocked means a signer exists but no account is usable.
	ErrSignerLocked = errors.New("signer has no unlocked account")
	// ErrRejected means the holder of the key declined to sign.
	ErrRejected = errors.New("signature request rejected")
)

// Signer is the opaque signing capability. Implementations may refuse to
// sign; refusal is reported with ErrRejected.
type Signer interface {
	Account() (common.Address, error)
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SignerSource hands out a signer for exactly one submission. Obtained fresh
// every time so an account switch between operations is always observed.
type SignerSource func() (Signer, error)

// KeySigner signs with an in-process private key.
type KeySigner struct {
	pk   *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(pkHex string) (*KeySigner, error) {
	h := strings.TrimPrefix(strings.TrimSpace(pkHex), "0x")
	if h == "" {
		return nil, ErrNoSigner
	}
	pk, err := crypto.HexToECDSA(h)
	if err != nil {
		return nil, err
	}
	return &KeySigner{pk: pk, addr: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func (k *KeySigner) Account() (common.Address, error) {
	return k.addr, nil
}

func (k *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), k.pk)
}

// KeySource wraps a hex key as a SignerSource. An empty key yields
// ErrNoSigner at submission time, not at construction.
func KeySource(pkHex string) SignerSource {
	return func() (Signer, error) {
		return NewKeySigner(pkHex)
	}
}
