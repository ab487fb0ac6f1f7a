package txflow

import (
	"bytes"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/core/types"
)

// GenericRevertMessage is surfaced when a failed receipt carries no
// decodable reason. The decoder is best-effort diagnostics only; it never
// blocks surfacing the revert itself.
const GenericRevertMessage = "execution reverted without a decodable reason"

// errorSelector is the 4-byte selector of Error(string).
var errorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// DecodeRevertReason extracts a human-readable reason from a failed
// receipt's logs. Returns "" for successful receipts and the generic
// fallback for failures without a decodable payload. Never returns an error.
func DecodeRevertReason(rcpt *types.Receipt) string {
	if rcpt == nil || rcpt.Status == types.ReceiptStatusSuccessful {
		return ""
	}
	for _, lg := range rcpt.Logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		if !bytes.Equal(lg.Topics[0].Bytes()[:4], errorSelector) {
			continue
		}
		if reason, ok := decodeErrorString(lg.Data); ok {
			return reason
		}
	}
	return GenericRevertMessage
}

// decodeErrorString unpacks an ABI-encoded Error(string) payload: optional
// 4-byte selector, then a 32-byte offset, a 32-byte length, and the UTF-8
// bytes. All offsets are bounds-checked; anything off returns !ok.
func decodeErrorString(data []byte) (string, bool) {
	if len(data) >= 4 && bytes.Equal(data[:4], errorSelector) {
		data = data[4:]
	}
	if len(data) < 64 {
		return "", false
	}
	offset := new(big.Int).SetBytes(data[:32])
	if !offset.IsUint64() || offset.Uint64() != 32 {
		return "", false
	}
	strLen := new(big.Int).SetBytes(data[32:64])
	if !strLen.IsUint64() {
		return "", false
	}
	n := strLen.Uint64()
	if n == 0 || uint64(len(data)-64) < n {
		return "", false
	}
	raw := data[64 : 64+n]
	if !utf8.Valid(raw) {
		return "", false
	}
	return string(raw), true
}

// ReasonFromError trims a node error down to its revert text, for the
// eth_call replay path.
func ReasonFromError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		return s[i:]
	}
	return s
}
