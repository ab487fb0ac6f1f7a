package txflow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
)

// encodeErrorString builds the ABI Error(string) payload as contracts emit
// it: 4-byte selector, 32-byte offset, 32-byte length, padded UTF-8 bytes.
func encodeErrorString(msg string) []byte {
	data := append([]byte{}, errorSelector...)
	offset := make([]byte, 32)
	offset[31] = 0x20
	data = append(data, offset...)
	length := make([]byte, 32)
	length[31] = byte(len(msg))
	data = append(data, length...)
	padded := make([]byte, (len(msg)+31)/32*32)
	copy(padded, msg)
	return append(data, padded...)
}

func errorTopic() common.Hash {
	var topic common.Hash
	copy(topic[:4], errorSelector)
	return topic
}

func failedReceipt(logs ...*types.Log) *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusFailed, Logs: logs}
}

func TestDecodeRevertReason(t *testing.T) {
	rcpt := failedReceipt(&types.Log{
		Topics: []common.Hash{errorTopic()},
		Data:   encodeErrorString("Access denied"),
	})
	assert.Equal(t, "Access denied", DecodeRevertReason(rcpt))
}

func TestDecodeRevertReasonSuccessIsEmpty(t *testing.T) {
	rcpt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	assert.Equal(t, "", DecodeRevertReason(rcpt))
}

func TestDecodeRevertReasonFallbacks(t *testing.T) {
	// No logs at all.
	assert.Equal(t, GenericRevertMessage, DecodeRevertReason(failedReceipt()))

	// Log with an unrelated topic.
	assert.Equal(t, GenericRevertMessage, DecodeRevertReason(failedReceipt(&types.Log{
		Topics: []common.Hash{common.HexToHash("0xdeadbeef")},
		Data:   encodeErrorString("ignored"),
	})))

	// Matching topic but truncated payload must not panic.
	assert.Equal(t, GenericRevertMessage, DecodeRevertReason(failedReceipt(&types.Log{
		Topics: []common.Hash{errorTopic()},
		Data:   []byte{0x08, 0xc3, 0x79, 0xa0, 0x01},
	})))

	// Length prefix larger than the actual payload.
	data := encodeErrorString("hi")
	data[4+32+31] = 0xff
	assert.Equal(t, GenericRevertMessage, DecodeRevertReason(failedReceipt(&types.Log{
		Topics: []common.Hash{errorTopic()},
		Data:   data,
	})))

	assert.Equal(t, "", DecodeRevertReason(nil))
}

func TestReasonFromError(t *testing.T) {
	assert.Equal(t, "", ReasonFromError(nil))
	assert.Equal(t, "execution reverted: paused",
		ReasonFromError(errors.New("rpc error: execution reverted: paused")))
	assert.Equal(t, "connection refused",
		ReasonFromError(errors.New("connection refused")))
}
