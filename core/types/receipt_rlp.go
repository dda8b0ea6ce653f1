package types

import (
	"errors"
	"fmt"

	"github.com/eth2030/evmcore/rlp"
)

// receiptRLP is the consensus encoding layout of a receipt:
// [status, cumulativeGasUsed, logsBloom, logs]
type receiptRLP struct {
	Status            uint64
	CumulativeGasUsed uint64
	Bloom             Bloom
	Logs              []logRLP
}

// logRLP is the consensus encoding layout of a log: [address, topics, data].
type logRLP struct {
	Address Address
	Topics  []Hash
	Data    []byte
}

// EncodeRLP returns the consensus encoding of the receipt. For legacy
// receipts this is RLP([status, cumGas, bloom, logs]); for typed receipts
// the RLP payload is prefixed with the transaction type byte (EIP-2718).
func (r *Receipt) EncodeRLP() ([]byte, error) {
	payload, err := rlp.EncodeToBytes(receiptRLP{
		Status:            r.Status,
		CumulativeGasUsed: r.CumulativeGasUsed,
		Bloom:             r.Bloom,
		Logs:              encodeLogs(r.Logs),
	})
	if err != nil {
		return nil, err
	}
	if r.Type == LegacyTxType {
		return payload, nil
	}
	out := make([]byte, 1+len(payload))
	out[0] = r.Type
	copy(out[1:], payload)
	return out, nil
}

// DecodeReceiptRLP decodes a consensus-encoded receipt (legacy or typed).
func DecodeReceiptRLP(data []byte) (*Receipt, error) {
	if len(data) == 0 {
		return nil, errors.New("empty receipt data")
	}
	txType := uint8(LegacyTxType)
	if data[0] <= 0x7f {
		if len(data) < 2 {
			return nil, errors.New("typed receipt too short")
		}
		switch data[0] {
		case AccessListTxType, DynamicFeeTxType, BlobTxType:
			txType = data[0]
			data = data[1:]
		default:
			return nil, fmt.Errorf("unsupported receipt type: 0x%02x", data[0])
		}
	}
	var dec receiptRLP
	if err := rlp.DecodeBytes(data, &dec); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &Receipt{
		Type:              txType,
		Status:            dec.Status,
		CumulativeGasUsed: dec.CumulativeGasUsed,
		Bloom:             dec.Bloom,
		Logs:              decodeLogs(dec.Logs),
	}, nil
}

func encodeLogs(logs []*Log) []logRLP {
	out := make([]logRLP, len(logs))
	for i, l := range logs {
		out[i] = logRLP{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
		}
	}
	return out
}

func decodeLogs(logs []logRLP) []*Log {
	out := make([]*Log, len(logs))
	for i, l := range logs {
		out[i] = &Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
		}
	}
	return out
}
