package types

import (
	"fmt"

	"github.com/eth2030/evmcore/rlp"
)

// EncodeRLP returns the RLP encoding of the block:
// RLP([header, transactions, uncles, withdrawals?])
//
// Legacy transactions are encoded as nested RLP lists; typed transactions
// (EIP-2718) are encoded as opaque byte strings containing the envelope.
func (b *Block) EncodeRLP() ([]byte, error) {
	headerEnc, err := b.header.EncodeRLP()
	if err != nil {
		return nil, err
	}

	var txPayload []byte
	for _, tx := range b.body.Transactions {
		enc, err := tx.EncodeRLP()
		if err != nil {
			return nil, err
		}
		if tx.Type() == LegacyTxType {
			// Legacy txs are nested directly as lists.
			txPayload = append(txPayload, enc...)
		} else {
			// Typed txs are wrapped as byte strings.
			wrapped, err := rlp.EncodeToBytes(enc)
			if err != nil {
				return nil, err
			}
			txPayload = append(txPayload, wrapped...)
		}
	}
	txListEnc := rlp.WrapList(txPayload)

	var unclePayload []byte
	for _, uncle := range b.body.Uncles {
		enc, err := uncle.EncodeRLP()
		if err != nil {
			return nil, err
		}
		unclePayload = append(unclePayload, enc...)
	}
	uncleListEnc := rlp.WrapList(unclePayload)

	payload := append(headerEnc, txListEnc...)
	payload = append(payload, uncleListEnc...)

	// Post-Shanghai blocks carry withdrawals.
	if b.body.Withdrawals != nil {
		var wPayload []byte
		for _, w := range b.body.Withdrawals {
			wPayload = append(wPayload, EncodeWithdrawal(w)...)
		}
		payload = append(payload, rlp.WrapList(wPayload)...)
	}

	return rlp.WrapList(payload), nil
}

// DecodeBlockRLP decodes an RLP-encoded block.
func DecodeBlockRLP(data []byte) (*Block, error) {
	s := rlp.NewStreamFromBytes(data)
	if _, err := s.List(); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}

	// Header.
	headerRaw, err := s.Raw()
	if err != nil {
		return nil, fmt.Errorf("decode block header: %w", err)
	}
	header, err := DecodeHeaderRLP(headerRaw)
	if err != nil {
		return nil, err
	}

	// Transactions.
	var txs []*Transaction
	if _, err := s.List(); err != nil {
		return nil, fmt.Errorf("decode block txs: %w", err)
	}
	for !s.AtListEnd() {
		kind, _, err := s.Kind()
		if err != nil {
			return nil, err
		}
		var txData []byte
		if kind == rlp.List {
			// Legacy tx nested as a list.
			txData, err = s.Raw()
		} else {
			// Typed tx wrapped as a byte string.
			txData, err = s.Bytes()
		}
		if err != nil {
			return nil, err
		}
		tx, err := DecodeTxRLP(txData)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := s.ListEnd(); err != nil {
		return nil, err
	}

	// Uncles (post-merge: always empty).
	var uncles []*Header
	if _, err := s.List(); err != nil {
		return nil, fmt.Errorf("decode block uncles: %w", err)
	}
	for !s.AtListEnd() {
		uncleRaw, err := s.Raw()
		if err != nil {
			return nil, err
		}
		uncle, err := DecodeHeaderRLP(uncleRaw)
		if err != nil {
			return nil, err
		}
		uncles = append(uncles, uncle)
	}
	if err := s.ListEnd(); err != nil {
		return nil, err
	}

	// Withdrawals (optional, post-Shanghai).
	var withdrawals []*Withdrawal
	if !s.AtListEnd() {
		withdrawals = []*Withdrawal{}
		if _, err := s.List(); err != nil {
			return nil, fmt.Errorf("decode block withdrawals: %w", err)
		}
		for !s.AtListEnd() {
			wRaw, err := s.Raw()
			if err != nil {
				return nil, err
			}
			w, err := DecodeWithdrawal(wRaw)
			if err != nil {
				return nil, err
			}
			withdrawals = append(withdrawals, w)
		}
		if err := s.ListEnd(); err != nil {
			return nil, err
		}
	}

	if err := s.ListEnd(); err != nil {
		return nil, err
	}

	return NewBlock(header, &Body{
		Transactions: txs,
		Uncles:       uncles,
		Withdrawals:  withdrawals,
	}), nil
}
