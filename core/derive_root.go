package core

import (
	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/trie"
)

// DeriveTxsRoot computes the transactions trie root: a trie keyed by
// rlp(index) whose values are the transactions' envelope encodings.
func DeriveTxsRoot(txs []*types.Transaction) types.Hash {
	return trie.DeriveRoot(len(txs), func(i int) []byte {
		enc, err := txs[i].EncodeRLP()
		if err != nil {
			return nil
		}
		return enc
	})
}

// DeriveReceiptsRoot computes the receipts trie root over the consensus
// receipt encodings.
func DeriveReceiptsRoot(receipts []*types.Receipt) types.Hash {
	return trie.DeriveRoot(len(receipts), func(i int) []byte {
		enc, err := receipts[i].EncodeRLP()
		if err != nil {
			return nil
		}
		return enc
	})
}

// DeriveWithdrawalsRoot computes the withdrawals trie root.
func DeriveWithdrawalsRoot(withdrawals []*types.Withdrawal) types.Hash {
	return trie.DeriveRoot(len(withdrawals), func(i int) []byte {
		return types.EncodeWithdrawal(withdrawals[i])
	})
}
