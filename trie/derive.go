package trie

import (
	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/rlp"
)

// DeriveRoot computes the root of a trie whose keys are the RLP encodings of
// the list indices 0..n-1 and whose values are produced by encode. This is the
// derivation used for the transactions, receipts, and withdrawals roots in a
// block header. An empty list yields the empty-trie root.
func DeriveRoot(n int, encode func(i int) []byte) types.Hash {
	t := New()
	for i := 0; i < n; i++ {
		key, err := rlp.EncodeToBytes(uint64(i))
		if err != nil {
			continue
		}
		t.Put(key, encode(i))
	}
	return t.Hash()
}
