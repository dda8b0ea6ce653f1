package vm

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/eth2030/evmcore/core/types"
)

// bitvec marks which positions in a code blob are opcode starts (as opposed
// to PUSH immediate data).
type bitvec []byte

func (b bitvec) set(pos uint64) {
	b[pos/8] |= 1 << (pos % 8)
}

func (b bitvec) isSet(pos uint64) bool {
	return b[pos/8]&(1<<(pos%8)) != 0
}

// codeBitmap builds the valid-opcode bitmap for code in a single linear pass,
// skipping PUSH immediates.
func codeBitmap(code []byte) bitvec {
	bits := make(bitvec, len(code)/8+1)
	for pc := uint64(0); pc < uint64(len(code)); {
		op := OpCode(code[pc])
		bits.set(pc)
		if op.IsPush() {
			pc += uint64(op-PUSH1) + 2
		} else {
			pc++
		}
	}
	return bits
}

// analysisCacheSize bounds the shared jumpdest-bitmap cache. Eviction only
// costs a re-analysis, never correctness.
const analysisCacheSize = 4096

var analysisCache, _ = lru.New[types.Hash, bitvec](analysisCacheSize)

// analyzeCode returns the opcode bitmap for code, consulting the shared cache
// when codeHash is non-zero.
func analyzeCode(codeHash types.Hash, code []byte) bitvec {
	if codeHash.IsZero() {
		return codeBitmap(code)
	}
	if bits, ok := analysisCache.Get(codeHash); ok {
		return bits
	}
	bits := codeBitmap(code)
	analysisCache.Add(codeHash, bits)
	return bits
}
