package state

import (
	"math/big"

	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/crypto"
)

// AccountMeta is the provider-side view of an account.
type AccountMeta struct {
	Nonce    uint64
	Balance  *big.Int
	CodeHash types.Hash
}

// Provider is the read-only pre-state view the journaled state is layered
// over. Implementations are expected to be cheap to query repeatedly; the
// journaled state caches reads.
type Provider interface {
	// Account returns the account metadata, or nil if the account is absent.
	Account(addr types.Address) *AccountMeta

	// CodeByHash returns the code for a hash previously returned by Account.
	CodeByHash(hash types.Hash) []byte

	// Storage returns the value of a storage slot, zero if absent.
	Storage(addr types.Address, key types.Hash) types.Hash

	// BlockHash returns the hash of a historical block for the BLOCKHASH
	// opcode; valid for the 256 blocks before the current one.
	BlockHash(number uint64) types.Hash
}

// AccountEnumerator is an optional extension of Provider for backends that
// can enumerate the full account set. It is required to compute a complete
// post-state root; without it, Commit roots only the accounts the execution
// touched.
type AccountEnumerator interface {
	Accounts() []types.Address
	StorageOf(addr types.Address) map[types.Hash]types.Hash
}

// MemoryProvider is an in-memory Provider used by tests and one-shot block
// execution over a materialized pre-state.
type MemoryProvider struct {
	accounts   map[types.Address]*AccountMeta
	code       map[types.Hash][]byte
	storage    map[types.Address]map[types.Hash]types.Hash
	blockHashes map[uint64]types.Hash
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		accounts:    make(map[types.Address]*AccountMeta),
		code:        make(map[types.Hash][]byte),
		storage:     make(map[types.Address]map[types.Hash]types.Hash),
		blockHashes: make(map[uint64]types.Hash),
	}
}

// SetAccount installs an account with the given balance and nonce.
func (p *MemoryProvider) SetAccount(addr types.Address, balance *big.Int, nonce uint64) {
	p.accounts[addr] = &AccountMeta{
		Nonce:    nonce,
		Balance:  new(big.Int).Set(balance),
		CodeHash: types.EmptyCodeHash,
	}
}

// SetCode installs code for an account, creating the account if needed.
func (p *MemoryProvider) SetCode(addr types.Address, code []byte) {
	meta := p.accounts[addr]
	if meta == nil {
		meta = &AccountMeta{Balance: new(big.Int), CodeHash: types.EmptyCodeHash}
		p.accounts[addr] = meta
	}
	hash := crypto.Keccak256Hash(code)
	meta.CodeHash = hash
	p.code[hash] = code
}

// SetStorage installs a storage slot value.
func (p *MemoryProvider) SetStorage(addr types.Address, key, value types.Hash) {
	if p.storage[addr] == nil {
		p.storage[addr] = make(map[types.Hash]types.Hash)
	}
	p.storage[addr][key] = value
}

// SetBlockHash installs a historical block hash.
func (p *MemoryProvider) SetBlockHash(number uint64, hash types.Hash) {
	p.blockHashes[number] = hash
}

// Account implements Provider.
func (p *MemoryProvider) Account(addr types.Address) *AccountMeta {
	meta := p.accounts[addr]
	if meta == nil {
		return nil
	}
	cp := *meta
	cp.Balance = new(big.Int).Set(meta.Balance)
	return &cp
}

// CodeByHash implements Provider.
func (p *MemoryProvider) CodeByHash(hash types.Hash) []byte {
	return p.code[hash]
}

// Storage implements Provider.
func (p *MemoryProvider) Storage(addr types.Address, key types.Hash) types.Hash {
	if slots, ok := p.storage[addr]; ok {
		return slots[key]
	}
	return types.Hash{}
}

// BlockHash implements Provider.
func (p *MemoryProvider) BlockHash(number uint64) types.Hash {
	return p.blockHashes[number]
}

// Accounts implements AccountEnumerator.
func (p *MemoryProvider) Accounts() []types.Address {
	out := make([]types.Address, 0, len(p.accounts))
	for addr := range p.accounts {
		out = append(out, addr)
	}
	return out
}

// StorageOf implements AccountEnumerator.
func (p *MemoryProvider) StorageOf(addr types.Address) map[types.Hash]types.Hash {
	out := make(map[types.Hash]types.Hash, len(p.storage[addr]))
	for k, v := range p.storage[addr] {
		out[k] = v
	}
	return out
}

var (
	_ Provider          = (*MemoryProvider)(nil)
	_ AccountEnumerator = (*MemoryProvider)(nil)
)
