package state

import (
	"math/big"
	"sort"

	"github.com/eth2030/evmcore/core/types"
	"github.com/eth2030/evmcore/crypto"
	"github.com/eth2030/evmcore/rlp"
	"github.com/eth2030/evmcore/trie"
)

// stateObject is the in-memory working copy of a single account.
type stateObject struct {
	account    types.Account
	code       []byte
	codeLoaded bool

	// originStorage holds slot values as of the start of the current
	// transaction (including values merely read through from the provider).
	// dirtyStorage holds writes made during the current transaction;
	// writtenStorage accumulates finalized writes across the block for the
	// state diff.
	originStorage  map[types.Hash]types.Hash
	dirtyStorage   map[types.Hash]types.Hash
	writtenStorage map[types.Hash]types.Hash

	selfDestructed bool
	newlyCreated   bool // account did not exist in the provider
}

func newStateObject() *stateObject {
	return &stateObject{
		account:        types.NewAccount(),
		codeLoaded:     true,
		originStorage:  make(map[types.Hash]types.Hash),
		dirtyStorage:   make(map[types.Hash]types.Hash),
		writtenStorage: make(map[types.Hash]types.Hash),
		newlyCreated:   true,
	}
}

// AccountDiff is one entry of the state transition set produced after block
// execution. Nil pointer fields mean "unchanged".
type AccountDiff struct {
	Address   types.Address
	Nonce     *uint64
	Balance   *big.Int
	Code      []byte
	Storage   map[types.Hash]types.Hash
	Destroyed bool
}

// JournaledState is a layered, revertible view over a read-only Provider.
// Every mutation is recorded in a journal; nested checkpoints map to
// CALL/CREATE frames and revert by truncation. The access list is
// deliberately not journaled: warm addresses and slots stay warm across
// frame reverts.
type JournaledState struct {
	provider Provider

	// objects caches loaded accounts. A nil entry means the account is known
	// to be absent (never existed, or deleted during this block).
	objects map[types.Address]*stateObject

	journal    *journal
	refund     uint64
	accessList *accessList
	transient  map[types.Address]map[types.Hash]types.Hash

	touched       map[types.Address]struct{}
	createdThisTx map[types.Address]struct{}

	// mutated is the candidate set for the state diff.
	mutated map[types.Address]struct{}

	// Current transaction context for log attribution.
	txHash  types.Hash
	txIndex int
	logs    map[types.Hash][]*types.Log
}

// NewJournaledState creates a journaled state over the given provider.
func NewJournaledState(provider Provider) *JournaledState {
	return &JournaledState{
		provider:      provider,
		objects:       make(map[types.Address]*stateObject),
		journal:       newJournal(),
		accessList:    newAccessList(),
		transient:     make(map[types.Address]map[types.Hash]types.Hash),
		touched:       make(map[types.Address]struct{}),
		createdThisTx: make(map[types.Address]struct{}),
		mutated:       make(map[types.Address]struct{}),
		logs:          make(map[types.Hash][]*types.Log),
	}
}

// Provider returns the backing pre-state provider.
func (s *JournaledState) Provider() Provider {
	return s.provider
}

// getStateObject returns the cached account for addr, loading it from the
// provider on first access. Returns nil for absent accounts.
func (s *JournaledState) getStateObject(addr types.Address) *stateObject {
	if obj, ok := s.objects[addr]; ok {
		return obj
	}
	meta := s.provider.Account(addr)
	if meta == nil {
		s.objects[addr] = nil
		return nil
	}
	obj := &stateObject{
		account: types.Account{
			Nonce:    meta.Nonce,
			Balance:  new(big.Int).Set(meta.Balance),
			Root:     types.EmptyRootHash,
			CodeHash: meta.CodeHash.Bytes(),
		},
		originStorage:  make(map[types.Hash]types.Hash),
		dirtyStorage:   make(map[types.Hash]types.Hash),
		writtenStorage: make(map[types.Hash]types.Hash),
	}
	s.objects[addr] = obj
	return obj
}

func (s *JournaledState) getOrNewStateObject(addr types.Address) *stateObject {
	if obj := s.getStateObject(addr); obj != nil {
		return obj
	}
	_, prevExisted := s.objects[addr]
	s.journal.append(createObjectChange{addr: addr, prev: nil, prevExisted: prevExisted})
	obj := newStateObject()
	s.objects[addr] = obj
	s.mutated[addr] = struct{}{}
	return obj
}

// --- Account operations ---

// CreateAccount installs a fresh account at addr, replacing any previous one.
func (s *JournaledState) CreateAccount(addr types.Address) {
	prev, prevExisted := s.objects[addr]
	if !prevExisted {
		// Force a load so the journal can restore the pre-image.
		prev = s.getStateObject(addr)
		prevExisted = true
	}
	s.journal.append(createObjectChange{addr: addr, prev: prev, prevExisted: prevExisted})
	s.objects[addr] = newStateObject()
	s.mutated[addr] = struct{}{}
}

// CreateContract marks addr as a contract created in the current transaction.
// Only such contracts are actually destroyed by SELFDESTRUCT post-Cancun
// (EIP-6780).
func (s *JournaledState) CreateContract(addr types.Address) {
	if _, ok := s.createdThisTx[addr]; ok {
		return
	}
	s.journal.append(createContractChange{addr: addr})
	s.createdThisTx[addr] = struct{}{}
}

func (s *JournaledState) GetBalance(addr types.Address) *big.Int {
	if obj := s.getStateObject(addr); obj != nil {
		return new(big.Int).Set(obj.account.Balance)
	}
	return new(big.Int)
}

func (s *JournaledState) AddBalance(addr types.Address, amount *big.Int) {
	obj := s.getOrNewStateObject(addr)
	s.Touch(addr)
	s.journal.append(balanceChange{addr: addr, prev: new(big.Int).Set(obj.account.Balance)})
	obj.account.Balance = new(big.Int).Add(obj.account.Balance, amount)
	s.mutated[addr] = struct{}{}
}

func (s *JournaledState) SubBalance(addr types.Address, amount *big.Int) {
	obj := s.getOrNewStateObject(addr)
	s.Touch(addr)
	s.journal.append(balanceChange{addr: addr, prev: new(big.Int).Set(obj.account.Balance)})
	obj.account.Balance = new(big.Int).Sub(obj.account.Balance, amount)
	s.mutated[addr] = struct{}{}
}

func (s *JournaledState) GetNonce(addr types.Address) uint64 {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.account.Nonce
	}
	return 0
}

func (s *JournaledState) SetNonce(addr types.Address, nonce uint64) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(nonceChange{addr: addr, prev: obj.account.Nonce})
	obj.account.Nonce = nonce
	s.mutated[addr] = struct{}{}
}

func (s *JournaledState) GetCode(addr types.Address) []byte {
	obj := s.getStateObject(addr)
	if obj == nil {
		return nil
	}
	s.loadCode(obj)
	return obj.code
}

func (s *JournaledState) loadCode(obj *stateObject) {
	if obj.codeLoaded {
		return
	}
	hash := types.BytesToHash(obj.account.CodeHash)
	if hash != types.EmptyCodeHash && hash != (types.Hash{}) {
		obj.code = s.provider.CodeByHash(hash)
	}
	obj.codeLoaded = true
}

func (s *JournaledState) SetCode(addr types.Address, code []byte) {
	obj := s.getOrNewStateObject(addr)
	s.loadCode(obj)
	prevHash := make([]byte, len(obj.account.CodeHash))
	copy(prevHash, obj.account.CodeHash)
	s.journal.append(codeChange{addr: addr, prevCode: obj.code, prevHash: prevHash})
	obj.code = code
	obj.account.CodeHash = crypto.Keccak256(code)
	s.mutated[addr] = struct{}{}
}

func (s *JournaledState) GetCodeHash(addr types.Address) types.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		return types.BytesToHash(obj.account.CodeHash)
	}
	return types.Hash{}
}

func (s *JournaledState) GetCodeSize(addr types.Address) int {
	return len(s.GetCode(addr))
}

// --- Storage operations ---

// loadOrigin returns the slot value as of the start of the current
// transaction, reading through to the provider on first access.
func (s *JournaledState) loadOrigin(obj *stateObject, addr types.Address, key types.Hash) types.Hash {
	if val, ok := obj.originStorage[key]; ok {
		return val
	}
	var val types.Hash
	if !obj.newlyCreated {
		val = s.provider.Storage(addr, key)
	}
	obj.originStorage[key] = val
	return val
}

func (s *JournaledState) GetState(addr types.Address, key types.Hash) types.Hash {
	obj := s.getStateObject(addr)
	if obj == nil {
		return types.Hash{}
	}
	if val, ok := obj.dirtyStorage[key]; ok {
		return val
	}
	return s.loadOrigin(obj, addr, key)
}

func (s *JournaledState) SetState(addr types.Address, key types.Hash, value types.Hash) {
	obj := s.getOrNewStateObject(addr)
	// Pin the original value before the first write this tx so SSTORE refund
	// accounting stays correct.
	s.loadOrigin(obj, addr, key)
	prev, prevExists := obj.dirtyStorage[key]
	s.journal.append(storageChange{addr: addr, key: key, prev: prev, prevExists: prevExists})
	obj.dirtyStorage[key] = value
	s.mutated[addr] = struct{}{}
}

// GetCommittedState returns the slot value as of the start of the current
// transaction (the "original" of the EIP-2200 triplet).
func (s *JournaledState) GetCommittedState(addr types.Address, key types.Hash) types.Hash {
	obj := s.getStateObject(addr)
	if obj == nil {
		return types.Hash{}
	}
	return s.loadOrigin(obj, addr, key)
}

// --- Transient storage (EIP-1153) ---

func (s *JournaledState) GetTransientState(addr types.Address, key types.Hash) types.Hash {
	if slots, ok := s.transient[addr]; ok {
		return slots[key]
	}
	return types.Hash{}
}

func (s *JournaledState) SetTransientState(addr types.Address, key types.Hash, value types.Hash) {
	prev := s.GetTransientState(addr, key)
	if prev == value {
		return
	}
	s.journal.append(transientStorageChange{addr: addr, key: key, prev: prev})
	if _, ok := s.transient[addr]; !ok {
		s.transient[addr] = make(map[types.Hash]types.Hash)
	}
	s.transient[addr][key] = value
}

// --- Self-destruct ---

// SelfDestruct marks addr for deletion at transaction end and moves its
// balance to the beneficiary. Sending to the destructed account itself burns
// the balance.
func (s *JournaledState) SelfDestruct(addr, beneficiary types.Address) {
	obj := s.getStateObject(addr)
	if obj == nil {
		return
	}
	s.transferOnDestruct(addr, beneficiary)
	s.journal.append(selfDestructChange{addr: addr, prev: obj.selfDestructed})
	obj.selfDestructed = true
	s.mutated[addr] = struct{}{}
}

// SelfDestruct6780 implements Cancun SELFDESTRUCT: the balance always moves,
// but the account is marked for deletion only if it was created in the same
// transaction.
func (s *JournaledState) SelfDestruct6780(addr, beneficiary types.Address) {
	if _, created := s.createdThisTx[addr]; created {
		s.SelfDestruct(addr, beneficiary)
		return
	}
	s.transferOnDestruct(addr, beneficiary)
}

func (s *JournaledState) transferOnDestruct(addr, beneficiary types.Address) {
	balance := s.GetBalance(addr)
	if balance.Sign() > 0 {
		s.AddBalance(beneficiary, balance)
		s.SubBalance(addr, balance)
	} else {
		s.Touch(beneficiary)
	}
}

func (s *JournaledState) HasSelfDestructed(addr types.Address) bool {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.selfDestructed
	}
	return false
}

// --- Existence, touch ---

func (s *JournaledState) Exist(addr types.Address) bool {
	return s.getStateObject(addr) != nil
}

// Empty reports whether the account is absent or empty per EIP-161.
func (s *JournaledState) Empty(addr types.Address) bool {
	obj := s.getStateObject(addr)
	if obj == nil {
		return true
	}
	return s.objectEmpty(obj)
}

func (s *JournaledState) objectEmpty(obj *stateObject) bool {
	return obj.account.Nonce == 0 &&
		obj.account.Balance.Sign() == 0 &&
		types.BytesToHash(obj.account.CodeHash) == types.EmptyCodeHash
}

// Touch marks addr for the EIP-161 empty-account sweep at transaction end.
func (s *JournaledState) Touch(addr types.Address) {
	_, prev := s.touched[addr]
	if prev {
		return
	}
	s.journal.append(touchChange{addr: addr, prevTouched: prev})
	s.touched[addr] = struct{}{}
}

// --- Snapshot and revert ---

func (s *JournaledState) Snapshot() int {
	return s.journal.snapshot()
}

func (s *JournaledState) RevertToSnapshot(id int) {
	s.journal.revertToSnapshot(id, s)
}

// --- Logs ---

// SetTxContext sets the current transaction hash and index for log attribution.
func (s *JournaledState) SetTxContext(txHash types.Hash, txIndex int) {
	s.txHash = txHash
	s.txIndex = txIndex
}

func (s *JournaledState) AddLog(log *types.Log) {
	log.TxHash = s.txHash
	log.TxIndex = uint(s.txIndex)
	s.journal.append(logChange{txHash: s.txHash, prevLen: len(s.logs[s.txHash])})
	s.logs[s.txHash] = append(s.logs[s.txHash], log)
}

func (s *JournaledState) GetLogs(txHash types.Hash) []*types.Log {
	return s.logs[txHash]
}

// --- Refund counter ---

func (s *JournaledState) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

func (s *JournaledState) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}

func (s *JournaledState) GetRefund() uint64 {
	return s.refund
}

// --- Access list (EIP-2929) ---

func (s *JournaledState) AddAddressToAccessList(addr types.Address) {
	s.accessList.AddAddress(addr)
}

func (s *JournaledState) AddSlotToAccessList(addr types.Address, slot types.Hash) {
	s.accessList.AddSlot(addr, slot)
}

func (s *JournaledState) AddressInAccessList(addr types.Address) bool {
	return s.accessList.ContainsAddress(addr)
}

func (s *JournaledState) SlotInAccessList(addr types.Address, slot types.Hash) (addressOk bool, slotOk bool) {
	return s.accessList.ContainsSlot(addr, slot)
}

// --- Transaction boundary ---

// Finalise ends the current transaction: self-destructed accounts and (when
// deleteEmpty is set) empty touched accounts are removed, dirty storage is
// folded into the original view, and all per-transaction scratch state
// (journal, refund, access list, transient storage, created set) is reset.
// After Finalise, the changes of the transaction can no longer be reverted.
func (s *JournaledState) Finalise(deleteEmpty bool) {
	for addr, obj := range s.objects {
		if obj == nil {
			continue
		}
		if obj.selfDestructed {
			s.objects[addr] = nil
			s.mutated[addr] = struct{}{}
			continue
		}
		for k, v := range obj.dirtyStorage {
			obj.originStorage[k] = v
			obj.writtenStorage[k] = v
		}
		if len(obj.dirtyStorage) > 0 {
			obj.dirtyStorage = make(map[types.Hash]types.Hash)
		}
	}
	if deleteEmpty {
		for addr := range s.touched {
			if obj, ok := s.objects[addr]; ok && obj != nil && s.objectEmpty(obj) {
				s.objects[addr] = nil
				s.mutated[addr] = struct{}{}
			}
		}
	}

	s.touched = make(map[types.Address]struct{})
	s.createdThisTx = make(map[types.Address]struct{})
	s.transient = make(map[types.Address]map[types.Hash]types.Hash)
	s.accessList = newAccessList()
	s.refund = 0
	s.journal = newJournal()
}

// --- Commit and state transitions ---

// rlpAccount is the RLP-serializable form of an account (Yellow Paper).
type rlpAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Root     []byte
	CodeHash []byte
}

// Commit computes the post-state root over the full account set: the
// provider's accounts (when it supports enumeration) overlaid with every
// change made during the block. It does not reset any state; call Finalise
// for each transaction before committing.
func (s *JournaledState) Commit() (types.Hash, error) {
	stateTrie := trie.New()

	seen := make(map[types.Address]bool)

	// Accounts touched during execution, in their current form.
	for addr, obj := range s.objects {
		seen[addr] = true
		if obj == nil || obj.selfDestructed {
			continue
		}
		if err := s.putAccount(stateTrie, addr, obj); err != nil {
			return types.Hash{}, err
		}
	}

	// Untouched provider accounts.
	if enum, ok := s.provider.(AccountEnumerator); ok {
		for _, addr := range enum.Accounts() {
			if seen[addr] {
				continue
			}
			meta := s.provider.Account(addr)
			if meta == nil {
				continue
			}
			storageRoot := storageRootOf(enum.StorageOf(addr), nil)
			if err := putAccountLeaf(stateTrie, addr, rlpAccount{
				Nonce:    meta.Nonce,
				Balance:  meta.Balance,
				Root:     storageRoot[:],
				CodeHash: meta.CodeHash.Bytes(),
			}); err != nil {
				return types.Hash{}, err
			}
		}
	}

	return stateTrie.Hash(), nil
}

func (s *JournaledState) putAccount(stateTrie *trie.Trie, addr types.Address, obj *stateObject) error {
	// Base storage: the provider's view for pre-existing accounts, nothing
	// for accounts created during this block.
	var base map[types.Hash]types.Hash
	if !obj.newlyCreated {
		if enum, ok := s.provider.(AccountEnumerator); ok {
			base = enum.StorageOf(addr)
		}
	}
	overlay := make(map[types.Hash]types.Hash, len(obj.writtenStorage)+len(obj.dirtyStorage))
	for k, v := range obj.writtenStorage {
		overlay[k] = v
	}
	for k, v := range obj.dirtyStorage {
		overlay[k] = v
	}
	storageRoot := storageRootOf(base, overlay)

	codeHash := obj.account.CodeHash
	if len(codeHash) == 0 {
		codeHash = types.EmptyCodeHash.Bytes()
	}
	return putAccountLeaf(stateTrie, addr, rlpAccount{
		Nonce:    obj.account.Nonce,
		Balance:  obj.account.Balance,
		Root:     storageRoot[:],
		CodeHash: codeHash,
	})
}

func putAccountLeaf(stateTrie *trie.Trie, addr types.Address, acc rlpAccount) error {
	encoded, err := rlp.EncodeToBytes(acc)
	if err != nil {
		return err
	}
	return stateTrie.Put(crypto.Keccak256(addr[:]), encoded)
}

// storageRootOf computes the storage trie root of base overlaid with overlay,
// dropping zero-valued slots.
func storageRootOf(base, overlay map[types.Hash]types.Hash) types.Hash {
	merged := make(map[types.Hash]types.Hash, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}

	storageTrie := trie.New()
	empty := true
	for slot, val := range merged {
		if val == (types.Hash{}) {
			continue
		}
		empty = false
		trimmed := trimLeadingZeros(val[:])
		encoded, err := rlp.EncodeToBytes(trimmed)
		if err != nil {
			continue
		}
		storageTrie.Put(crypto.Keccak256(slot[:]), encoded)
	}
	if empty {
		return types.EmptyRootHash
	}
	return storageTrie.Hash()
}

// trimLeadingZeros removes leading zero bytes; all-zero input becomes empty.
func trimLeadingZeros(b []byte) []byte {
	for i, v := range b {
		if v != 0 {
			return b[i:]
		}
	}
	return []byte{}
}

// TakeStateTransitions consumes the accumulated account diff of the block,
// ordered by address. Accounts whose final state matches the provider's view
// are omitted.
func (s *JournaledState) TakeStateTransitions() []AccountDiff {
	addrs := make([]types.Address, 0, len(s.mutated))
	for addr := range s.mutated {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Hex() < addrs[j].Hex()
	})

	var diffs []AccountDiff
	for _, addr := range addrs {
		prev := s.provider.Account(addr)
		obj := s.objects[addr]

		if obj == nil {
			if prev != nil {
				diffs = append(diffs, AccountDiff{Address: addr, Destroyed: true})
			}
			continue
		}

		diff := AccountDiff{Address: addr}
		changed := false

		var prevNonce uint64
		prevBalance := new(big.Int)
		prevCodeHash := types.EmptyCodeHash
		if prev != nil {
			prevNonce = prev.Nonce
			prevBalance = prev.Balance
			prevCodeHash = prev.CodeHash
		}
		if obj.account.Nonce != prevNonce {
			n := obj.account.Nonce
			diff.Nonce = &n
			changed = true
		}
		if obj.account.Balance.Cmp(prevBalance) != 0 {
			diff.Balance = new(big.Int).Set(obj.account.Balance)
			changed = true
		}
		if types.BytesToHash(obj.account.CodeHash) != prevCodeHash {
			s.loadCode(obj)
			diff.Code = obj.code
			changed = true
		}
		storage := make(map[types.Hash]types.Hash)
		for k, v := range obj.writtenStorage {
			var prevVal types.Hash
			if !obj.newlyCreated {
				prevVal = s.provider.Storage(addr, k)
			}
			if v != prevVal {
				storage[k] = v
			}
		}
		for k, v := range obj.dirtyStorage {
			var prevVal types.Hash
			if !obj.newlyCreated {
				prevVal = s.provider.Storage(addr, k)
			}
			if v != prevVal {
				storage[k] = v
			}
		}
		if len(storage) > 0 {
			diff.Storage = storage
			changed = true
		}
		if prev == nil && !changed {
			// Account was conjured but ended up indistinguishable from empty.
			continue
		}
		if changed {
			diffs = append(diffs, diff)
		}
	}

	s.mutated = make(map[types.Address]struct{})
	return diffs
}
