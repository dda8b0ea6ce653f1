package state

import (
	"math/big"

	"github.com/eth2030/evmcore/core/types"
)

// journalEntry is a revertible state change.
type journalEntry interface {
	revert(s *JournaledState)
}

// journal tracks state modifications for snapshot/revert. Reverting truncates
// the entry list, so checkpoints are O(1) to take and revert proportional to
// the changes since.
type journal struct {
	entries   []journalEntry
	snapshots map[int]int // snapshot ID -> entry index
	nextID    int
}

func newJournal() *journal {
	return &journal{
		snapshots: make(map[int]int),
	}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() int {
	id := j.nextID
	j.nextID++
	j.snapshots[id] = len(j.entries)
	return id
}

func (j *journal) revertToSnapshot(id int, s *JournaledState) {
	idx, ok := j.snapshots[id]
	if !ok {
		return
	}
	// Revert in reverse order.
	for i := len(j.entries) - 1; i >= idx; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:idx]

	// Remove invalidated snapshots.
	for sid := range j.snapshots {
		if sid >= id {
			delete(j.snapshots, sid)
		}
	}
}

// --- Concrete journal entries ---

type createObjectChange struct {
	addr        types.Address
	prev        *stateObject
	prevExisted bool // whether the objects map had an entry (possibly nil) before
}

func (ch createObjectChange) revert(s *JournaledState) {
	if ch.prevExisted {
		s.objects[ch.addr] = ch.prev
	} else {
		delete(s.objects, ch.addr)
	}
}

type createContractChange struct {
	addr types.Address
}

func (ch createContractChange) revert(s *JournaledState) {
	delete(s.createdThisTx, ch.addr)
}

type balanceChange struct {
	addr types.Address
	prev *big.Int
}

func (ch balanceChange) revert(s *JournaledState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.account.Balance = ch.prev
	}
}

type nonceChange struct {
	addr types.Address
	prev uint64
}

func (ch nonceChange) revert(s *JournaledState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.account.Nonce = ch.prev
	}
}

type codeChange struct {
	addr     types.Address
	prevCode []byte
	prevHash []byte
}

func (ch codeChange) revert(s *JournaledState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.code = ch.prevCode
		obj.codeLoaded = true
		obj.account.CodeHash = ch.prevHash
	}
}

type storageChange struct {
	addr       types.Address
	key        types.Hash
	prev       types.Hash
	prevExists bool // whether the key was in dirtyStorage before this write
}

func (ch storageChange) revert(s *JournaledState) {
	if obj := s.objects[ch.addr]; obj != nil {
		if ch.prevExists {
			obj.dirtyStorage[ch.key] = ch.prev
		} else {
			delete(obj.dirtyStorage, ch.key)
		}
	}
}

type selfDestructChange struct {
	addr types.Address
	prev bool
}

func (ch selfDestructChange) revert(s *JournaledState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.selfDestructed = ch.prev
	}
}

type touchChange struct {
	addr        types.Address
	prevTouched bool
}

func (ch touchChange) revert(s *JournaledState) {
	if !ch.prevTouched {
		delete(s.touched, ch.addr)
	}
}

type transientStorageChange struct {
	addr types.Address
	key  types.Hash
	prev types.Hash
}

func (ch transientStorageChange) revert(s *JournaledState) {
	if ch.prev == (types.Hash{}) {
		delete(s.transient[ch.addr], ch.key)
		if len(s.transient[ch.addr]) == 0 {
			delete(s.transient, ch.addr)
		}
	} else {
		s.transient[ch.addr][ch.key] = ch.prev
	}
}

type logChange struct {
	txHash  types.Hash
	prevLen int
}

func (ch logChange) revert(s *JournaledState) {
	logs := s.logs[ch.txHash]
	s.logs[ch.txHash] = logs[:ch.prevLen]
	if ch.prevLen == 0 {
		delete(s.logs, ch.txHash)
	}
}

type refundChange struct {
	prev uint64
}

func (ch refundChange) revert(s *JournaledState) {
	s.refund = ch.prev
}
