package state

import (
	"math/big"
	"testing"

	"github.com/eth2030/evmcore/core/types"
)

var (
	addrA = types.HexToAddress("0xaaaa")
	addrB = types.HexToAddress("0xbbbb")
	slot0 = types.Hash{}
	slot1 = types.BytesToHash([]byte{1})
	val7  = types.BytesToHash([]byte{7})
	val9  = types.BytesToHash([]byte{9})
)

func newTestState() (*JournaledState, *MemoryProvider) {
	provider := NewMemoryProvider()
	provider.SetAccount(addrA, big.NewInt(1000), 5)
	return NewJournaledState(provider), provider
}

func TestReadThrough(t *testing.T) {
	s, _ := newTestState()
	if got := s.GetBalance(addrA); got.Int64() != 1000 {
		t.Errorf("balance = %v", got)
	}
	if got := s.GetNonce(addrA); got != 5 {
		t.Errorf("nonce = %d", got)
	}
	if s.Exist(addrB) {
		t.Error("absent account exists")
	}
}

func TestSnapshotRevertBalanceNonce(t *testing.T) {
	s, _ := newTestState()
	snap := s.Snapshot()
	s.AddBalance(addrA, big.NewInt(500))
	s.SetNonce(addrA, 6)

	s.RevertToSnapshot(snap)
	if got := s.GetBalance(addrA); got.Int64() != 1000 {
		t.Errorf("balance after revert = %v", got)
	}
	if got := s.GetNonce(addrA); got != 5 {
		t.Errorf("nonce after revert = %d", got)
	}
}

func TestSnapshotRevertStorage(t *testing.T) {
	s, _ := newTestState()
	s.SetState(addrA, slot0, val7)

	snap := s.Snapshot()
	s.SetState(addrA, slot0, val9)
	s.SetState(addrA, slot1, val7)
	s.RevertToSnapshot(snap)

	if got := s.GetState(addrA, slot0); got != val7 {
		t.Errorf("slot0 = %v, want 7", got)
	}
	if got := s.GetState(addrA, slot1); got != (types.Hash{}) {
		t.Errorf("slot1 = %v, want 0", got)
	}
}

func TestNestedSnapshots(t *testing.T) {
	s, _ := newTestState()
	outer := s.Snapshot()
	s.AddBalance(addrA, big.NewInt(1))
	inner := s.Snapshot()
	s.AddBalance(addrA, big.NewInt(10))

	s.RevertToSnapshot(inner)
	if got := s.GetBalance(addrA); got.Int64() != 1001 {
		t.Errorf("after inner revert = %v", got)
	}
	s.RevertToSnapshot(outer)
	if got := s.GetBalance(addrA); got.Int64() != 1000 {
		t.Errorf("after outer revert = %v", got)
	}
}

func TestRevertAccountCreation(t *testing.T) {
	s, _ := newTestState()
	snap := s.Snapshot()
	s.CreateAccount(addrB)
	s.AddBalance(addrB, big.NewInt(5))
	s.RevertToSnapshot(snap)
	if s.Exist(addrB) {
		t.Error("created account survived revert")
	}
}

func TestGetCommittedStateIsTxOriginal(t *testing.T) {
	provider := NewMemoryProvider()
	provider.SetAccount(addrA, big.NewInt(0), 1)
	provider.SetStorage(addrA, slot0, val7)
	s := NewJournaledState(provider)

	if got := s.GetCommittedState(addrA, slot0); got != val7 {
		t.Fatalf("original = %v, want 7", got)
	}
	s.SetState(addrA, slot0, val9)
	// The original stays pinned for the whole transaction.
	if got := s.GetCommittedState(addrA, slot0); got != val7 {
		t.Errorf("original after write = %v, want 7", got)
	}
	if got := s.GetState(addrA, slot0); got != val9 {
		t.Errorf("current = %v, want 9", got)
	}

	// After Finalise, the committed view advances to the new value.
	s.Finalise(true)
	if got := s.GetCommittedState(addrA, slot0); got != val9 {
		t.Errorf("original after finalise = %v, want 9", got)
	}
}

func TestAccessListSurvivesRevert(t *testing.T) {
	s, _ := newTestState()
	snap := s.Snapshot()
	s.AddAddressToAccessList(addrB)
	s.AddSlotToAccessList(addrB, slot0)
	s.RevertToSnapshot(snap)

	// EIP-2929 warm sets are not rolled back with the frame.
	if !s.AddressInAccessList(addrB) {
		t.Error("address cooled down on revert")
	}
	if _, slotWarm := s.SlotInAccessList(addrB, slot0); !slotWarm {
		t.Error("slot cooled down on revert")
	}
}

func TestTransientStorageRevertedAndCleared(t *testing.T) {
	s, _ := newTestState()
	s.SetTransientState(addrA, slot0, val7)

	snap := s.Snapshot()
	s.SetTransientState(addrA, slot0, val9)
	s.RevertToSnapshot(snap)
	// EIP-1153: transient writes are reverted with the frame.
	if got := s.GetTransientState(addrA, slot0); got != val7 {
		t.Errorf("transient after revert = %v, want 7", got)
	}

	s.Finalise(true)
	if got := s.GetTransientState(addrA, slot0); got != (types.Hash{}) {
		t.Errorf("transient after finalise = %v, want 0", got)
	}
}

func TestRefundCounter(t *testing.T) {
	s, _ := newTestState()
	s.AddRefund(4800)
	snap := s.Snapshot()
	s.AddRefund(4800)
	s.RevertToSnapshot(snap)
	if got := s.GetRefund(); got != 4800 {
		t.Errorf("refund = %d, want 4800", got)
	}
	s.Finalise(true)
	if got := s.GetRefund(); got != 0 {
		t.Errorf("refund after finalise = %d", got)
	}
}

func TestSelfDestructLegacy(t *testing.T) {
	s, _ := newTestState()
	s.SelfDestruct(addrA, addrB)
	if !s.HasSelfDestructed(addrA) {
		t.Fatal("not marked destructed")
	}
	if got := s.GetBalance(addrB); got.Int64() != 1000 {
		t.Errorf("beneficiary balance = %v", got)
	}
	s.Finalise(true)
	if s.Exist(addrA) {
		t.Error("destructed account survived finalise")
	}
}

func TestSelfDestruct6780PreexistingSurvives(t *testing.T) {
	s, _ := newTestState()
	// addrA was not created in this transaction: only the balance moves.
	s.SelfDestruct6780(addrA, addrB)
	if s.HasSelfDestructed(addrA) {
		t.Error("pre-existing contract marked for destruction post-cancun")
	}
	if got := s.GetBalance(addrB); got.Int64() != 1000 {
		t.Errorf("beneficiary balance = %v", got)
	}
	s.Finalise(true)
	if !s.Exist(addrA) {
		t.Error("pre-existing account deleted despite EIP-6780")
	}
}

func TestSelfDestruct6780CreatedThisTx(t *testing.T) {
	s, _ := newTestState()
	s.CreateAccount(addrB)
	s.CreateContract(addrB)
	s.AddBalance(addrB, big.NewInt(42))

	s.SelfDestruct6780(addrB, addrA)
	if !s.HasSelfDestructed(addrB) {
		t.Fatal("same-tx contract not marked for destruction")
	}
	s.Finalise(true)
	if s.Exist(addrB) {
		t.Error("same-tx destructed contract survived")
	}
	if got := s.GetBalance(addrA); got.Int64() != 1042 {
		t.Errorf("beneficiary balance = %v", got)
	}
}

func TestEmptyTouchedAccountsSwept(t *testing.T) {
	s, _ := newTestState()
	// A zero-value transfer touches an empty account into existence.
	s.AddBalance(addrB, new(big.Int))
	if !s.Exist(addrB) {
		t.Fatal("touched account should exist pre-finalise")
	}
	s.Finalise(true)
	if s.Exist(addrB) {
		t.Error("empty touched account survived the EIP-161 sweep")
	}
}

func TestLogsJournaledByTx(t *testing.T) {
	s, _ := newTestState()
	txHash := types.HexToHash("0x1234")
	s.SetTxContext(txHash, 0)
	s.AddLog(&types.Log{Address: addrA})

	snap := s.Snapshot()
	s.AddLog(&types.Log{Address: addrB})
	s.RevertToSnapshot(snap)

	logs := s.GetLogs(txHash)
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].TxHash != txHash || logs[0].Address != addrA {
		t.Error("log attribution wrong")
	}
}

func TestCommitRootReflectsChanges(t *testing.T) {
	s, _ := newTestState()
	r1, err := s.Commit()
	if err != nil {
		t.Fatal(err)
	}

	s.AddBalance(addrA, big.NewInt(1))
	s.Finalise(true)
	r2, err := s.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if r1 == r2 {
		t.Error("root unchanged after balance change")
	}
}

func TestCommitDeterministic(t *testing.T) {
	build := func() types.Hash {
		provider := NewMemoryProvider()
		provider.SetAccount(addrA, big.NewInt(1000), 5)
		provider.SetStorage(addrA, slot0, val7)
		s := NewJournaledState(provider)
		s.SetState(addrA, slot1, val9)
		s.AddBalance(addrB, big.NewInt(3))
		s.Finalise(true)
		root, err := s.Commit()
		if err != nil {
			t.Fatal(err)
		}
		return root
	}
	if build() != build() {
		t.Error("commit is not deterministic")
	}
}

func TestTakeStateTransitions(t *testing.T) {
	provider := NewMemoryProvider()
	provider.SetAccount(addrA, big.NewInt(1000), 5)
	provider.SetStorage(addrA, slot0, val7)
	s := NewJournaledState(provider)

	s.SubBalance(addrA, big.NewInt(100))
	s.SetNonce(addrA, 6)
	s.SetState(addrA, slot0, val9)
	s.AddBalance(addrB, big.NewInt(100))
	s.Finalise(true)

	diffs := s.TakeStateTransitions()
	if len(diffs) != 2 {
		t.Fatalf("diffs = %d, want 2", len(diffs))
	}
	byAddr := make(map[types.Address]AccountDiff)
	for _, d := range diffs {
		byAddr[d.Address] = d
	}

	da, ok := byAddr[addrA]
	if !ok {
		t.Fatal("no diff for addrA")
	}
	if da.Balance == nil || da.Balance.Int64() != 900 {
		t.Errorf("balance diff = %v", da.Balance)
	}
	if da.Nonce == nil || *da.Nonce != 6 {
		t.Errorf("nonce diff = %v", da.Nonce)
	}
	if da.Storage[slot0] != val9 {
		t.Errorf("storage diff = %v", da.Storage)
	}

	db, ok := byAddr[addrB]
	if !ok {
		t.Fatal("no diff for addrB")
	}
	if db.Balance == nil || db.Balance.Int64() != 100 {
		t.Errorf("addrB balance diff = %v", db.Balance)
	}

	// The diff is consumed.
	if rest := s.TakeStateTransitions(); len(rest) != 0 {
		t.Errorf("second take = %d diffs", len(rest))
	}
}

func TestTransitionsOmitNoOps(t *testing.T) {
	s, _ := newTestState()
	// Write and revert: the account is marked mutated but unchanged.
	snap := s.Snapshot()
	s.AddBalance(addrA, big.NewInt(1))
	s.RevertToSnapshot(snap)
	s.Finalise(true)

	if diffs := s.TakeStateTransitions(); len(diffs) != 0 {
		t.Errorf("no-op produced %d diffs", len(diffs))
	}
}

func TestDestroyedAccountInTransitions(t *testing.T) {
	s, _ := newTestState()
	s.SelfDestruct(addrA, addrB)
	s.Finalise(true)

	diffs := s.TakeStateTransitions()
	var destroyed bool
	for _, d := range diffs {
		if d.Address == addrA && d.Destroyed {
			destroyed = true
		}
	}
	if !destroyed {
		t.Error("destroyed account missing from transitions")
	}
}
