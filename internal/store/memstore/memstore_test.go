package memstore

import (
	"testing"

	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tmsg"
)

func TestMessageRoundTrip(t *testing.T) {
	s := New()
	id := tmsg.MessageId{0x01}
	msg := &tmsg.Message{NetworkId: 1, Nonce: 7}

	if err := s.PutMessage(id, msg); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}
	got, ok, err := s.GetMessage(id)
	if err != nil || !ok {
		t.Fatalf("GetMessage: ok=%v err=%v", ok, err)
	}
	if got.Nonce != 7 {
		t.Errorf("Nonce = %d, want 7", got.Nonce)
	}

	if err := s.DeleteMessage(id); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, ok, _ := s.GetMessage(id); ok {
		t.Errorf("expected message deleted")
	}
}

func TestApproverIndex(t *testing.T) {
	s := New()
	parent := tmsg.MessageId{0x01}
	c1 := tmsg.MessageId{0x02}
	c2 := tmsg.MessageId{0x03}

	if err := s.AddApprover(parent, c1); err != nil {
		t.Fatalf("AddApprover: %v", err)
	}
	if err := s.AddApprover(parent, c2); err != nil {
		t.Fatalf("AddApprover: %v", err)
	}

	got, err := s.GetApprovers(parent)
	if err != nil {
		t.Fatalf("GetApprovers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestUnspentSet(t *testing.T) {
	s := New()
	id := tmsg.OutputId{Index: 1}

	if err := s.AddUnspent(id); err != nil {
		t.Fatalf("AddUnspent: %v", err)
	}
	ok, err := s.IsUnspent(id)
	if err != nil || !ok {
		t.Fatalf("IsUnspent: ok=%v err=%v", ok, err)
	}

	var seen []tmsg.OutputId
	if err := s.ForEachUnspent(func(id tmsg.OutputId) error {
		seen = append(seen, id)
		return nil
	}); err != nil {
		t.Fatalf("ForEachUnspent: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("len(seen) = %d, want 1", len(seen))
	}

	if err := s.RemoveUnspent(id); err != nil {
		t.Fatalf("RemoveUnspent: %v", err)
	}
	if ok, _ := s.IsUnspent(id); ok {
		t.Errorf("expected not unspent after removal")
	}
}

func TestAddressOutputIndex(t *testing.T) {
	s := New()
	addr := tmsg.NewEd25519Address([32]byte{0xaa})
	id1 := tmsg.OutputId{Index: 1}
	id2 := tmsg.OutputId{Index: 2}

	if err := s.AddAddressOutput(addr, id1); err != nil {
		t.Fatalf("AddAddressOutput: %v", err)
	}
	if err := s.AddAddressOutput(addr, id2); err != nil {
		t.Fatalf("AddAddressOutput: %v", err)
	}

	got, err := s.ListAddressOutputs(addr)
	if err != nil {
		t.Fatalf("ListAddressOutputs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}

	if err := s.RemoveAddressOutput(addr, id1); err != nil {
		t.Fatalf("RemoveAddressOutput: %v", err)
	}
	got, err = s.ListAddressOutputs(addr)
	if err != nil {
		t.Fatalf("ListAddressOutputs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
}

func TestSnapshotInfoAndLedgerIndex(t *testing.T) {
	s := New()

	if _, ok, err := s.GetSnapshotInfo(); err != nil || ok {
		t.Fatalf("expected no snapshot info yet: ok=%v err=%v", ok, err)
	}

	info := store.SnapshotInfo{NetworkId: 1, SnapshotIndex: 10, EntryPointIndex: 5, PruningIndex: 1, Timestamp: 100}
	if err := s.SetSnapshotInfo(info); err != nil {
		t.Fatalf("SetSnapshotInfo: %v", err)
	}
	got, ok, err := s.GetSnapshotInfo()
	if err != nil || !ok {
		t.Fatalf("GetSnapshotInfo: ok=%v err=%v", ok, err)
	}
	if got != info {
		t.Errorf("got %+v, want %+v", got, info)
	}

	if err := s.SetLedgerIndex(42); err != nil {
		t.Fatalf("SetLedgerIndex: %v", err)
	}
	idx, err := s.GetLedgerIndex()
	if err != nil || idx != 42 {
		t.Fatalf("GetLedgerIndex = %d, err=%v, want 42", idx, err)
	}
}
