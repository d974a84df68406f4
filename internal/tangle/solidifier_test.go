package tangle

import (
	"testing"

	"github.com/tangleforge/tnode/internal/store/memstore"
	"github.com/tangleforge/tnode/internal/tmsg"
)

func TestSolidifyWithSolidEntryPointParents(t *testing.T) {
	s := memstore.New()
	tg, err := New(s, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sep1 := tmsg.MessageId{0x01}
	sep2 := tmsg.MessageId{0x02}
	s.AddSolidEntryPoint(sep1)
	s.AddSolidEntryPoint(sep2)

	id := tmsg.MessageId{0x10}
	msg := &tmsg.Message{NetworkId: 1, Parent1: sep1, Parent2: sep2}
	if _, err := tg.InsertMessage(id, msg, 0); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	solid, err := tg.Solidify(id)
	if err != nil {
		t.Fatalf("Solidify: %v", err)
	}
	if !solid {
		t.Fatal("expected message with two solid entry point parents to solidify")
	}

	_, md, _, err := tg.GetMessage(id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !md.Flags.Solid {
		t.Fatal("expected solid flag to be persisted")
	}
}

func TestSolidifyLeavesMessageWithMissingParentUnsolid(t *testing.T) {
	s := memstore.New()
	tg, err := New(s, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sep := tmsg.MessageId{0x01}
	s.AddSolidEntryPoint(sep)

	missing := tmsg.MessageId{0x99}
	id := tmsg.MessageId{0x10}
	if _, err := tg.InsertMessage(id, &tmsg.Message{NetworkId: 1, Parent1: sep, Parent2: missing}, 0); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	solid, err := tg.Solidify(id)
	if err != nil {
		t.Fatalf("Solidify: %v", err)
	}
	if solid {
		t.Fatal("expected message with a missing parent to stay unsolid")
	}
}

func TestSolidifyPromotesWaitingApprovers(t *testing.T) {
	s := memstore.New()
	tg, err := New(s, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sep := tmsg.MessageId{0x01}
	s.AddSolidEntryPoint(sep)

	// The child arrives first; its parent is still unknown, so it cannot
	// solidify yet.
	parent := tmsg.MessageId{0x10}
	child := tmsg.MessageId{0x20}
	if _, err := tg.InsertMessage(child, &tmsg.Message{NetworkId: 1, Parent1: parent, Parent2: sep}, 0); err != nil {
		t.Fatalf("InsertMessage child: %v", err)
	}
	if solid, err := tg.Solidify(child); err != nil || solid {
		t.Fatalf("expected child to wait on its parent: solid=%v err=%v", solid, err)
	}

	// The parent arrives; solidifying it must promote the waiting child
	// through the approver index.
	if _, err := tg.InsertMessage(parent, &tmsg.Message{NetworkId: 1, Parent1: sep, Parent2: sep}, 0); err != nil {
		t.Fatalf("InsertMessage parent: %v", err)
	}
	if solid, err := tg.Solidify(parent); err != nil || !solid {
		t.Fatalf("expected parent to solidify: solid=%v err=%v", solid, err)
	}

	_, md, _, err := tg.GetMessage(child)
	if err != nil {
		t.Fatalf("GetMessage child: %v", err)
	}
	if !md.Flags.Solid {
		t.Fatal("expected child to be promoted when its parent solidified")
	}
}
