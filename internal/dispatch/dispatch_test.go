package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tangleforge/tnode/internal/milestone"
	"github.com/tangleforge/tnode/internal/store/memstore"
	"github.com/tangleforge/tnode/internal/tangle"
	"github.com/tangleforge/tnode/internal/tmsg"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *memstore.Store, *tangle.Tangle, *milestone.Manager) {
	t.Helper()
	s := memstore.New()
	tg, err := tangle.New(s, tangle.MinCacheCapacity)
	if err != nil {
		t.Fatalf("tangle.New: %v", err)
	}
	mm := milestone.New(tg, s)
	d := New(tg, s, mm)
	d.Start(DefaultBufferSize)
	return d, s, tg, mm
}

func submitAndWait(t *testing.T, d *Dispatcher, tg *tangle.Tangle, id tmsg.MessageId, msg *tmsg.Message) {
	t.Helper()
	if _, err := tg.InsertMessage(id, msg, 0); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Submit(ctx, id); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestDispatchIndexationPayload(t *testing.T) {
	d, s, tg, _ := newTestDispatcher(t)

	idx, err := tmsg.NewIndexationPayload("topic", []byte("hello"))
	if err != nil {
		t.Fatalf("NewIndexationPayload: %v", err)
	}
	id := tmsg.MessageId{0x01}
	msg := &tmsg.Message{NetworkId: 1, Parent1: tmsg.MessageId{0xa}, Parent2: tmsg.MessageId{0xb}, Payload: idx}
	submitAndWait(t, d, tg, id, msg)
	d.Stop()

	got, err := s.ListIndexationEntries(idx.Index)
	if err != nil {
		t.Fatalf("ListIndexationEntries: %v", err)
	}
	if len(got) != 1 || got[0] != id {
		t.Fatalf("ListIndexationEntries = %v, want [%v]", got, id)
	}
}

func TestDispatchEmbeddedIndexationPayload(t *testing.T) {
	d, s, tg, _ := newTestDispatcher(t)

	idx, err := tmsg.NewIndexationPayload("embedded", []byte("payload"))
	if err != nil {
		t.Fatalf("NewIndexationPayload: %v", err)
	}
	tx := &tmsg.TransactionPayload{Essence: tmsg.TransactionEssence{Indexation: idx}}
	id := tmsg.MessageId{0x02}
	msg := &tmsg.Message{NetworkId: 1, Parent1: tmsg.MessageId{0xa}, Parent2: tmsg.MessageId{0xb}, Payload: tx}
	submitAndWait(t, d, tg, id, msg)
	d.Stop()

	got, err := s.ListIndexationEntries(idx.Index)
	if err != nil {
		t.Fatalf("ListIndexationEntries: %v", err)
	}
	if len(got) != 1 || got[0] != id {
		t.Fatalf("ListIndexationEntries = %v, want [%v]", got, id)
	}
}

func TestDispatchMilestonePayload(t *testing.T) {
	d, _, tg, mm := newTestDispatcher(t)

	ms := &tmsg.MilestonePayload{Essence: tmsg.MilestoneEssence{Index: 7}}
	id := tmsg.MessageId{0x03}
	msg := &tmsg.Message{NetworkId: 1, Parent1: tmsg.MessageId{0xa}, Parent2: tmsg.MessageId{0xb}, Payload: ms}
	submitAndWait(t, d, tg, id, msg)
	d.Stop()

	got, ok, err := tg.GetMilestone(7)
	if err != nil {
		t.Fatalf("GetMilestone: %v", err)
	}
	if !ok {
		t.Fatalf("milestone 7 not registered")
	}
	if got.Essence.Index != 7 {
		t.Fatalf("Essence.Index = %d, want 7", got.Essence.Index)
	}
	_ = mm
}

func TestDispatchStopDrainsPendingWork(t *testing.T) {
	d, s, tg, _ := newTestDispatcher(t)

	var ids []tmsg.MessageId
	var indexes []tmsg.HashedIndex
	for i := 0; i < 20; i++ {
		idx, err := tmsg.NewIndexationPayload(fmt.Sprintf("drain-test-%d", i), []byte{byte(i)})
		if err != nil {
			t.Fatalf("NewIndexationPayload: %v", err)
		}
		id := tmsg.MessageId{byte(i + 1)}
		msg := &tmsg.Message{NetworkId: 1, Parent1: tmsg.MessageId{0xa}, Parent2: tmsg.MessageId{0xb}, Payload: idx}
		if _, err := tg.InsertMessage(id, msg, 0); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = d.Submit(ctx, id)
		cancel()
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, id)
		indexes = append(indexes, idx.Index)
	}

	d.Stop()

	for i, idx := range indexes {
		got, err := s.ListIndexationEntries(idx)
		if err != nil {
			t.Fatalf("ListIndexationEntries: %v", err)
		}
		if len(got) != 1 || got[0] != ids[i] {
			t.Fatalf("entry %d: ListIndexationEntries = %v, want [%v]", i, got, ids[i])
		}
	}
}

func TestDispatchStopIsIdempotent(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	d.Stop()
	d.Stop()
}
