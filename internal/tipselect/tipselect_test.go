package tipselect

import (
	"testing"

	"github.com/tangleforge/tnode/internal/tmsg"
)

var zero tmsg.MessageId

func TestChooseNonLazyTipsEmptyPool(t *testing.T) {
	p := New()
	_, _, ok := p.ChooseNonLazyTips(0, DefaultMaxDeltaMsIndex)
	if ok {
		t.Fatal("expected no tips in an empty pool")
	}
}

func TestInsertRemovesParentsFromPool(t *testing.T) {
	p := New()
	var a, b, c tmsg.MessageId
	a[0], b[0], c[0] = 1, 2, 3

	p.Insert(a, [2]tmsg.MessageId{zero, zero}, 10, 10)
	p.Insert(b, [2]tmsg.MessageId{zero, zero}, 10, 10)
	p.Insert(c, [2]tmsg.MessageId{a, b}, 10, 10)

	if p.Len() != 1 {
		t.Fatalf("expected parents to be removed, pool size = %d", p.Len())
	}
	t1, _, ok := p.ChooseNonLazyTips(10, DefaultMaxDeltaMsIndex)
	if !ok || t1 != c {
		t.Fatalf("expected only tip to be c, got %v ok=%v", t1, ok)
	}
}

func TestReduceTipsEvictsLazyTips(t *testing.T) {
	p := New()
	var fresh, stale tmsg.MessageId
	fresh[0], stale[0] = 1, 2

	p.Insert(fresh, [2]tmsg.MessageId{zero, zero}, 100, 100)
	p.Insert(stale, [2]tmsg.MessageId{zero, zero}, 0, 0)

	removed := p.ReduceTips(100, DefaultMaxDeltaMsIndex)
	if removed != 1 {
		t.Fatalf("expected 1 lazy tip removed, got %d", removed)
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 remaining tip, got %d", p.Len())
	}

	_, _, ok := p.ChooseNonLazyTips(100, DefaultMaxDeltaMsIndex)
	if !ok {
		t.Fatal("expected the fresh tip to still be selectable")
	}
}

func TestChooseNonLazyTipsSkipsLazyOnes(t *testing.T) {
	p := New()
	var lazy tmsg.MessageId
	lazy[0] = 9
	p.Insert(lazy, [2]tmsg.MessageId{zero, zero}, 0, 0)

	_, _, ok := p.ChooseNonLazyTips(1000, DefaultMaxDeltaMsIndex)
	if ok {
		t.Fatal("expected the only tip to be excluded as lazy")
	}
}
