package ledger

import (
	"testing"

	"github.com/tangleforge/tnode/internal/store/memstore"
	"github.com/tangleforge/tnode/internal/tmsg"
)

func outputId(b byte) tmsg.OutputId {
	var txid tmsg.TransactionId
	txid[0] = b
	return tmsg.OutputId{TransactionId: txid, Index: 0}
}

func testOutput(amount uint64) tmsg.Output {
	return tmsg.Output{
		Basic: tmsg.BasicOutput{
			Amount:  amount,
			Address: tmsg.NewEd25519Address([32]byte{1, 2, 3}),
		},
	}
}

func TestApplyThenRollbackIsInverse(t *testing.T) {
	s := memstore.New()
	l := New(s)

	id := outputId(1)
	diff := Diff{
		Created: map[tmsg.OutputId]tmsg.Output{id: testOutput(100)},
		Spent:   map[tmsg.OutputId]tmsg.SpentOutput{},
	}

	if err := l.ApplyDiff(1, diff); err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	idx, _ := l.Index()
	if idx != 1 {
		t.Fatalf("expected ledger index 1, got %d", idx)
	}
	if unspent, _ := s.IsUnspent(id); !unspent {
		t.Fatal("expected output to be unspent after apply")
	}

	if err := l.RollbackDiff(1, diff); err != nil {
		t.Fatalf("RollbackDiff: %v", err)
	}
	idx, _ = l.Index()
	if idx != 0 {
		t.Fatalf("expected ledger index back to 0, got %d", idx)
	}
	if unspent, _ := s.IsUnspent(id); unspent {
		t.Fatal("expected output to be gone after rollback")
	}
	if _, ok, _ := s.GetOutput(id); ok {
		t.Fatal("expected output to be deleted after rollback")
	}
}

func TestApplyDiffRejectsOutOfOrder(t *testing.T) {
	s := memstore.New()
	l := New(s)

	diff := Diff{Created: map[tmsg.OutputId]tmsg.Output{}, Spent: map[tmsg.OutputId]tmsg.SpentOutput{}}
	s.SetLedgerIndex(5)

	err := l.ApplyDiff(8, diff)
	var mismatch ErrOutOfOrderDiff
	if err == nil {
		t.Fatal("expected an out-of-order error")
	}
	if !asErrOutOfOrder(err, &mismatch) || mismatch.Want != 6 || mismatch.Got != 8 {
		t.Fatalf("expected ErrOutOfOrderDiff{Want:6,Got:8}, got %v", err)
	}
	if idx, _ := l.Index(); idx != 5 {
		t.Fatalf("expected index unchanged at 5, got %d", idx)
	}
}

func asErrOutOfOrder(err error, target *ErrOutOfOrderDiff) bool {
	e, ok := err.(ErrOutOfOrderDiff)
	if ok {
		*target = e
	}
	return ok
}

func TestCheckLedgerStateSuccess(t *testing.T) {
	s := memstore.New()
	l := New(s)

	s.PutOutput(outputId(1), testOutput(60))
	s.AddUnspent(outputId(1))
	s.PutOutput(outputId(2), testOutput(40))
	s.AddUnspent(outputId(2))

	if err := l.CheckLedgerState(100); err != nil {
		t.Fatalf("expected supply to check out, got %v", err)
	}
}

func TestCheckLedgerStateFailsOnMismatch(t *testing.T) {
	s := memstore.New()
	l := New(s)

	s.PutOutput(outputId(1), testOutput(60))
	s.AddUnspent(outputId(1))

	err := l.CheckLedgerState(100)
	if _, ok := err.(ErrInvalidLedgerState); !ok {
		t.Fatalf("expected ErrInvalidLedgerState, got %v", err)
	}
}

func TestApplyDiffIndexesSpentOutputs(t *testing.T) {
	s := memstore.New()
	l := New(s)

	created := outputId(1)
	if err := l.ApplyDiff(1, Diff{
		Created: map[tmsg.OutputId]tmsg.Output{created: testOutput(50)},
		Spent:   map[tmsg.OutputId]tmsg.SpentOutput{},
	}); err != nil {
		t.Fatalf("ApplyDiff 1: %v", err)
	}

	spent := tmsg.SpentOutput{Output: testOutput(50), ConfirmationIndex: 2}
	if err := l.ApplyDiff(2, Diff{
		Created: map[tmsg.OutputId]tmsg.Output{},
		Spent:   map[tmsg.OutputId]tmsg.SpentOutput{created: spent},
	}); err != nil {
		t.Fatalf("ApplyDiff 2: %v", err)
	}

	if unspent, _ := s.IsUnspent(created); unspent {
		t.Fatal("expected output to be removed from unspent once spent")
	}
	if _, ok, _ := s.GetSpent(created); !ok {
		t.Fatal("expected output to appear in the spent index")
	}
}
