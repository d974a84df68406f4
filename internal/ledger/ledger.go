// Package ledger applies and rolls back the per-milestone UTXO diffs that
// make up the node's ledger state. The supply invariant is checked
// separately by CheckLedgerState; ApplyDiff and RollbackDiff do not run it.
package ledger

import (
	"fmt"
	"sync"

	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tmsg"
	"github.com/tangleforge/tnode/pkg/logging"
)

// Diff is the created+consumed output pair confirmed by a single milestone.
type Diff struct {
	Created map[tmsg.OutputId]tmsg.Output
	Spent   map[tmsg.OutputId]tmsg.SpentOutput
}

// ErrOutOfOrderDiff is returned when a diff's milestone index does not sit
// immediately after (apply) or at (rollback) the ledger's current index.
type ErrOutOfOrderDiff struct {
	Want, Got uint32
	Op        string
}

func (e ErrOutOfOrderDiff) Error() string {
	return fmt.Sprintf("ledger: %s requires diff index %d, got %d", e.Op, e.Want, e.Got)
}

// ErrInvalidLedgerState is returned by CheckLedgerState when the sum of
// unspent output amounts does not equal the configured total supply.
type ErrInvalidLedgerState struct {
	Sum, TotalSupply uint64
}

func (e ErrInvalidLedgerState) Error() string {
	return fmt.Sprintf("ledger: invalid ledger state: unspent sum %d != total supply %d", e.Sum, e.TotalSupply)
}

// Ledger applies milestone diffs to a store.Storage's output/unspent/
// address-output indices, serializing every mutation behind a single
// writer so milestone diffs are always applied in strictly increasing
// index order.
type Ledger struct {
	mu    sync.Mutex
	store store.Storage
	log   *logging.Logger
}

// New builds a Ledger over s.
func New(s store.Storage) *Ledger {
	return &Ledger{store: s, log: logging.GetDefault().Component("ledger")}
}

// Index returns the milestone index the ledger's current UTXO state
// corresponds to.
func (l *Ledger) Index() (uint32, error) {
	return l.store.GetLedgerIndex()
}

// ApplyDiff applies diff at milestone index i. i must equal the current
// ledger index + 1; any other value is rejected without mutating storage.
func (l *Ledger) ApplyDiff(i uint32, diff Diff) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.store.GetLedgerIndex()
	if err != nil {
		return err
	}
	if i != cur+1 {
		return ErrOutOfOrderDiff{Want: cur + 1, Got: i, Op: "apply"}
	}

	for id, out := range diff.Created {
		if err := l.store.PutOutput(id, out); err != nil {
			return err
		}
		if err := l.store.AddUnspent(id); err != nil {
			return err
		}
		if isEd25519(out.Basic.Address) {
			if err := l.store.AddAddressOutput(out.Basic.Address, id); err != nil {
				return err
			}
		}
	}

	for id, sp := range diff.Spent {
		if err := l.store.PutSpent(id, sp); err != nil {
			return err
		}
		if err := l.store.RemoveUnspent(id); err != nil {
			return err
		}
		if isEd25519(sp.Output.Basic.Address) {
			if err := l.store.RemoveAddressOutput(sp.Output.Basic.Address, id); err != nil {
				return err
			}
		}
	}

	if err := l.store.SetLedgerIndex(i); err != nil {
		return err
	}
	l.log.Debug("applied milestone diff", "index", i, "created", len(diff.Created), "spent", len(diff.Spent))
	return nil
}

// RollbackDiff undoes diff, the mirror of ApplyDiff: i must equal the
// current ledger index.
func (l *Ledger) RollbackDiff(i uint32, diff Diff) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.store.GetLedgerIndex()
	if err != nil {
		return err
	}
	if i != cur {
		return ErrOutOfOrderDiff{Want: cur, Got: i, Op: "rollback"}
	}

	for id, out := range diff.Created {
		if isEd25519(out.Basic.Address) {
			if err := l.store.RemoveAddressOutput(out.Basic.Address, id); err != nil {
				return err
			}
		}
		if err := l.store.RemoveUnspent(id); err != nil {
			return err
		}
		if err := l.store.DeleteOutput(id); err != nil {
			return err
		}
	}

	for id, sp := range diff.Spent {
		if err := l.store.DeleteSpent(id); err != nil {
			return err
		}
		if err := l.store.PutOutput(id, sp.Output); err != nil {
			return err
		}
		if err := l.store.AddUnspent(id); err != nil {
			return err
		}
		if isEd25519(sp.Output.Basic.Address) {
			if err := l.store.AddAddressOutput(sp.Output.Basic.Address, id); err != nil {
				return err
			}
		}
	}

	if i == 0 {
		return l.store.SetLedgerIndex(0)
	}
	if err := l.store.SetLedgerIndex(i - 1); err != nil {
		return err
	}
	l.log.Debug("rolled back milestone diff", "index", i, "created", len(diff.Created), "spent", len(diff.Spent))
	return nil
}

// CheckLedgerState scans the Unspent index, sums output amounts and fails
// if the total does not equal totalSupply.
func (l *Ledger) CheckLedgerState(totalSupply uint64) error {
	var sum uint64
	err := l.store.ForEachUnspent(func(id tmsg.OutputId) error {
		out, ok, err := l.store.GetOutput(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ledger: unspent output %s missing from output index", id)
		}
		sum += out.Basic.Amount
		return nil
	})
	if err != nil {
		return err
	}
	if sum != totalSupply {
		return ErrInvalidLedgerState{Sum: sum, TotalSupply: totalSupply}
	}
	return nil
}

func isEd25519(addr tmsg.Address) bool {
	return addr != nil && addr.Kind() == tmsg.AddressKindEd25519
}
