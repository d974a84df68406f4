package snapshot

import (
	"fmt"
	"io"
	"os"

	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tmsg"
	"github.com/tangleforge/tnode/pkg/logging"
)

// Exporter writes a Full snapshot file of the current ledger state when
// Export is called. Nothing in the daemon schedules an export.
type Exporter struct {
	store     store.Storage
	networkId uint64
	log       *logging.Logger
}

// NewExporter builds an Exporter over s for the given network id.
func NewExporter(s store.Storage, networkId uint64) *Exporter {
	return &Exporter{store: s, networkId: networkId, log: logging.GetDefault().Component("snapshot")}
}

// Export writes a Full snapshot to path: the current ledger index, the
// recorded solid entry point set, and every currently unspent output. depth
// only affects the header's SepIndex, recorded as ledgerIndex-depth
// (clamped to zero) so a future importer knows how far below the ledger
// index this export's entry points are anchored; selecting a *new*,
// shallower entry-point set by walking the Tangle is a tangle-level
// operation this package does not perform, so the exported SolidEntryPoints
// section is always the store's current SEP set verbatim.
func (e *Exporter) Export(path string, depth uint32, timestamp uint64) (h *Header, err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	h, err = e.writeTo(f, depth, timestamp)
	return h, err
}

func (e *Exporter) writeTo(w io.Writer, depth uint32, timestamp uint64) (*Header, error) {
	ledgerIndex, err := e.store.GetLedgerIndex()
	if err != nil {
		return nil, err
	}

	seps, err := e.store.ListSolidEntryPoints()
	if err != nil {
		return nil, err
	}

	var records []outputRecord
	err = e.store.ForEachUnspent(func(id tmsg.OutputId) error {
		out, ok, err := e.store.GetOutput(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("snapshot: export: unspent output %s missing from output index", id)
		}
		records = append(records, outputRecord{Id: id, Output: out})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sepIndex := uint32(0)
	if ledgerIndex > depth {
		sepIndex = ledgerIndex - depth
	}

	h := Header{
		Kind:               KindFull,
		NetworkId:          e.networkId,
		SepIndex:           sepIndex,
		LedgerIndex:        ledgerIndex,
		Timestamp:          timestamp,
		SepCount:           uint32(len(seps)),
		OutputCount:        uint32(len(records)),
		MilestoneDiffCount: 0,
	}

	if err := h.Pack(w); err != nil {
		return nil, err
	}
	for _, sep := range seps {
		if err := sep.Pack(w); err != nil {
			return nil, err
		}
	}
	for _, rec := range records {
		if err := rec.Pack(w); err != nil {
			return nil, err
		}
	}

	e.log.Info("snapshot export complete", "ledger_index", ledgerIndex, "seps", len(seps), "outputs", len(records))
	return &h, nil
}
