package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tangleforge/tnode/internal/ledger"
	"github.com/tangleforge/tnode/internal/milestone"
	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tmsg"
	"github.com/tangleforge/tnode/pkg/logging"
)

// Source names where a node looks for its full and delta snapshot files,
// and where to download them from if neither is present on disk.
type Source struct {
	FullPath  string
	DeltaPath string
	FullURL   string
	DeltaURL  string
}

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// Importer runs the snapshot bootstrap sequence against a store.Storage, a
// ledger.Ledger and a milestone.Manager.
type Importer struct {
	store       store.Storage
	ledger      *ledger.Ledger
	milestones  *milestone.Manager
	networkId   uint64
	totalSupply uint64
	log         *logging.Logger
}

// NewImporter builds an Importer for the given network id and total supply,
// the two invariants every imported snapshot must satisfy.
func NewImporter(s store.Storage, l *ledger.Ledger, m *milestone.Manager, networkId, totalSupply uint64) *Importer {
	return &Importer{
		store:       s,
		ledger:      l,
		milestones:  m,
		networkId:   networkId,
		totalSupply: totalSupply,
		log:         logging.GetDefault().Component("snapshot"),
	}
}

// Import runs the full bootstrap rule list: skip if already seeded, require
// a full file (fetching both full and delta over HTTP if neither is on
// disk), verify network id and file ordering, seed the ledger index and
// solid entry points, load every output from the full file, replay the
// delta file's milestone diffs, and finally verify the supply invariant
// before persisting SnapshotInfo.
func (imp *Importer) Import(ctx context.Context, src Source) error {
	if _, ok, err := imp.store.GetSnapshotInfo(); err != nil {
		return err
	} else if ok {
		imp.log.Debug("snapshot already imported, skipping")
		return nil
	}

	_, fullErr := os.Stat(src.FullPath)
	_, deltaErr := os.Stat(src.DeltaPath)
	fullExists := fullErr == nil
	deltaExists := deltaErr == nil

	if !fullExists {
		if deltaExists {
			return ErrOnlyDeltaFileExists
		}
		if err := imp.fetch(ctx, src.FullURL, src.FullPath); err != nil {
			return fmt.Errorf("snapshot: fetching full snapshot: %w", err)
		}
		if err := imp.fetch(ctx, src.DeltaURL, src.DeltaPath); err != nil {
			return fmt.Errorf("snapshot: fetching delta snapshot: %w", err)
		}
		deltaExists = true
	}

	fullFile, err := os.Open(src.FullPath)
	if err != nil {
		return err
	}
	defer fullFile.Close()

	fullHeader, err := imp.importFull(fullFile)
	if err != nil {
		return err
	}

	info := store.SnapshotInfo{
		NetworkId:       imp.networkId,
		SnapshotIndex:   fullHeader.LedgerIndex,
		EntryPointIndex: fullHeader.SepIndex,
		PruningIndex:    fullHeader.SepIndex,
		Timestamp:       fullHeader.Timestamp,
	}

	if deltaExists {
		deltaFile, err := os.Open(src.DeltaPath)
		if err != nil {
			return err
		}
		defer deltaFile.Close()

		deltaHeader, err := imp.importDelta(deltaFile)
		if err != nil {
			return err
		}
		info.SnapshotIndex = deltaHeader.LedgerIndex
	}

	if err := imp.ledger.CheckLedgerState(imp.totalSupply); err != nil {
		return err
	}

	if err := imp.store.SetSnapshotInfo(info); err != nil {
		return err
	}
	imp.milestones.SetSnapshotIndex(info.SnapshotIndex)
	imp.milestones.SetEntryPointIndex(info.EntryPointIndex)
	imp.milestones.SetPruningIndex(info.PruningIndex)
	imp.milestones.SetSolidMilestoneIndex(info.SnapshotIndex)
	imp.milestones.SetLatestIndex(info.SnapshotIndex)

	imp.log.Info("snapshot import complete", "ledger_index", info.SnapshotIndex)
	return nil
}

func (imp *Importer) importFull(r io.Reader) (Header, error) {
	var h Header
	if err := h.Unpack(r); err != nil {
		return h, fmt.Errorf("snapshot: reading full header: %w", err)
	}
	if h.Kind != KindFull {
		return h, ErrInvalidKind{Expected: KindFull, Got: h.Kind}
	}
	if h.NetworkId != imp.networkId {
		return h, ErrNetworkIdMismatch{Expected: imp.networkId, Got: h.NetworkId}
	}

	if err := imp.store.TruncateSolidEntryPoints(); err != nil {
		return h, err
	}
	for i := uint32(0); i < h.SepCount; i++ {
		var sep tmsg.MessageId
		if err := sep.Unpack(r); err != nil {
			return h, fmt.Errorf("snapshot: reading solid entry point %d: %w", i, err)
		}
		if err := imp.store.AddSolidEntryPoint(sep); err != nil {
			return h, err
		}
	}

	if err := imp.store.SetLedgerIndex(h.LedgerIndex); err != nil {
		return h, err
	}

	for i := uint32(0); i < h.OutputCount; i++ {
		var rec outputRecord
		if err := rec.Unpack(r); err != nil {
			return h, fmt.Errorf("snapshot: reading output %d: %w", i, err)
		}
		if err := imp.store.PutOutput(rec.Id, rec.Output); err != nil {
			return h, err
		}
		if err := imp.store.AddUnspent(rec.Id); err != nil {
			return h, err
		}
		if addr := rec.Output.Basic.Address; addr != nil && addr.Kind() == tmsg.AddressKindEd25519 {
			if err := imp.store.AddAddressOutput(addr, rec.Id); err != nil {
				return h, err
			}
		}
	}

	if h.MilestoneDiffCount > 0 {
		if err := imp.replayDiffs(r, h.MilestoneDiffCount); err != nil {
			return h, err
		}
	}

	return h, nil
}

func (imp *Importer) importDelta(r io.Reader) (Header, error) {
	var h Header
	if err := h.Unpack(r); err != nil {
		return h, fmt.Errorf("snapshot: reading delta header: %w", err)
	}
	if h.Kind != KindDelta {
		return h, ErrInvalidKind{Expected: KindDelta, Got: h.Kind}
	}
	if h.NetworkId != imp.networkId {
		return h, ErrNetworkIdMismatch{Expected: imp.networkId, Got: h.NetworkId}
	}
	if err := imp.replayDiffs(r, h.MilestoneDiffCount); err != nil {
		return h, err
	}
	return h, nil
}

// replayDiffs applies or rolls back each diff in file order: apply when
// the diff index is one past the ledger index, roll back when it equals
// it, otherwise the file is malformed.
func (imp *Importer) replayDiffs(r io.Reader, count uint32) error {
	for i := uint32(0); i < count; i++ {
		var d diffRecord
		if err := d.unpack(r); err != nil {
			return fmt.Errorf("snapshot: reading diff %d: %w", i, err)
		}

		cur, err := imp.ledger.Index()
		if err != nil {
			return err
		}

		ld := toLedgerDiff(d)
		switch {
		case d.Index == cur+1:
			if err := imp.ledger.ApplyDiff(d.Index, ld); err != nil {
				return err
			}
		case d.Index == cur:
			if err := imp.ledger.RollbackDiff(d.Index, ld); err != nil {
				return err
			}
		default:
			return ErrUnexpectedDiffIndex{Index: d.Index}
		}
	}
	return nil
}

// toLedgerDiff converts a diffRecord's file-order created/consumed lists
// into the keyed maps ledger.Diff operates on.
func toLedgerDiff(d diffRecord) ledger.Diff {
	ld := ledger.Diff{
		Created: make(map[tmsg.OutputId]tmsg.Output, len(d.Created)),
		Spent:   make(map[tmsg.OutputId]tmsg.SpentOutput, len(d.Consumed)),
	}
	for _, c := range d.Created {
		ld.Created[c.Id] = c.Output
	}
	for _, c := range d.Consumed {
		ld.Spent[c.Id] = c.Spent
	}
	return ld
}

func (imp *Importer) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot: fetching %s: unexpected status %s", url, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}
