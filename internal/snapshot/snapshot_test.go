package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tangleforge/tnode/internal/codec"
	"github.com/tangleforge/tnode/internal/ledger"
	"github.com/tangleforge/tnode/internal/milestone"
	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/store/memstore"
	"github.com/tangleforge/tnode/internal/tangle"
	"github.com/tangleforge/tnode/internal/tmsg"
)

func newManager(t *testing.T, s store.Storage) *milestone.Manager {
	t.Helper()
	tg, err := tangle.New(s, tangle.MinCacheCapacity)
	if err != nil {
		t.Fatalf("tangle.New: %v", err)
	}
	return milestone.New(tg, s)
}

func TestHeaderPackUnpackRoundTrip(t *testing.T) {
	h := Header{
		Kind:               KindDelta,
		NetworkId:          7,
		SepIndex:           3,
		LedgerIndex:        9,
		Timestamp:          12345,
		SepCount:           2,
		OutputCount:        0,
		MilestoneDiffCount: 4,
	}

	buf, err := codec.Pack(&h)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	var got Header
	if err := codec.Unpack(buf, &got); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestExportThenImportRoundTrip(t *testing.T) {
	src := memstore.New()

	out1 := outputIdFor(1)
	out2 := outputIdFor(2)
	src.PutOutput(out1, tmsg.Output{Basic: tmsg.BasicOutput{Amount: 60, Address: tmsg.NewEd25519Address([32]byte{1})}})
	src.AddUnspent(out1)
	src.AddAddressOutput(tmsg.NewEd25519Address([32]byte{1}), out1)
	src.PutOutput(out2, tmsg.Output{Basic: tmsg.BasicOutput{Amount: 40, Address: tmsg.NewEd25519Address([32]byte{2})}})
	src.AddUnspent(out2)
	src.AddAddressOutput(tmsg.NewEd25519Address([32]byte{2}), out2)
	src.SetLedgerIndex(5)

	var sep tmsg.MessageId
	sep[0] = 0xAA
	src.AddSolidEntryPoint(sep)

	dir := t.TempDir()
	fullPath := filepath.Join(dir, "full.snap")

	exporter := NewExporter(src, 99)
	h, err := exporter.Export(fullPath, 0, 1000)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if h.OutputCount != 2 || h.SepCount != 1 || h.LedgerIndex != 5 {
		t.Fatalf("unexpected header: %+v", h)
	}

	dst := memstore.New()
	dstLedger := ledger.New(dst)
	dstManager := newManager(t, dst)
	importer := NewImporter(dst, dstLedger, dstManager, 99, 100)

	if err := importer.Import(context.Background(), Source{
		FullPath:  fullPath,
		DeltaPath: filepath.Join(dir, "does-not-exist.delta"),
	}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if idx, _ := dst.GetLedgerIndex(); idx != 5 {
		t.Fatalf("expected ledger index 5, got %d", idx)
	}
	if unspent, _ := dst.IsUnspent(out1); !unspent {
		t.Fatal("expected out1 to be unspent after import")
	}
	if unspent, _ := dst.IsUnspent(out2); !unspent {
		t.Fatal("expected out2 to be unspent after import")
	}
	if ok, _ := dst.IsSolidEntryPoint(sep); !ok {
		t.Fatal("expected solid entry point to carry over")
	}
	if err := dstLedger.CheckLedgerState(100); err != nil {
		t.Fatalf("expected supply to check out after import: %v", err)
	}

	info, ok, err := dst.GetSnapshotInfo()
	if err != nil || !ok {
		t.Fatalf("expected snapshot info to be persisted: ok=%v err=%v", ok, err)
	}
	if info.SnapshotIndex != 5 {
		t.Fatalf("expected snapshot index 5, got %d", info.SnapshotIndex)
	}
}

func TestImportSkipsWhenSnapshotInfoPresent(t *testing.T) {
	dst := memstore.New()
	dst.SetSnapshotInfo(store.SnapshotInfo{NetworkId: 1, SnapshotIndex: 10})
	dstLedger := ledger.New(dst)
	dstManager := newManager(t, dst)
	importer := NewImporter(dst, dstLedger, dstManager, 1, 100)

	if err := importer.Import(context.Background(), Source{FullPath: "/nonexistent/full", DeltaPath: "/nonexistent/delta"}); err != nil {
		t.Fatalf("expected no-op import, got %v", err)
	}
}

func TestImportOnlyDeltaFileExists(t *testing.T) {
	dir := t.TempDir()
	deltaPath := filepath.Join(dir, "delta.snap")
	if err := os.WriteFile(deltaPath, []byte{0}, 0o644); err != nil {
		t.Fatalf("write delta stub: %v", err)
	}

	dst := memstore.New()
	dstLedger := ledger.New(dst)
	dstManager := newManager(t, dst)
	importer := NewImporter(dst, dstLedger, dstManager, 1, 100)

	err := importer.Import(context.Background(), Source{
		FullPath:  filepath.Join(dir, "full.snap"),
		DeltaPath: deltaPath,
	})
	if err != ErrOnlyDeltaFileExists {
		t.Fatalf("expected ErrOnlyDeltaFileExists, got %v", err)
	}
}

func TestImportRejectsNetworkIdMismatch(t *testing.T) {
	src := memstore.New()
	src.SetLedgerIndex(0)

	dir := t.TempDir()
	fullPath := filepath.Join(dir, "full.snap")
	exporter := NewExporter(src, 1)
	if _, err := exporter.Export(fullPath, 0, 0); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := memstore.New()
	dstLedger := ledger.New(dst)
	dstManager := newManager(t, dst)
	importer := NewImporter(dst, dstLedger, dstManager, 2, 0)

	err := importer.Import(context.Background(), Source{
		FullPath:  fullPath,
		DeltaPath: filepath.Join(dir, "missing.delta"),
	})
	if _, ok := err.(ErrNetworkIdMismatch); !ok {
		t.Fatalf("expected ErrNetworkIdMismatch, got %v", err)
	}
}

func outputIdFor(b byte) tmsg.OutputId {
	var txid tmsg.TransactionId
	txid[0] = b
	return tmsg.OutputId{TransactionId: txid, Index: 0}
}
