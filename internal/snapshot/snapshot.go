// Package snapshot parses and writes the on-disk full/delta snapshot files
// a node uses to bootstrap its ledger and SEP set without replaying the
// entire Tangle from genesis, and to periodically
// checkpoint its own state for future bootstraps.
package snapshot

import (
	"fmt"
	"io"

	"github.com/tangleforge/tnode/internal/codec"
	"github.com/tangleforge/tnode/internal/tmsg"
)

// Kind tags whether a snapshot file is a full ledger dump or a delta of
// milestone diffs layered on top of a prior full snapshot.
type Kind uint8

const (
	KindFull  Kind = 0
	KindDelta Kind = 1
)

func (k Kind) String() string {
	if k == KindFull {
		return "full"
	}
	return "delta"
}

// Header is the fixed-width preamble of a snapshot file. OutputCount is
// always present but only meaningful (nonzero) for a Full snapshot; a
// Delta header writes it as zero so the header stays a single fixed-width
// shape for both kinds.
type Header struct {
	Kind               Kind
	NetworkId          uint64
	SepIndex           uint32
	LedgerIndex        uint32
	Timestamp          uint64
	SepCount           uint32
	OutputCount        uint32
	MilestoneDiffCount uint32
}

func (h Header) PackedLen() int {
	return 1 + 8 + 4 + 4 + 8 + 4 + 4 + 4
}

func (h Header) Pack(w io.Writer) error {
	if err := codec.WriteUint8(w, uint8(h.Kind)); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, h.NetworkId); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, h.SepIndex); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, h.LedgerIndex); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, h.Timestamp); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, h.SepCount); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, h.OutputCount); err != nil {
		return err
	}
	return codec.WriteUint32(w, h.MilestoneDiffCount)
}

func (h *Header) Unpack(r io.Reader) error {
	kind, err := codec.ReadUint8(r)
	if err != nil {
		return err
	}
	if Kind(kind) != KindFull && Kind(kind) != KindDelta {
		return codec.ErrInvalidTag
	}
	networkId, err := codec.ReadUint64(r)
	if err != nil {
		return err
	}
	sepIndex, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	ledgerIndex, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	timestamp, err := codec.ReadUint64(r)
	if err != nil {
		return err
	}
	sepCount, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	outputCount, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	diffCount, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	h.Kind = Kind(kind)
	h.NetworkId = networkId
	h.SepIndex = sepIndex
	h.LedgerIndex = ledgerIndex
	h.Timestamp = timestamp
	h.SepCount = sepCount
	h.OutputCount = outputCount
	h.MilestoneDiffCount = diffCount
	return nil
}

// outputRecord is an (OutputId, Output) pair as it appears in a Full
// snapshot's output section.
type outputRecord struct {
	Id     tmsg.OutputId
	Output tmsg.Output
}

func (o outputRecord) Pack(w io.Writer) error {
	if err := o.Id.Pack(w); err != nil {
		return err
	}
	return o.Output.Pack(w)
}

func (o *outputRecord) Unpack(r io.Reader) error {
	if err := o.Id.Unpack(r); err != nil {
		return err
	}
	return o.Output.Unpack(r)
}

// spentRecord is an (OutputId, SpentOutput) pair as it appears inside a
// milestone diff's consumed section.
type spentRecord struct {
	Id    tmsg.OutputId
	Spent tmsg.SpentOutput
}

func (s spentRecord) Pack(w io.Writer) error {
	if err := s.Id.Pack(w); err != nil {
		return err
	}
	return s.Spent.Pack(w)
}

func (s *spentRecord) Unpack(r io.Reader) error {
	if err := s.Id.Unpack(r); err != nil {
		return err
	}
	return s.Spent.Unpack(r)
}

// diffRecord is one milestone diff as it appears in the file: an index and
// its created/consumed output lists.
type diffRecord struct {
	Index    uint32
	Created  []outputRecord
	Consumed []spentRecord
}

func (d diffRecord) pack(w io.Writer) error {
	if err := codec.WriteUint32(w, d.Index); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, uint32(len(d.Created))); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, uint32(len(d.Consumed))); err != nil {
		return err
	}
	for _, c := range d.Created {
		if err := c.Pack(w); err != nil {
			return err
		}
	}
	for _, c := range d.Consumed {
		if err := c.Pack(w); err != nil {
			return err
		}
	}
	return nil
}

func (d *diffRecord) unpack(r io.Reader) error {
	index, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	createdCount, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	consumedCount, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	created := make([]outputRecord, createdCount)
	for i := range created {
		if err := created[i].Unpack(r); err != nil {
			return err
		}
	}
	consumed := make([]spentRecord, consumedCount)
	for i := range consumed {
		if err := consumed[i].Unpack(r); err != nil {
			return err
		}
	}
	d.Index = index
	d.Created = created
	d.Consumed = consumed
	return nil
}

// Snapshot import errors.
var (
	ErrOnlyDeltaFileExists = fmt.Errorf("snapshot: only the delta file exists on disk, full snapshot required")
)

// ErrInvalidKind is returned when a file's declared Kind does not match the
// position it was read from (full file must declare Full, delta file must
// declare Delta).
type ErrInvalidKind struct {
	Expected, Got Kind
}

func (e ErrInvalidKind) Error() string {
	return fmt.Sprintf("snapshot: invalid kind: expected %s, got %s", e.Expected, e.Got)
}

// ErrNetworkIdMismatch is returned when a snapshot file's network id does
// not match the node's configured network id.
type ErrNetworkIdMismatch struct {
	Expected, Got uint64
}

func (e ErrNetworkIdMismatch) Error() string {
	return fmt.Sprintf("snapshot: network id mismatch: expected %d, got %d", e.Expected, e.Got)
}

// ErrUnexpectedDiffIndex is returned when a milestone diff in a delta file
// is neither the next index to apply nor the current index to roll back.
type ErrUnexpectedDiffIndex struct {
	Index uint32
}

func (e ErrUnexpectedDiffIndex) Error() string {
	return fmt.Sprintf("snapshot: unexpected diff index %d", e.Index)
}
