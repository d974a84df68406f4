package tmsg

import (
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/tangleforge/tnode/internal/codec"
)

// Message is a single vertex in the Tangle: two parents, an optional
// payload, and a nonce satisfying the network's proof of work.
type Message struct {
	NetworkId uint64
	Parent1   MessageId
	Parent2   MessageId
	Payload   Payload
	Nonce     uint64
}

func (m Message) PackedLen() int {
	return 8 + m.Parent1.PackedLen() + m.Parent2.PackedLen() + OptionalPayloadPackedLen(m.Payload) + 8
}

func (m Message) Pack(w io.Writer) error {
	if err := codec.WriteUint64(w, m.NetworkId); err != nil {
		return err
	}
	if err := m.Parent1.Pack(w); err != nil {
		return err
	}
	if err := m.Parent2.Pack(w); err != nil {
		return err
	}
	if err := PackOptionalPayload(w, m.Payload); err != nil {
		return err
	}
	return codec.WriteUint64(w, m.Nonce)
}

func (m *Message) Unpack(r io.Reader) error {
	networkId, err := codec.ReadUint64(r)
	if err != nil {
		return err
	}
	if err := m.Parent1.Unpack(r); err != nil {
		return err
	}
	if err := m.Parent2.Unpack(r); err != nil {
		return err
	}
	payload, err := UnpackOptionalPayload(r)
	if err != nil {
		return err
	}
	nonce, err := codec.ReadUint64(r)
	if err != nil {
		return err
	}
	m.NetworkId = networkId
	m.Payload = payload
	m.Nonce = nonce
	return nil
}

// Id computes the message's MessageId: the blake2b-256 digest of its packed
// bytes.
func (m Message) Id() (MessageId, error) {
	data, err := codec.Pack(&m)
	if err != nil {
		return MessageId{}, err
	}
	digest := blake2b.Sum256(data)
	return MessageId(digest), nil
}

// Parents returns the message's two parent ids in the order they are
// packed.
func (m Message) Parents() [2]MessageId {
	return [2]MessageId{m.Parent1, m.Parent2}
}

// ConflictReason enumerates why a transaction-carrying message was excluded
// from the ledger during milestone confirmation.
type ConflictReason uint8

const (
	ConflictNone ConflictReason = iota
	ConflictInputUTXOAlreadySpent
	ConflictInputUTXONotFound
	ConflictInputOutputSumMismatch
	ConflictInvalidSignature
	ConflictSemanticValidationFailed
)

// MetadataFlags records the solidification and confirmation lifecycle of a
// message in the Tangle. Solid and Referenced are monotonic: once set they
// are never cleared. Referenced means the message sits in the past cone of
// some confirming milestone, regardless of whether its own payload was
// applied or found conflicting.
type MetadataFlags struct {
	Solid        bool
	Referenced   bool
	Conflicting  bool
	MilestoneSet bool
}

// MilestoneRoot is a (MilestoneIndex, MessageId) pair propagated from a
// message's ancestors; OMRSI/YMRSI carry the oldest and youngest such root
// a message can reach, which tip selection scores against the solid
// milestone index.
type MilestoneRoot struct {
	Index     uint32
	MessageId MessageId
}

func (r MilestoneRoot) PackedLen() int { return 4 + r.MessageId.PackedLen() }

func (r MilestoneRoot) Pack(w io.Writer) error {
	if err := codec.WriteUint32(w, r.Index); err != nil {
		return err
	}
	return r.MessageId.Pack(w)
}

func (r *MilestoneRoot) Unpack(rd io.Reader) error {
	index, err := codec.ReadUint32(rd)
	if err != nil {
		return err
	}
	if err := r.MessageId.Unpack(rd); err != nil {
		return err
	}
	r.Index = index
	return nil
}

// MessageMetadata is the mutable state the Tangle tracks alongside an
// immutable Message: solidification flags, the confirming milestone index,
// OMRSI/YMRSI tip-selection roots, arrival time and conflict status.
type MessageMetadata struct {
	Flags          MetadataFlags
	MilestoneIndex uint32
	OMRSI          MilestoneRoot
	YMRSI          MilestoneRoot
	ArrivalTime    uint64
	ConflictReason ConflictReason
}

func (m MessageMetadata) PackedLen() int {
	return 1 + 4 + m.OMRSI.PackedLen() + m.YMRSI.PackedLen() + 8 + 1
}

func (m MessageMetadata) Pack(w io.Writer) error {
	if err := codec.WriteUint8(w, packFlags(m.Flags)); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, m.MilestoneIndex); err != nil {
		return err
	}
	if err := m.OMRSI.Pack(w); err != nil {
		return err
	}
	if err := m.YMRSI.Pack(w); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.ArrivalTime); err != nil {
		return err
	}
	return codec.WriteUint8(w, uint8(m.ConflictReason))
}

func (m *MessageMetadata) Unpack(r io.Reader) error {
	flags, err := codec.ReadUint8(r)
	if err != nil {
		return err
	}
	msIndex, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	var omrsi, ymrsi MilestoneRoot
	if err := omrsi.Unpack(r); err != nil {
		return err
	}
	if err := ymrsi.Unpack(r); err != nil {
		return err
	}
	arrival, err := codec.ReadUint64(r)
	if err != nil {
		return err
	}
	conflict, err := codec.ReadUint8(r)
	if err != nil {
		return err
	}
	m.Flags = unpackFlags(flags)
	m.MilestoneIndex = msIndex
	m.OMRSI = omrsi
	m.YMRSI = ymrsi
	m.ArrivalTime = arrival
	m.ConflictReason = ConflictReason(conflict)
	return nil
}

func packFlags(f MetadataFlags) uint8 {
	var b uint8
	if f.Solid {
		b |= 1 << 0
	}
	if f.Referenced {
		b |= 1 << 1
	}
	if f.Conflicting {
		b |= 1 << 2
	}
	if f.MilestoneSet {
		b |= 1 << 3
	}
	return b
}

func unpackFlags(b uint8) MetadataFlags {
	return MetadataFlags{
		Solid:        b&(1<<0) != 0,
		Referenced:   b&(1<<1) != 0,
		Conflicting:  b&(1<<2) != 0,
		MilestoneSet: b&(1<<3) != 0,
	}
}
