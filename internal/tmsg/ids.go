// Package tmsg implements the Tangle's wire/data model: messages, payloads,
// UTXO inputs/outputs and addresses.
package tmsg

import (
	"bytes"
	"encoding/hex"
	"io"

	"github.com/tangleforge/tnode/internal/codec"
)

// MessageIdLength is the size in bytes of a MessageId.
const MessageIdLength = 32

// MessageId is a 32-byte opaque hash. Equality is byte-equality; MessageIds
// are totally ordered by raw bytes for tie-breaking.
type MessageId [MessageIdLength]byte

func (id MessageId) PackedLen() int { return MessageIdLength }

func (id MessageId) Pack(w io.Writer) error {
	return codec.WriteFixedBytes(w, id[:])
}

func (id *MessageId) Unpack(r io.Reader) error {
	b, err := codec.ReadFixedBytes(r, MessageIdLength)
	if err != nil {
		return err
	}
	copy(id[:], b)
	return nil
}

// String renders the MessageId as plain lowercase hex, in wire byte order
// (never reversed, unlike Bitcoin-style transaction id display).
func (id MessageId) String() string {
	return hex.EncodeToString(id[:])
}

// Less reports whether id sorts before other under the raw byte order used
// for tie-breaking.
func (id MessageId) Less(other MessageId) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// NullMessageId is the zero MessageId, used to identify solid entry points
// that have no real parent (the Tangle's implicit root).
var NullMessageId MessageId

// TransactionIdLength is the size in bytes of a TransactionId.
const TransactionIdLength = 32

// TransactionId identifies the transaction that produced a set of outputs.
type TransactionId [TransactionIdLength]byte

func (id TransactionId) PackedLen() int { return TransactionIdLength }

func (id TransactionId) Pack(w io.Writer) error {
	return codec.WriteFixedBytes(w, id[:])
}

func (id *TransactionId) Unpack(r io.Reader) error {
	b, err := codec.ReadFixedBytes(r, TransactionIdLength)
	if err != nil {
		return err
	}
	copy(id[:], b)
	return nil
}

func (id TransactionId) String() string {
	return hex.EncodeToString(id[:])
}

// OutputIdLength is the packed size of an OutputId.
const OutputIdLength = TransactionIdLength + 2

// OutputId identifies a single output of a transaction by (TransactionId, index).
type OutputId struct {
	TransactionId TransactionId
	Index         uint16
}

func (o OutputId) PackedLen() int { return OutputIdLength }

func (o OutputId) Pack(w io.Writer) error {
	if err := o.TransactionId.Pack(w); err != nil {
		return err
	}
	return codec.WriteUint16(w, o.Index)
}

func (o *OutputId) Unpack(r io.Reader) error {
	if err := o.TransactionId.Unpack(r); err != nil {
		return err
	}
	idx, err := codec.ReadUint16(r)
	if err != nil {
		return err
	}
	o.Index = idx
	return nil
}

// String renders the OutputId as hex(TransactionId) || hex(little-endian
// index).
func (o OutputId) String() string {
	data, _ := codec.Pack(&o)
	return hex.EncodeToString(data)
}

// OutputIdFromString parses the hex form String produces.
func OutputIdFromString(s string) (OutputId, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return OutputId{}, err
	}
	var o OutputId
	if err := codec.Unpack(data, &o); err != nil {
		return OutputId{}, err
	}
	return o, nil
}

// HashedIndexLength is the size in bytes of a HashedIndex.
const HashedIndexLength = 16

// HashedIndex is the 16-byte digest of an indexation payload's index field.
type HashedIndex [HashedIndexLength]byte

func (h HashedIndex) PackedLen() int { return HashedIndexLength }

func (h HashedIndex) Pack(w io.Writer) error {
	return codec.WriteFixedBytes(w, h[:])
}

func (h *HashedIndex) Unpack(r io.Reader) error {
	b, err := codec.ReadFixedBytes(r, HashedIndexLength)
	if err != nil {
		return err
	}
	copy(h[:], b)
	return nil
}

func (h HashedIndex) String() string {
	return hex.EncodeToString(h[:])
}
