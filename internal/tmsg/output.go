package tmsg

import (
	"io"

	"github.com/tangleforge/tnode/internal/codec"
)

// OutputKind tags the variant of an output body.
type OutputKind uint8

const (
	OutputKindSignatureLockedSingle OutputKind = 0
)

// BasicOutput is the wire form an output takes inside a TransactionEssence:
// a kind tag, an amount and the address that owns it.
type BasicOutput struct {
	Amount  uint64
	Address Address
}

func (o BasicOutput) PackedLen() int {
	return 1 + 8 + o.Address.PackedLen()
}

func (o BasicOutput) Pack(w io.Writer) error {
	if err := codec.WriteUint8(w, uint8(OutputKindSignatureLockedSingle)); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, o.Amount); err != nil {
		return err
	}
	return o.Address.Pack(w)
}

func (o *BasicOutput) Unpack(r io.Reader) error {
	kind, err := codec.ReadUint8(r)
	if err != nil {
		return err
	}
	if OutputKind(kind) != OutputKindSignatureLockedSingle {
		return codec.ErrInvalidTag
	}
	amount, err := codec.ReadUint64(r)
	if err != nil {
		return err
	}
	addr, err := UnpackAddress(r)
	if err != nil {
		return err
	}
	o.Amount = amount
	o.Address = addr
	return nil
}

// Output is the ledger-level record stored under the OutputId→Output column
// family: a BasicOutput plus the id of the message whose transaction created
// it.
type Output struct {
	MessageId MessageId
	Basic     BasicOutput
}

func (o Output) PackedLen() int {
	return o.MessageId.PackedLen() + o.Basic.PackedLen()
}

func (o Output) Pack(w io.Writer) error {
	if err := o.MessageId.Pack(w); err != nil {
		return err
	}
	return o.Basic.Pack(w)
}

func (o *Output) Unpack(r io.Reader) error {
	if err := o.MessageId.Unpack(r); err != nil {
		return err
	}
	return o.Basic.Unpack(r)
}

// SpentOutput marks an Output as consumed by a later transaction, recorded
// in the OutputId→Spent column family so a rollback can restore it.
type SpentOutput struct {
	Output            Output
	TargetTransaction TransactionId
	ConfirmationIndex uint32
}

func (s SpentOutput) PackedLen() int {
	return s.Output.PackedLen() + s.TargetTransaction.PackedLen() + 4
}

func (s SpentOutput) Pack(w io.Writer) error {
	if err := s.Output.Pack(w); err != nil {
		return err
	}
	if err := s.TargetTransaction.Pack(w); err != nil {
		return err
	}
	return codec.WriteUint32(w, s.ConfirmationIndex)
}

func (s *SpentOutput) Unpack(r io.Reader) error {
	if err := s.Output.Unpack(r); err != nil {
		return err
	}
	if err := s.TargetTransaction.Unpack(r); err != nil {
		return err
	}
	idx, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	s.ConfirmationIndex = idx
	return nil
}

// UTXOInputKind is the wire tag identifying a UTXOInput among input kinds.
const UTXOInputKind uint8 = 0

// UTXOInput references a prior output by its OutputId.
type UTXOInput struct {
	OutputId OutputId
}

func (i UTXOInput) PackedLen() int { return 1 + OutputIdLength }

func (i UTXOInput) Pack(w io.Writer) error {
	if err := codec.WriteUint8(w, UTXOInputKind); err != nil {
		return err
	}
	return i.OutputId.Pack(w)
}

func (i *UTXOInput) Unpack(r io.Reader) error {
	kind, err := codec.ReadUint8(r)
	if err != nil {
		return err
	}
	if kind != UTXOInputKind {
		return codec.ErrInvalidTag
	}
	return i.OutputId.Unpack(r)
}
