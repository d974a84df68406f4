package tmsg

import (
	"io"

	"github.com/tangleforge/tnode/internal/codec"
)

// TransactionEssence is the signed body of a transaction: the inputs it
// consumes, the outputs it creates and an optional inner indexation payload.
type TransactionEssence struct {
	Inputs     []UTXOInput
	Outputs    []BasicOutput
	Indexation *IndexationPayload
}

func (e TransactionEssence) PackedLen() int {
	n := 2
	for _, in := range e.Inputs {
		n += in.PackedLen()
	}
	n += 2
	for _, out := range e.Outputs {
		n += out.PackedLen()
	}
	var ip Payload
	if e.Indexation != nil {
		ip = e.Indexation
	}
	return n + OptionalPayloadPackedLen(ip)
}

// packAll writes the essence fields in wire order: inputs (u16-prefixed),
// outputs (u16-prefixed), then the optional indexation payload
// (u32-prefixed).
func (e *TransactionEssence) packAll(w io.Writer) error {
	if err := packUTXOInputsLP16(w, e.Inputs); err != nil {
		return err
	}
	if err := packBasicOutputsLP16(w, e.Outputs); err != nil {
		return err
	}
	var ip Payload
	if e.Indexation != nil {
		ip = e.Indexation
	}
	return PackOptionalPayload(w, ip)
}

func packUTXOInputsLP16(w io.Writer, inputs []UTXOInput) error {
	if len(inputs) > 0xFFFF {
		return codec.ErrInvalidLength
	}
	if err := codec.WriteUint16(w, uint16(len(inputs))); err != nil {
		return err
	}
	for _, in := range inputs {
		if err := in.Pack(w); err != nil {
			return err
		}
	}
	return nil
}

func packBasicOutputsLP16(w io.Writer, outs []BasicOutput) error {
	if len(outs) > 0xFFFF {
		return codec.ErrInvalidLength
	}
	if err := codec.WriteUint16(w, uint16(len(outs))); err != nil {
		return err
	}
	for _, out := range outs {
		if err := out.Pack(w); err != nil {
			return err
		}
	}
	return nil
}

func (e *TransactionEssence) Unpack(r io.Reader) error {
	inCount, err := codec.ReadUint16(r)
	if err != nil {
		return err
	}
	inputs := make([]UTXOInput, 0, inCount)
	for i := 0; i < int(inCount); i++ {
		var in UTXOInput
		if err := in.Unpack(r); err != nil {
			return err
		}
		inputs = append(inputs, in)
	}
	n, err := codec.ReadUint16(r)
	if err != nil {
		return err
	}
	outputs := make([]BasicOutput, 0, n)
	for i := 0; i < int(n); i++ {
		var out BasicOutput
		if err := out.Unpack(r); err != nil {
			return err
		}
		outputs = append(outputs, out)
	}
	payload, err := UnpackOptionalPayload(r)
	if err != nil {
		return err
	}
	var indexation *IndexationPayload
	if payload != nil {
		ip, ok := payload.(*IndexationPayload)
		if !ok {
			return codec.ErrInvalidTag
		}
		indexation = ip
	}
	e.Inputs = inputs
	e.Outputs = outputs
	e.Indexation = indexation
	return nil
}

// TransactionPayload spends inputs and creates outputs, authorized by one
// unlock block per input.
type TransactionPayload struct {
	Essence      TransactionEssence
	UnlockBlocks []UnlockBlock
}

func (p TransactionPayload) Kind() PayloadKind { return PayloadKindTransaction }

func (p TransactionPayload) PackedLen() int {
	n := p.Essence.PackedLen() + 1
	for _, b := range p.UnlockBlocks {
		n += b.PackedLen()
	}
	return n
}

func (p TransactionPayload) Pack(w io.Writer) error {
	if err := p.Essence.packAll(w); err != nil {
		return err
	}
	return packUnlockBlocksLP8(w, p.UnlockBlocks)
}

func (p *TransactionPayload) Unpack(r io.Reader) error {
	if err := p.Essence.Unpack(r); err != nil {
		return err
	}
	blocks, err := unpackUnlockBlocksLP8(r)
	if err != nil {
		return err
	}
	p.UnlockBlocks = blocks
	return nil
}
