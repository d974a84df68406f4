package tmsg

import (
	"io"

	"github.com/tangleforge/tnode/internal/codec"
)

// UnlockBlockKind tags the variant of an UnlockBlock.
type UnlockBlockKind uint8

const (
	UnlockBlockKindSignature UnlockBlockKind = 0
	UnlockBlockKindReference UnlockBlockKind = 1
)

// UnlockBlock authorizes the consumption of one or more inputs.
type UnlockBlock interface {
	codec.Packable
	Kind() UnlockBlockKind
}

// SignatureUnlockBlock carries an Ed25519 public key and signature that
// unlocks the input at the same index in the essence's input list.
type SignatureUnlockBlock struct {
	PublicKey [32]byte
	Signature [64]byte
}

func (b SignatureUnlockBlock) Kind() UnlockBlockKind { return UnlockBlockKindSignature }
func (b SignatureUnlockBlock) PackedLen() int        { return 1 + 32 + 64 }

func (b SignatureUnlockBlock) Pack(w io.Writer) error {
	if err := codec.WriteUint8(w, uint8(UnlockBlockKindSignature)); err != nil {
		return err
	}
	if err := codec.WriteFixedBytes(w, b.PublicKey[:]); err != nil {
		return err
	}
	return codec.WriteFixedBytes(w, b.Signature[:])
}

func (b *SignatureUnlockBlock) Unpack(r io.Reader) error {
	pk, err := codec.ReadFixedBytes(r, 32)
	if err != nil {
		return err
	}
	sig, err := codec.ReadFixedBytes(r, 64)
	if err != nil {
		return err
	}
	copy(b.PublicKey[:], pk)
	copy(b.Signature[:], sig)
	return nil
}

// ReferenceUnlockBlock reuses the unlock block at Index earlier in the same
// list, avoiding a duplicate signature for inputs owned by the same address.
type ReferenceUnlockBlock struct {
	Index uint16
}

func (b ReferenceUnlockBlock) Kind() UnlockBlockKind { return UnlockBlockKindReference }
func (b ReferenceUnlockBlock) PackedLen() int        { return 1 + 2 }

func (b ReferenceUnlockBlock) Pack(w io.Writer) error {
	if err := codec.WriteUint8(w, uint8(UnlockBlockKindReference)); err != nil {
		return err
	}
	return codec.WriteUint16(w, b.Index)
}

func (b *ReferenceUnlockBlock) Unpack(r io.Reader) error {
	idx, err := codec.ReadUint16(r)
	if err != nil {
		return err
	}
	b.Index = idx
	return nil
}

// UnpackUnlockBlock reads the kind tag and dispatches to the matching
// concrete UnlockBlock type.
func UnpackUnlockBlock(r io.Reader) (UnlockBlock, error) {
	tag, err := codec.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	switch UnlockBlockKind(tag) {
	case UnlockBlockKindSignature:
		var b SignatureUnlockBlock
		if err := b.Unpack(r); err != nil {
			return nil, err
		}
		return &b, nil
	case UnlockBlockKindReference:
		var b ReferenceUnlockBlock
		if err := b.Unpack(r); err != nil {
			return nil, err
		}
		return &b, nil
	default:
		return nil, codec.ErrInvalidTag
	}
}

// packUnlockBlocksLP8 and unpackUnlockBlocksLP8 mirror codec.PackSliceLP8 but
// operate on the UnlockBlock interface, whose Unpack needs the leading tag
// read before dispatch (codec's generic helpers assume a fixed concrete type).
func packUnlockBlocksLP8(w io.Writer, blocks []UnlockBlock) error {
	if len(blocks) > 255 {
		return codec.ErrInvalidLength
	}
	if err := codec.WriteUint8(w, uint8(len(blocks))); err != nil {
		return err
	}
	for _, b := range blocks {
		if err := b.Pack(w); err != nil {
			return err
		}
	}
	return nil
}

func unpackUnlockBlocksLP8(r io.Reader) ([]UnlockBlock, error) {
	n, err := codec.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	blocks := make([]UnlockBlock, 0, n)
	for i := 0; i < int(n); i++ {
		b, err := UnpackUnlockBlock(r)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
