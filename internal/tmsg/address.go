package tmsg

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/tangleforge/tnode/internal/codec"
)

// AddressKind tags the variant of an Address.
type AddressKind uint8

const (
	AddressKindEd25519 AddressKind = 0
)

// Address is a tagged-union output owner. The only variant implemented is
// Ed25519Address; the interface leaves room for future kinds without
// reshaping every caller.
type Address interface {
	codec.Packable
	Kind() AddressKind
}

// Ed25519Address is a raw 32-byte Ed25519 public key used as an output owner.
type Ed25519Address [32]byte

func (a Ed25519Address) Kind() AddressKind { return AddressKindEd25519 }

func (a Ed25519Address) PackedLen() int { return 1 + 32 }

func (a Ed25519Address) Pack(w io.Writer) error {
	if err := codec.WriteUint8(w, uint8(AddressKindEd25519)); err != nil {
		return err
	}
	return codec.WriteFixedBytes(w, a[:])
}

func (a *Ed25519Address) Unpack(r io.Reader) error {
	tag, err := codec.ReadUint8(r)
	if err != nil {
		return err
	}
	if AddressKind(tag) != AddressKindEd25519 {
		return codec.ErrInvalidTag
	}
	b, err := codec.ReadFixedBytes(r, 32)
	if err != nil {
		return err
	}
	copy(a[:], b)
	return nil
}

func (a Ed25519Address) String() string {
	return hex.EncodeToString(a[:])
}

// NewEd25519Address wraps a raw public key as an Address. Callers must pass
// the resulting pointer where an Address is expected; the bare value does
// not satisfy the interface, since Unpack requires a pointer receiver.
func NewEd25519Address(publicKey [32]byte) *Ed25519Address {
	a := Ed25519Address(publicKey)
	return &a
}

// UnpackAddress reads the 1-byte kind tag and dispatches to the matching
// concrete Address type.
func UnpackAddress(r io.Reader) (Address, error) {
	tag, err := codec.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	switch AddressKind(tag) {
	case AddressKindEd25519:
		b, err := codec.ReadFixedBytes(r, 32)
		if err != nil {
			return nil, err
		}
		var a Ed25519Address
		copy(a[:], b)
		return &a, nil
	default:
		return nil, fmt.Errorf("%w: address kind %d", codec.ErrInvalidTag, tag)
	}
}
