// Package codec implements the binary wire format shared by every on-disk and
// on-the-wire structure in this repository: length-prefixed, little-endian,
// strict on unpack.
package codec

import (
	"bytes"
	"io"
)

// Packable is the contract every wire/on-disk structure implements. Pack and
// Unpack must round-trip: Unpack(Pack(x)) == x for any well-formed x.
type Packable interface {
	PackedLen() int
	Pack(w io.Writer) error
	Unpack(r io.Reader) error
}

// Pack returns the packed form of v.
func Pack(v Packable) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, v.PackedLen()))
	if err := v.Pack(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unpack decodes data into v and fails if any byte of data is left
// unconsumed: trailing bytes are always a decode error.
func Unpack(data []byte, v Packable) error {
	r := bytes.NewReader(data)
	if err := v.Unpack(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingBytes
	}
	return nil
}
