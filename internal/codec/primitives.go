package codec

import (
	"encoding/binary"
	"io"
)

// MaxFrameBytes bounds any single length-prefixed byte blob this codec will
// read, independent of the prefix width — a defense against a corrupt or
// hostile length prefix driving an unbounded allocation. Gossip frames are
// capped far below this; this only guards the codec itself.
const MaxFrameBytes = 8 * 1024 * 1024

func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func ReadUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, translateEOF(err)
	}
	return b[0], nil
}

func WriteUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, translateEOF(err)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, translateEOF(err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, translateEOF(err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteFixedBytes writes b verbatim; the width is implied by the type, so no
// length prefix is emitted.
func WriteFixedBytes(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

// ReadFixedBytes reads exactly n bytes.
func ReadFixedBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, translateEOF(err)
	}
	return b, nil
}

// WriteBytesLP8 writes data preceded by a 1-byte length prefix.
func WriteBytesLP8(w io.Writer, data []byte) error {
	if len(data) > 255 {
		return ErrInvalidLength
	}
	if err := WriteUint8(w, uint8(len(data))); err != nil {
		return err
	}
	return WriteFixedBytes(w, data)
}

// ReadBytesLP8 reads a 1-byte-length-prefixed byte blob.
func ReadBytesLP8(r io.Reader) ([]byte, error) {
	n, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}
	return ReadFixedBytes(r, int(n))
}

// WriteBytesLP16 writes data preceded by a 2-byte length prefix.
func WriteBytesLP16(w io.Writer, data []byte) error {
	if len(data) > 0xFFFF {
		return ErrInvalidLength
	}
	if err := WriteUint16(w, uint16(len(data))); err != nil {
		return err
	}
	return WriteFixedBytes(w, data)
}

// ReadBytesLP16 reads a 2-byte-length-prefixed byte blob.
func ReadBytesLP16(r io.Reader) ([]byte, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	if int(n) > MaxFrameBytes {
		return nil, ErrInvalidLength
	}
	return ReadFixedBytes(r, int(n))
}

// WriteBytesLP32 writes data preceded by a 4-byte length prefix.
func WriteBytesLP32(w io.Writer, data []byte) error {
	if uint64(len(data)) > 0xFFFFFFFF {
		return ErrInvalidLength
	}
	if err := WriteUint32(w, uint32(len(data))); err != nil {
		return err
	}
	return WriteFixedBytes(w, data)
}

// ReadBytesLP32 reads a 4-byte-length-prefixed byte blob.
func ReadBytesLP32(r io.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameBytes {
		return nil, ErrInvalidLength
	}
	return ReadFixedBytes(r, int(n))
}

// PackSliceLP8 packs a sequence whose count fits a single byte.
func PackSliceLP8[T Packable](w io.Writer, items []T) error {
	if len(items) > 255 {
		return ErrInvalidLength
	}
	if err := WriteUint8(w, uint8(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := item.Pack(w); err != nil {
			return err
		}
	}
	return nil
}

// UnpackSliceLP8 is the Unpack counterpart of PackSliceLP8. newItem must
// return a freshly zeroed T ready to receive Unpack.
func UnpackSliceLP8[T Packable](r io.Reader, newItem func() T) ([]T, error) {
	n, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, n)
	for i := 0; i < int(n); i++ {
		item := newItem()
		if err := item.Unpack(r); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// PackSliceLP16 packs a sequence prefixed by a 2-byte count.
func PackSliceLP16[T Packable](w io.Writer, items []T) error {
	if len(items) > 0xFFFF {
		return ErrInvalidLength
	}
	if err := WriteUint16(w, uint16(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := item.Pack(w); err != nil {
			return err
		}
	}
	return nil
}

// UnpackSliceLP16 is the Unpack counterpart of PackSliceLP16.
func UnpackSliceLP16[T Packable](r io.Reader, newItem func() T) ([]T, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, n)
	for i := 0; i < int(n); i++ {
		item := newItem()
		if err := item.Unpack(r); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func translateEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrUnexpectedEOF
	}
	return err
}
