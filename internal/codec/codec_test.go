package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestUint32RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteUint32(&buf, 0xdeadbeef); err != nil {
		t.Fatalf("WriteUint32: %v", err)
	}
	got, err := ReadUint32(&buf)
	if err != nil {
		t.Fatalf("ReadUint32: %v", err)
	}
	if got != 0xdeadbeef {
		t.Errorf("ReadUint32 = %x, want %x", got, 0xdeadbeef)
	}
}

func TestReadUint32UnexpectedEOF(t *testing.T) {
	_, err := ReadUint32(bytes.NewReader([]byte{1, 2}))
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestBytesLP8RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	data := []byte("hello")
	if err := WriteBytesLP8(&buf, data); err != nil {
		t.Fatalf("WriteBytesLP8: %v", err)
	}
	got, err := ReadBytesLP8(&buf)
	if err != nil {
		t.Fatalf("ReadBytesLP8: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadBytesLP8 = %q, want %q", got, data)
	}
}

func TestWriteBytesLP8TooLong(t *testing.T) {
	var buf bytes.Buffer
	data := make([]byte, 256)
	if err := WriteBytesLP8(&buf, data); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("err = %v, want ErrInvalidLength", err)
	}
}

// u32Packable is a minimal Packable used only to exercise Pack/Unpack/Unpack
// strictness.
type u32Packable struct{ v uint32 }

func (p *u32Packable) PackedLen() int { return 4 }
func (p *u32Packable) Pack(w io.Writer) error {
	return WriteUint32(w, p.v)
}
func (p *u32Packable) Unpack(r io.Reader) error {
	v, err := ReadUint32(r)
	if err != nil {
		return err
	}
	p.v = v
	return nil
}

func TestPackUnpackRoundTrip(t *testing.T) {
	v := &u32Packable{v: 42}
	data, err := Pack(v)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(data) != v.PackedLen() {
		t.Errorf("len(data) = %d, want %d", len(data), v.PackedLen())
	}

	got := &u32Packable{}
	if err := Unpack(data, got); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got.v != v.v {
		t.Errorf("got.v = %d, want %d", got.v, v.v)
	}
}

func TestUnpackTrailingBytesRejected(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteUint32(&buf, 7)
	buf.WriteByte(0xff)

	v := &u32Packable{}
	if err := Unpack(buf.Bytes(), v); !errors.Is(err, ErrTrailingBytes) {
		t.Errorf("err = %v, want ErrTrailingBytes", err)
	}
}

func TestSliceLP8RoundTrip(t *testing.T) {
	items := []*u32Packable{{v: 1}, {v: 2}, {v: 3}}
	var buf bytes.Buffer
	if err := PackSliceLP8[*u32Packable](&buf, items); err != nil {
		t.Fatalf("PackSliceLP8: %v", err)
	}
	got, err := UnpackSliceLP8(&buf, func() *u32Packable { return &u32Packable{} })
	if err != nil {
		t.Fatalf("UnpackSliceLP8: %v", err)
	}
	if len(got) != len(items) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(items))
	}
	for i := range items {
		if got[i].v != items[i].v {
			t.Errorf("got[%d].v = %d, want %d", i, got[i].v, items[i].v)
		}
	}
}
