package tmsg

import (
	"encoding/hex"
	"testing"

	"github.com/tangleforge/tnode/internal/codec"
)

// TestOutputIdHexRoundTrip round-trips a fixed OutputId fixture: a 32-byte
// transaction id followed by a little-endian u16 index 0x002a.
func TestOutputIdHexRoundTrip(t *testing.T) {
	const hexStr = "52fdfc072182654f163f5f0f9a621d729566c74d10037c4d7bbb0407d1e2c6492a00"

	oid, err := OutputIdFromString(hexStr)
	if err != nil {
		t.Fatalf("OutputIdFromString: %v", err)
	}
	if oid.Index != 0x2a {
		t.Errorf("Index = %#x, want 0x2a", oid.Index)
	}
	if got := oid.String(); got != hexStr {
		t.Errorf("String() = %q, want %q", got, hexStr)
	}
	if oid.PackedLen() != OutputIdLength {
		t.Errorf("PackedLen() = %d, want %d", oid.PackedLen(), OutputIdLength)
	}
}

func TestUTXOInputKind(t *testing.T) {
	if UTXOInputKind != 0 {
		t.Errorf("UTXOInputKind = %d, want 0", UTXOInputKind)
	}
}

func TestUTXOInputPackUnpack(t *testing.T) {
	oid, err := OutputIdFromString("52fdfc072182654f163f5f0f9a621d729566c74d10037c4d7bbb0407d1e2c6492a00")
	if err != nil {
		t.Fatalf("OutputIdFromString: %v", err)
	}
	in := UTXOInput{OutputId: oid}

	data, err := codec.Pack(&in)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(data) != in.PackedLen() {
		t.Errorf("len(data) = %d, want %d", len(data), in.PackedLen())
	}

	var got UTXOInput
	if err := codec.Unpack(data, &got); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got.OutputId != in.OutputId {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, in)
	}
}

func TestMessageIdNotReversed(t *testing.T) {
	var id MessageId
	id[0] = 0xab
	id[31] = 0xcd
	got := id.String()
	want := hex.EncodeToString(id[:])
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got[:2] != "ab" || got[len(got)-2:] != "cd" {
		t.Errorf("String() = %q, want leading \"ab\" and trailing \"cd\" (non-reversed)", got)
	}
}

func TestMessageIdLess(t *testing.T) {
	a := MessageId{0x01}
	b := MessageId{0x02}
	if !a.Less(b) {
		t.Errorf("expected a < b")
	}
	if b.Less(a) {
		t.Errorf("expected b not < a")
	}
}
