package tmsg

import (
	"bytes"
	"io"

	"github.com/tangleforge/tnode/internal/codec"
)

// PayloadKind tags the variant carried by a Message or a TransactionEssence's
// inner payload slot.
type PayloadKind uint32

const (
	PayloadKindTransaction         PayloadKind = 0
	PayloadKindMilestone           PayloadKind = 1
	PayloadKindIndexation          PayloadKind = 2
	PayloadKindReceipt             PayloadKind = 3
	PayloadKindTreasuryTransaction PayloadKind = 4
)

// Payload is the tagged union a Message or a transaction essence optionally
// carries.
type Payload interface {
	codec.Packable
	Kind() PayloadKind
}

// OpaquePayload stores a payload kind this node accepts and persists but
// does not otherwise interpret: receipt and treasury transaction payloads
// are carried and stored without further processing.
type OpaquePayload struct {
	kind PayloadKind
	Body []byte
}

func (p OpaquePayload) Kind() PayloadKind { return p.kind }
func (p OpaquePayload) PackedLen() int    { return 4 + len(p.Body) }

func (p OpaquePayload) Pack(w io.Writer) error {
	return codec.WriteBytesLP32(w, p.Body)
}

func (p *OpaquePayload) Unpack(r io.Reader) error {
	body, err := codec.ReadBytesLP32(r)
	if err != nil {
		return err
	}
	p.Body = body
	return nil
}

// NewReceiptPayload wraps an opaque receipt payload body.
func NewReceiptPayload(body []byte) *OpaquePayload {
	return &OpaquePayload{kind: PayloadKindReceipt, Body: body}
}

// NewTreasuryTransactionPayload wraps an opaque treasury transaction payload body.
func NewTreasuryTransactionPayload(body []byte) *OpaquePayload {
	return &OpaquePayload{kind: PayloadKindTreasuryTransaction, Body: body}
}

// OptionalPayloadPackedLen returns the packed size of an optional payload
// slot: the u32 length prefix alone for nil, plus the u32 kind tag and the
// body for a present payload.
func OptionalPayloadPackedLen(p Payload) int {
	if p == nil {
		return 4
	}
	return 4 + 4 + p.PackedLen()
}

// PackOptionalPayload writes p wrapped in a u32 length prefix covering the
// kind tag and body, so a reader can skip a payload kind it does not
// understand. A nil p writes a zero length.
func PackOptionalPayload(w io.Writer, p Payload) error {
	if p == nil {
		return codec.WriteUint32(w, 0)
	}
	var buf bytes.Buffer
	if err := codec.WriteUint32(&buf, uint32(p.Kind())); err != nil {
		return err
	}
	if err := p.Pack(&buf); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, uint32(buf.Len())); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// UnpackOptionalPayload is the Unpack counterpart of PackOptionalPayload. It
// returns (nil, nil) when the encoded length is zero.
func UnpackOptionalPayload(r io.Reader) (Payload, error) {
	n, err := codec.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > codec.MaxFrameBytes {
		return nil, codec.ErrInvalidLength
	}
	body, err := codec.ReadFixedBytes(r, int(n))
	if err != nil {
		return nil, err
	}
	sub := bytes.NewReader(body)
	kindTag, err := codec.ReadUint32(sub)
	if err != nil {
		return nil, err
	}
	p, err := unpackPayloadBody(PayloadKind(kindTag), sub)
	if err != nil {
		return nil, err
	}
	if sub.Len() != 0 {
		return nil, codec.ErrTrailingBytes
	}
	return p, nil
}

func unpackPayloadBody(kind PayloadKind, r io.Reader) (Payload, error) {
	switch kind {
	case PayloadKindTransaction:
		var p TransactionPayload
		if err := p.Unpack(r); err != nil {
			return nil, err
		}
		return &p, nil
	case PayloadKindMilestone:
		var p MilestonePayload
		if err := p.Unpack(r); err != nil {
			return nil, err
		}
		return &p, nil
	case PayloadKindIndexation:
		var p IndexationPayload
		if err := p.Unpack(r); err != nil {
			return nil, err
		}
		return &p, nil
	case PayloadKindReceipt, PayloadKindTreasuryTransaction:
		p := &OpaquePayload{kind: kind}
		if err := p.Unpack(r); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, codec.ErrInvalidTag
	}
}
