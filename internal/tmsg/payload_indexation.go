package tmsg

import (
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/tangleforge/tnode/internal/codec"
)

// IndexationPayload attaches an arbitrary payload to the Tangle under a
// short hashed index so it can be looked up without replaying every
// message.
type IndexationPayload struct {
	Index HashedIndex
	Data  []byte
}

func (p IndexationPayload) Kind() PayloadKind { return PayloadKindIndexation }

func (p IndexationPayload) PackedLen() int {
	return p.Index.PackedLen() + 2 + len(p.Data)
}

func (p IndexationPayload) Pack(w io.Writer) error {
	if err := p.Index.Pack(w); err != nil {
		return err
	}
	return codec.WriteBytesLP16(w, p.Data)
}

func (p *IndexationPayload) Unpack(r io.Reader) error {
	if err := p.Index.Unpack(r); err != nil {
		return err
	}
	data, err := codec.ReadBytesLP16(r)
	if err != nil {
		return err
	}
	p.Data = data
	return nil
}

// HashIndex reduces an arbitrary index string to the 16-byte digest stored
// on the wire, using blake2b configured for a 16-byte output.
func HashIndex(raw []byte) (HashedIndex, error) {
	h, err := blake2b.New(HashedIndexLength, nil)
	if err != nil {
		return HashedIndex{}, err
	}
	if _, err := h.Write(raw); err != nil {
		return HashedIndex{}, err
	}
	var out HashedIndex
	copy(out[:], h.Sum(nil))
	return out, nil
}

// NewIndexationPayload hashes index and wraps data into an IndexationPayload.
func NewIndexationPayload(index string, data []byte) (*IndexationPayload, error) {
	hashed, err := HashIndex([]byte(index))
	if err != nil {
		return nil, err
	}
	return &IndexationPayload{Index: hashed, Data: data}, nil
}
