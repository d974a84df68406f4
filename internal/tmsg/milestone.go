package tmsg

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/tangleforge/tnode/internal/codec"
)

// MilestoneEssence is the signed body of a milestone payload: the index and
// timestamp it anchors, the two parents it attaches to, an opaque Merkle
// proof over the ledger state it confirms, and the set of public keys whose
// signatures authorize it.
type MilestoneEssence struct {
	Index       uint32
	Timestamp   uint64
	Parent1     MessageId
	Parent2     MessageId
	MerkleProof [32]byte
	PublicKeys  [][32]byte
}

func (e MilestoneEssence) PackedLen() int {
	return 4 + 8 + e.Parent1.PackedLen() + e.Parent2.PackedLen() + 32 + 1 + 32*len(e.PublicKeys)
}

func (e MilestoneEssence) Pack(w io.Writer) error {
	if err := codec.WriteUint32(w, e.Index); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, e.Timestamp); err != nil {
		return err
	}
	if err := e.Parent1.Pack(w); err != nil {
		return err
	}
	if err := e.Parent2.Pack(w); err != nil {
		return err
	}
	if err := codec.WriteFixedBytes(w, e.MerkleProof[:]); err != nil {
		return err
	}
	if len(e.PublicKeys) > 255 {
		return codec.ErrInvalidLength
	}
	if err := codec.WriteUint8(w, uint8(len(e.PublicKeys))); err != nil {
		return err
	}
	for _, k := range e.PublicKeys {
		if err := codec.WriteFixedBytes(w, k[:]); err != nil {
			return err
		}
	}
	return nil
}

func (e *MilestoneEssence) Unpack(r io.Reader) error {
	index, err := codec.ReadUint32(r)
	if err != nil {
		return err
	}
	timestamp, err := codec.ReadUint64(r)
	if err != nil {
		return err
	}
	if err := e.Parent1.Unpack(r); err != nil {
		return err
	}
	if err := e.Parent2.Unpack(r); err != nil {
		return err
	}
	proof, err := codec.ReadFixedBytes(r, 32)
	if err != nil {
		return err
	}
	n, err := codec.ReadUint8(r)
	if err != nil {
		return err
	}
	keys := make([][32]byte, 0, n)
	for i := 0; i < int(n); i++ {
		b, err := codec.ReadFixedBytes(r, 32)
		if err != nil {
			return err
		}
		var k [32]byte
		copy(k[:], b)
		keys = append(keys, k)
	}
	e.Index = index
	e.Timestamp = timestamp
	copy(e.MerkleProof[:], proof)
	e.PublicKeys = keys
	return nil
}

// MilestonePayload is a committee-signed checkpoint over the Tangle.
type MilestonePayload struct {
	Essence    MilestoneEssence
	Signatures [][64]byte
}

func (p MilestonePayload) Kind() PayloadKind { return PayloadKindMilestone }

func (p MilestonePayload) PackedLen() int {
	return p.Essence.PackedLen() + 1 + 64*len(p.Signatures)
}

func (p MilestonePayload) Pack(w io.Writer) error {
	if err := p.Essence.Pack(w); err != nil {
		return err
	}
	if len(p.Signatures) > 255 {
		return codec.ErrInvalidLength
	}
	if err := codec.WriteUint8(w, uint8(len(p.Signatures))); err != nil {
		return err
	}
	for _, sig := range p.Signatures {
		if err := codec.WriteFixedBytes(w, sig[:]); err != nil {
			return err
		}
	}
	return nil
}

func (p *MilestonePayload) Unpack(r io.Reader) error {
	if err := p.Essence.Unpack(r); err != nil {
		return err
	}
	n, err := codec.ReadUint8(r)
	if err != nil {
		return err
	}
	sigs := make([][64]byte, 0, n)
	for i := 0; i < int(n); i++ {
		b, err := codec.ReadFixedBytes(r, 64)
		if err != nil {
			return err
		}
		var s [64]byte
		copy(s[:], b)
		sigs = append(sigs, s)
	}
	p.Signatures = sigs
	return nil
}

// Milestone validation errors; Validate's doc comment gives the order in
// which it checks for them.
var ErrInvalidMinThreshold = fmt.Errorf("milestone: min threshold must be greater than zero")

// ErrTooFewSignatures reports a signature count below the applicable
// threshold.
type ErrTooFewSignatures struct{ Expected, Got int }

func (e ErrTooFewSignatures) Error() string {
	return fmt.Sprintf("milestone: too few signatures: expected at least %d, got %d", e.Expected, e.Got)
}

// ErrSignaturesPublicKeysCountMismatch reports that the signature count does
// not match the essence's public key count.
type ErrSignaturesPublicKeysCountMismatch struct{ Signatures, PublicKeys int }

func (e ErrSignaturesPublicKeysCountMismatch) Error() string {
	return fmt.Sprintf("milestone: signature count %d does not match public key count %d", e.Signatures, e.PublicKeys)
}

// ErrInsufficientApplicablePublicKeys reports that the essence's public keys
// do not contain enough of the currently applicable committee keys.
type ErrInsufficientApplicablePublicKeys struct{ Have, Need int }

func (e ErrInsufficientApplicablePublicKeys) Error() string {
	return fmt.Sprintf("milestone: insufficient applicable public keys: have %d, need %d", e.Have, e.Need)
}

// ErrUnapplicablePublicKey reports that a public key in the essence is not a
// member of the currently applicable committee.
type ErrUnapplicablePublicKey struct{ PublicKeyHex string }

func (e ErrUnapplicablePublicKey) Error() string {
	return fmt.Sprintf("milestone: public key %s is not applicable", e.PublicKeyHex)
}

// ErrInvalidSignature reports that the signature at Index does not verify
// against the public key at the same index.
type ErrInvalidSignature struct {
	Index        int
	PublicKeyHex string
}

func (e ErrInvalidSignature) Error() string {
	return fmt.Sprintf("milestone: invalid signature at index %d for public key %s", e.Index, e.PublicKeyHex)
}

// Validate checks p against the currently applicable committee public keys
// and the minimum signature threshold, in a fixed rule order:
//
//  1. minThreshold must be greater than zero.
//  2. the applicable set must contain at least minThreshold keys.
//  3. the essence must carry at least minThreshold signatures.
//  4. the signature count must match the essence's public key count.
//  5. each public key must be a member of the applicable set, and each
//     signature must verify against its corresponding public key, evaluated
//     in order; the first failure of either kind is returned.
func (p *MilestonePayload) Validate(applicable [][32]byte, minThreshold int) error {
	if minThreshold <= 0 {
		return ErrInvalidMinThreshold
	}

	applicableSet := make(map[[32]byte]struct{}, len(applicable))
	for _, k := range applicable {
		applicableSet[k] = struct{}{}
	}
	if len(applicableSet) < minThreshold {
		return ErrInsufficientApplicablePublicKeys{Have: len(applicableSet), Need: minThreshold}
	}

	if len(p.Signatures) < minThreshold {
		return ErrTooFewSignatures{Expected: minThreshold, Got: len(p.Signatures)}
	}

	if len(p.Signatures) != len(p.Essence.PublicKeys) {
		return ErrSignaturesPublicKeysCountMismatch{
			Signatures: len(p.Signatures),
			PublicKeys: len(p.Essence.PublicKeys),
		}
	}

	message, err := codec.Pack(&p.Essence)
	if err != nil {
		return err
	}

	if ok, err := batchVerify(p.Essence.PublicKeys, message, p.Signatures); err == nil && ok {
		for _, k := range p.Essence.PublicKeys {
			if _, applicable := applicableSet[k]; !applicable {
				return ErrUnapplicablePublicKey{PublicKeyHex: hex.EncodeToString(k[:])}
			}
		}
		return nil
	}

	for i, k := range p.Essence.PublicKeys {
		if _, ok := applicableSet[k]; !ok {
			return ErrUnapplicablePublicKey{PublicKeyHex: hex.EncodeToString(k[:])}
		}
		if !ed25519.Verify(k[:], message, p.Signatures[i][:]) {
			return ErrInvalidSignature{Index: i, PublicKeyHex: hex.EncodeToString(k[:])}
		}
	}
	return nil
}
