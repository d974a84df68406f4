package tmsg

import (
	"testing"

	"github.com/tangleforge/tnode/internal/codec"
)

func TestMessageRoundTripNoPayload(t *testing.T) {
	msg := Message{
		NetworkId: 1,
		Parent1:   MessageId{0x01},
		Parent2:   MessageId{0x02},
		Nonce:     12345,
	}

	data, err := codec.Pack(&msg)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(data) != msg.PackedLen() {
		t.Errorf("len(data) = %d, want %d", len(data), msg.PackedLen())
	}

	var got Message
	if err := codec.Unpack(data, &got); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got.Payload != nil {
		t.Errorf("Payload = %v, want nil", got.Payload)
	}
	if got.Nonce != msg.Nonce {
		t.Errorf("Nonce = %d, want %d", got.Nonce, msg.Nonce)
	}
}

func TestMessageRoundTripWithIndexationPayload(t *testing.T) {
	payload, err := NewIndexationPayload("tag", []byte("hello tangle"))
	if err != nil {
		t.Fatalf("NewIndexationPayload: %v", err)
	}
	msg := Message{
		NetworkId: 7,
		Parent1:   MessageId{0xaa},
		Parent2:   MessageId{0xbb},
		Payload:   payload,
		Nonce:     999,
	}

	data, err := codec.Pack(&msg)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(data) != msg.PackedLen() {
		t.Errorf("len(data) = %d, want %d", len(data), msg.PackedLen())
	}

	var got Message
	if err := codec.Unpack(data, &got); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	gotPayload, ok := got.Payload.(*IndexationPayload)
	if !ok {
		t.Fatalf("Payload type = %T, want *IndexationPayload", got.Payload)
	}
	if string(gotPayload.Data) != "hello tangle" {
		t.Errorf("Data = %q, want %q", gotPayload.Data, "hello tangle")
	}
	if gotPayload.Index != payload.Index {
		t.Errorf("Index = %x, want %x", gotPayload.Index, payload.Index)
	}
}

func TestMessageRoundTripWithTransactionPayload(t *testing.T) {
	oid, err := OutputIdFromString("52fdfc072182654f163f5f0f9a621d729566c74d10037c4d7bbb0407d1e2c6492a00")
	if err != nil {
		t.Fatalf("OutputIdFromString: %v", err)
	}
	var pubKey [32]byte
	addr := NewEd25519Address(pubKey)

	txPayload := &TransactionPayload{
		Essence: TransactionEssence{
			Inputs:  []UTXOInput{{OutputId: oid}},
			Outputs: []BasicOutput{{Amount: 1000, Address: addr}},
		},
		UnlockBlocks: []UnlockBlock{
			&SignatureUnlockBlock{PublicKey: pubKey, Signature: [64]byte{0x01}},
		},
	}
	msg := Message{NetworkId: 1, Payload: txPayload, Nonce: 1}

	data, err := codec.Pack(&msg)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(data) != msg.PackedLen() {
		t.Errorf("len(data) = %d, want %d", len(data), msg.PackedLen())
	}

	var got Message
	if err := codec.Unpack(data, &got); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	gotTx, ok := got.Payload.(*TransactionPayload)
	if !ok {
		t.Fatalf("Payload type = %T, want *TransactionPayload", got.Payload)
	}
	if len(gotTx.Essence.Inputs) != 1 || gotTx.Essence.Inputs[0].OutputId != oid {
		t.Errorf("Inputs round trip mismatch: %+v", gotTx.Essence.Inputs)
	}
	if len(gotTx.Essence.Outputs) != 1 || gotTx.Essence.Outputs[0].Amount != 1000 {
		t.Errorf("Outputs round trip mismatch: %+v", gotTx.Essence.Outputs)
	}
	if len(gotTx.UnlockBlocks) != 1 || gotTx.UnlockBlocks[0].Kind() != UnlockBlockKindSignature {
		t.Errorf("UnlockBlocks round trip mismatch: %+v", gotTx.UnlockBlocks)
	}
}

func TestMessageIdDeterministic(t *testing.T) {
	msg := Message{NetworkId: 1, Parent1: MessageId{0x01}, Parent2: MessageId{0x02}, Nonce: 42}
	id1, err := msg.Id()
	if err != nil {
		t.Fatalf("Id: %v", err)
	}
	id2, err := msg.Id()
	if err != nil {
		t.Fatalf("Id: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Id() not deterministic: %v != %v", id1, id2)
	}

	other := msg
	other.Nonce = 43
	id3, err := other.Id()
	if err != nil {
		t.Fatalf("Id: %v", err)
	}
	if id1 == id3 {
		t.Errorf("Id() did not change with Nonce")
	}
}

func TestMessageMetadataRoundTrip(t *testing.T) {
	md := MessageMetadata{
		Flags:          MetadataFlags{Solid: true, Referenced: true, MilestoneSet: true},
		MilestoneIndex: 5,
		OMRSI:          MilestoneRoot{Index: 3, MessageId: MessageId{0x03}},
		YMRSI:          MilestoneRoot{Index: 8, MessageId: MessageId{0x08}},
		ArrivalTime:    1700000000,
		ConflictReason: ConflictInputUTXOAlreadySpent,
	}

	data, err := codec.Pack(&md)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	var got MessageMetadata
	if err := codec.Unpack(data, &got); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got != md {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, md)
	}
}
