package fec

import (
	"bytes"
	"testing"

	"github.com/quantarax/ndncore/internal/wire"
)

func TestStreamEncodeDecodeHappyPath(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 4096)
	enc := NewStreamEncoder(data, 1024)
	dec := NewStreamDecoder(uint64(len(data)), 1024)

	for {
		desc, payload, ok := enc.NextPiece()
		if !ok {
			break
		}
		completed, err := dec.PushPieceData(desc, payload)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		if completed {
			break
		}
	}

	got, err := dec.ChunkContent()
	if err != nil {
		t.Fatalf("chunk content: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reconstructed content mismatch")
	}
}

func TestStreamDecoderDiscardsDuplicateIndex(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 2048)
	dec := NewStreamDecoder(uint64(len(data)), 1024)

	desc := wire.PieceDesc{Index: 0, RangeSize: 1024}
	if _, err := dec.PushPieceData(desc, data[:1024]); err != nil {
		t.Fatalf("first push: %v", err)
	}
	completed, err := dec.PushPieceData(desc, make([]byte, 1024))
	if err != nil {
		t.Fatalf("duplicate push: %v", err)
	}
	if completed {
		t.Fatalf("duplicate push should not complete a 2-piece chunk")
	}

	desc1 := wire.PieceDesc{Index: 1, RangeSize: 1024}
	completed, err = dec.PushPieceData(desc1, data[1024:])
	if err != nil || !completed {
		t.Fatalf("expected completion after second distinct piece: %v %v", completed, err)
	}
	got, _ := dec.ChunkContent()
	if !bytes.Equal(got, data) {
		t.Fatalf("duplicate push corrupted original piece 0 bytes")
	}
}

func TestStreamEncoderMergeReplaysLostThenTail(t *testing.T) {
	data := bytes.Repeat([]byte{0x02}, 5120)
	enc := NewStreamEncoder(data, 1024) // 5 pieces, indices 0..4

	for i := 0; i < 5; i++ {
		if _, _, ok := enc.NextPiece(); !ok {
			t.Fatalf("expected piece %d", i)
		}
	}
	if _, _, ok := enc.NextPiece(); ok {
		t.Fatalf("expected window exhausted")
	}

	enc.Merge(2, []wire.IndexRange{{Begin: 1, End: 2}})
	desc, _, ok := enc.NextPiece()
	if !ok || desc.Index != 1 {
		t.Fatalf("expected lost index 1 replayed first, got %+v ok=%v", desc, ok)
	}
	desc, _, ok = enc.NextPiece()
	if !ok || desc.Index != 3 {
		t.Fatalf("expected tail index 3 next, got %+v ok=%v", desc, ok)
	}
	desc, _, ok = enc.NextPiece()
	if !ok || desc.Index != 4 {
		t.Fatalf("expected tail index 4 next, got %+v ok=%v", desc, ok)
	}
	if _, _, ok := enc.NextPiece(); ok {
		t.Fatalf("expected window exhausted after merge replay")
	}
}

func TestStreamDecoderMissingRangesReportsGaps(t *testing.T) {
	dec := NewStreamDecoder(5120, 1024) // 5 pieces, indices 0..4

	if maxSeen, missing := dec.MissingRanges(); maxSeen != 0 || missing != nil {
		t.Fatalf("expected no report before any piece arrives, got max=%d missing=%v", maxSeen, missing)
	}

	push := func(idx uint32) {
		desc := wire.PieceDesc{Index: idx, RangeSize: 1024}
		if _, err := dec.PushPieceData(desc, make([]byte, 1024)); err != nil {
			t.Fatalf("push %d: %v", idx, err)
		}
	}
	push(0)
	push(3) // indices 1 and 2 are now missing below the new high-water mark

	maxSeen, missing := dec.MissingRanges()
	if maxSeen != 3 {
		t.Fatalf("maxSeen = %d, want 3", maxSeen)
	}
	want := []wire.IndexRange{{Begin: 1, End: 3}}
	if len(missing) != 1 || missing[0] != want[0] {
		t.Fatalf("missing = %+v, want %+v", missing, want)
	}

	push(1)
	push(2)
	if _, missing := dec.MissingRanges(); len(missing) != 0 {
		t.Fatalf("expected no gaps once 0..3 all arrived, got %+v", missing)
	}
}

func TestStreamEncoderReset(t *testing.T) {
	data := bytes.Repeat([]byte{0x03}, 2048)
	enc := NewStreamEncoder(data, 1024)
	enc.NextPiece()
	enc.NextPiece()
	enc.Reset()
	desc, _, ok := enc.NextPiece()
	if !ok || desc.Index != 0 {
		t.Fatalf("expected reset to rewind to index 0, got %+v", desc)
	}
}
