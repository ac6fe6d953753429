package wire

import (
	"testing"

	"github.com/quantarax/ndncore/internal/ndnerr"
)

func sampleChunkID() ChunkID {
	return ChunkID{Hash: []byte{0xde, 0xad, 0xbe, 0xef}, Length: 4096}
}

func TestInterestRoundTrip(t *testing.T) {
	rangeSize := uint16(1024)
	referer := "peer-a/peer-b"
	cases := []Interest{
		{SessionID: 7, ChunkID: sampleChunkID(), Prefer: Prefer{Kind: PreferUnknown}},
		{SessionID: 8, ChunkID: sampleChunkID(), Prefer: Prefer{Kind: PreferStream, RangeSize: &rangeSize}, Referer: &referer},
	}
	for i, in := range cases {
		got, err := DecodeInterest(in.Encode())
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if got.SessionID != in.SessionID || !got.ChunkID.Equal(in.ChunkID) || got.Prefer.Kind != in.Prefer.Kind {
			t.Fatalf("case %d: round trip mismatch: got %+v want %+v", i, got, in)
		}
		if (got.Referer == nil) != (in.Referer == nil) {
			t.Fatalf("case %d: referer presence mismatch", i)
		}
	}
}

func TestRespInterestRedirect(t *testing.T) {
	redirect := "peer-c"
	referer := "peer-a"
	msg := RespInterest{
		SessionID:       3,
		ChunkID:         sampleChunkID(),
		ErrCode:         ndnerr.Ok,
		Redirect:        &redirect,
		RedirectReferer: &referer,
	}
	got, err := DecodeRespInterest(msg.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Redirect == nil || *got.Redirect != redirect {
		t.Fatalf("redirect not preserved: %+v", got)
	}
	if got.CacheNode != nil {
		t.Fatalf("unset CacheNode decoded non-nil")
	}
}

func TestPieceDataRoundTrip(t *testing.T) {
	est := uint32(42)
	msg := PieceData{
		EstSeq:    &est,
		SessionID: 1,
		ChunkID:   sampleChunkID(),
		Desc:      PieceDesc{Raptor: true, Seq: 5, K: 16},
		Data:      []byte("hello ndn"),
	}
	got, err := DecodePieceData(msg.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EstSeq == nil || *got.EstSeq != est {
		t.Fatalf("est_seq not preserved")
	}
	if !got.Desc.Raptor || got.Desc.Seq != 5 || got.Desc.K != 16 {
		t.Fatalf("piece desc not preserved: %+v", got.Desc)
	}
	if string(got.Data) != "hello ndn" {
		t.Fatalf("data not preserved: %q", got.Data)
	}
}

func TestPieceDataRangeDesc(t *testing.T) {
	msg := PieceData{
		SessionID: 2,
		ChunkID:   sampleChunkID(),
		Desc:      PieceDesc{Raptor: false, Index: 9, RangeSize: 256},
		Data:      []byte{1, 2, 3},
	}
	got, err := DecodePieceData(msg.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Desc.Raptor || got.Desc.Index != 9 || got.Desc.RangeSize != 256 {
		t.Fatalf("range desc not preserved: %+v", got.Desc)
	}
	if got.EstSeq != nil {
		t.Fatalf("est_seq should be absent")
	}
}

func TestPieceControlLostIndexBatching(t *testing.T) {
	ranges := make([]IndexRange, 0, 300)
	for i := uint32(0); i < 300; i++ {
		ranges = append(ranges, IndexRange{Begin: i * 2, End: i*2 + 1})
	}
	msg := PieceControl{
		Sequence:  11,
		SessionID: 4,
		ChunkID:   sampleChunkID(),
		Command:   CtrlContinue,
		LostIndex: ranges,
	}
	batches := msg.EncodeBatches()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches for 300 ranges, got %d", len(batches))
	}
	var total []IndexRange
	for _, b := range batches {
		dec, err := DecodePieceControl(b)
		if err != nil {
			t.Fatalf("decode batch: %v", err)
		}
		if len(dec.LostIndex) > MaxLostRangesPerPacket {
			t.Fatalf("batch exceeds MaxLostRangesPerPacket: %d", len(dec.LostIndex))
		}
		total = append(total, dec.LostIndex...)
	}
	if len(total) != len(ranges) {
		t.Fatalf("lost ranges not fully preserved across batches: got %d want %d", len(total), len(ranges))
	}
}

func TestPieceControlMaxIndex(t *testing.T) {
	maxIdx := uint32(100)
	msg := PieceControl{
		Sequence:  1,
		SessionID: 1,
		ChunkID:   sampleChunkID(),
		Command:   CtrlFinish,
		MaxIndex:  &maxIdx,
	}
	got, err := DecodePieceControl(msg.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MaxIndex == nil || *got.MaxIndex != maxIdx {
		t.Fatalf("max_index not preserved")
	}
	if got.Command != CtrlFinish {
		t.Fatalf("command not preserved: %v", got.Command)
	}
}

func TestChannelEstimateRoundTrip(t *testing.T) {
	msg := ChannelEstimate{Sequence: 99, Recved: 1 << 20}
	got, err := DecodeChannelEstimate(msg.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sequence != msg.Sequence || got.Recved != msg.Recved {
		t.Fatalf("estimate not preserved: %+v", got)
	}
}

func TestDecodeDispatchesByCommand(t *testing.T) {
	frames := []any{
		Interest{SessionID: 1, ChunkID: sampleChunkID(), Prefer: Prefer{Kind: PreferUnknown}},
		RespInterest{SessionID: 1, ChunkID: sampleChunkID(), ErrCode: ndnerr.NotFound},
		PieceData{SessionID: 1, ChunkID: sampleChunkID(), Desc: PieceDesc{Index: 0, RangeSize: 8}, Data: []byte{9}},
		PieceControl{Sequence: 1, SessionID: 1, ChunkID: sampleChunkID(), Command: CtrlCancel},
		ChannelEstimate{Sequence: 1, Recved: 2},
	}
	for _, f := range frames {
		var encoded []byte
		switch m := f.(type) {
		case Interest:
			encoded = m.Encode()
		case RespInterest:
			encoded = m.Encode()
		case PieceData:
			encoded = m.Encode()
		case PieceControl:
			encoded = m.Encode()
		case ChannelEstimate:
			encoded = m.Encode()
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode %T: %v", f, err)
		}
		if decoded == nil {
			t.Fatalf("decode %T: nil result", f)
		}
	}
}

func TestDecodeUnknownCommandByte(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0, 0}); err == nil {
		t.Fatalf("expected error for unknown command byte")
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	full := Interest{SessionID: 1, ChunkID: sampleChunkID(), Prefer: Prefer{Kind: PreferUnknown}}.Encode()
	for _, cut := range []int{0, 1, 3, len(full) - 1} {
		if cut > len(full) {
			continue
		}
		if _, err := DecodeInterest(full[:cut]); err == nil {
			t.Fatalf("expected truncation error at cut %d", cut)
		}
	}
}

// FuzzPieceDataCodec round-trips PieceData built from arbitrary field values:
// decoding its own encoding must succeed and yield the same chunk id,
// piece descriptor and payload.
func FuzzPieceDataCodec(f *testing.F) {
	f.Add(sampleChunkID().Hash, uint64(4096), uint32(3), uint16(512), []byte("seed"))
	f.Fuzz(func(t *testing.T, hash []byte, length uint64, index uint32, rangeSize uint16, data []byte) {
		msg := PieceData{
			SessionID: 1,
			ChunkID:   ChunkID{Hash: hash, Length: length},
			Desc:      PieceDesc{Raptor: false, Index: index, RangeSize: rangeSize},
			Data:      data,
		}
		encoded := msg.Encode()
		got, err := DecodePieceData(encoded)
		if err != nil {
			t.Fatalf("decode own encoding: %v", err)
		}
		if !got.ChunkID.Equal(msg.ChunkID) || got.Desc != msg.Desc || string(got.Data) != string(msg.Data) {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
		}
	})
}
