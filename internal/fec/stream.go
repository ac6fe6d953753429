package fec

import (
	"sync"

	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/wire"
)

// StreamEncoder is the baseline Stream-mode Encoder: it slices the chunk
// into fixed-size pieces and transmits them by index.
type StreamEncoder struct {
	mu        sync.Mutex
	data      []byte
	pieceSize int
	total     uint32
	cursor    uint32
	lost      []uint32
}

// NewStreamEncoder builds an encoder over the full chunk content, sliced
// into pieceSize-byte pieces (the last piece may be shorter).
func NewStreamEncoder(data []byte, pieceSize int) *StreamEncoder {
	total := uint32((len(data) + pieceSize - 1) / pieceSize)
	if len(data) == 0 {
		total = 0
	}
	return &StreamEncoder{data: data, pieceSize: pieceSize, total: total}
}

func (e *StreamEncoder) NextPiece() (wire.PieceDesc, []byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var idx uint32
	if len(e.lost) > 0 {
		idx = e.lost[0]
		e.lost = e.lost[1:]
	} else if e.cursor < e.total {
		idx = e.cursor
		e.cursor++
	} else {
		return wire.PieceDesc{}, nil, false
	}

	start := int(idx) * e.pieceSize
	end := start + e.pieceSize
	if end > len(e.data) {
		end = len(e.data)
	}
	payload := e.data[start:end]
	desc := wire.PieceDesc{Index: idx, RangeSize: uint16(len(payload))}
	return desc, payload, true
}

func (e *StreamEncoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor = 0
	e.lost = nil
}

func (e *StreamEncoder) Merge(maxIndex uint32, lost []wire.IndexRange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expanded []uint32
	for _, r := range lost {
		for i := r.Begin; i < r.End; i++ {
			expanded = append(expanded, i)
		}
	}
	e.lost = expanded
	e.cursor = maxIndex + 1
	if maxIndex+1 < maxIndex {
		// maxIndex was the max uint32 value; nothing left past it.
		e.cursor = e.total
	}
}

// StreamDecoder is the receive-side counterpart: it gathers pieces keyed
// by index until every index in [0, total) is present.
type StreamDecoder struct {
	mu        sync.Mutex
	pieceSize int
	length    uint64
	total     uint32
	pieces    [][]byte
	present   []bool
	have      uint32
	seenAny   bool
	maxSeen   uint32
}

// NewStreamDecoder builds a decoder for a chunk of the given total length,
// sliced into pieceSize-byte pieces.
func NewStreamDecoder(length uint64, pieceSize int) *StreamDecoder {
	total := uint32((length + uint64(pieceSize) - 1) / uint64(pieceSize))
	if length == 0 {
		total = 0
	}
	return &StreamDecoder{
		pieceSize: pieceSize,
		length:    length,
		total:     total,
		pieces:    make([][]byte, total),
		present:   make([]bool, total),
	}
}

func (d *StreamDecoder) PushPieceData(desc wire.PieceDesc, payload []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Raptor {
		return false, ndnerr.Wrap(ndnerr.InvalidData, "raptor piece pushed to stream decoder")
	}
	if desc.Index >= d.total {
		return false, ndnerr.Wrap(ndnerr.InvalidData, "piece index out of range")
	}
	if !d.seenAny || desc.Index > d.maxSeen {
		d.maxSeen = desc.Index
		d.seenAny = true
	}
	if d.present[desc.Index] {
		return d.have == d.total, nil
	}
	d.pieces[desc.Index] = payload
	d.present[desc.Index] = true
	d.have++
	return d.have == d.total, nil
}

// MissingRanges returns the highest piece index seen so far and the gaps
// below it, used to build a PieceControl(Continue) loss report.
func (d *StreamDecoder) MissingRanges() (uint32, []wire.IndexRange) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.seenAny {
		return 0, nil
	}
	var ranges []wire.IndexRange
	var start uint32
	inGap := false
	for i := uint32(0); i <= d.maxSeen; i++ {
		if !d.present[i] {
			if !inGap {
				start = i
				inGap = true
			}
			continue
		}
		if inGap {
			ranges = append(ranges, wire.IndexRange{Begin: start, End: i})
			inGap = false
		}
	}
	if inGap {
		ranges = append(ranges, wire.IndexRange{Begin: start, End: d.maxSeen + 1})
	}
	return d.maxSeen, ranges
}

func (d *StreamDecoder) ChunkContent() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.have != d.total {
		return nil, ndnerr.Wrap(ndnerr.ErrorState, "chunk not yet complete")
	}
	out := make([]byte, 0, d.length)
	for _, p := range d.pieces {
		out = append(out, p...)
	}
	return out, nil
}
