package fec

import (
	"sync"

	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/wire"
)

// RaptorEncoder is the Raptor-mode Encoder: it shares the session-state
// skeleton with StreamEncoder but transmits Reed-Solomon
// symbols (K data shards + R parity shards) instead of raw byte ranges, so
// any K of the K+R symbols reconstruct the chunk (see AdaptivePolicy for
// how R responds to observed loss).
type RaptorEncoder struct {
	mu     sync.Mutex
	shards [][]byte // len k+r, all equal size
	k      int
	r      int
	length uint64
	cursor uint32
	lost   []uint32
}

// NewRaptorEncoder splits data into k equal shards (zero-padded) and
// computes r parity shards via Reed-Solomon.
func NewRaptorEncoder(data []byte, k, r int) (*RaptorEncoder, error) {
	enc, err := NewEncoder(k, r)
	if err != nil {
		return nil, err
	}
	shardSize := (len(data) + k - 1) / k
	if shardSize == 0 {
		shardSize = 1
	}
	dataShards := make([][]byte, k)
	for i := range dataShards {
		shard := make([]byte, shardSize)
		start := i * shardSize
		if start < len(data) {
			end := start + shardSize
			if end > len(data) {
				end = len(data)
			}
			copy(shard, data[start:end])
		}
		dataShards[i] = shard
	}
	parity, err := enc.Encode(dataShards)
	if err != nil {
		return nil, err
	}
	return &RaptorEncoder{
		shards: append(dataShards, parity...),
		k:      k,
		r:      r,
		length: uint64(len(data)),
	}, nil
}

func (e *RaptorEncoder) NextPiece() (wire.PieceDesc, []byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var seq uint32
	n := uint32(e.k + e.r)
	if len(e.lost) > 0 {
		seq = e.lost[0]
		e.lost = e.lost[1:]
	} else if e.cursor < n {
		seq = e.cursor
		e.cursor++
	} else {
		return wire.PieceDesc{}, nil, false
	}

	desc := wire.PieceDesc{Raptor: true, Seq: seq, K: uint16(e.k)}
	return desc, e.shards[seq], true
}

func (e *RaptorEncoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor = 0
	e.lost = nil
}

func (e *RaptorEncoder) Merge(maxIndex uint32, lost []wire.IndexRange) {
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
}

// RaptorDecoder collects K+R symbols and reconstructs the original chunk
// as soon as K of them are present, via Reed-Solomon reconstruction.
type RaptorDecoder struct {
	mu        sync.Mutex
	k, r      int
	length    uint64
	shards    [][]byte
	present   []bool
	have      int
	shardSize int
	completed bool
	content   []byte
	seenAny   bool
	maxSeen   uint32
}

// NewRaptorDecoder builds a decoder expecting K+R symbols for a chunk of
// the given total length.
func NewRaptorDecoder(length uint64, k, r int) *RaptorDecoder {
	return &RaptorDecoder{
		k:       k,
		r:       r,
		length:  length,
		shards:  make([][]byte, k+r),
		present: make([]bool, k+r),
	}
}

func (d *RaptorDecoder) PushPieceData(desc wire.PieceDesc, payload []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !desc.Raptor {
		return false, ndnerr.Wrap(ndnerr.InvalidData, "stream piece pushed to raptor decoder")
	}
	if int(desc.K) != d.k {
		return false, ndnerr.Wrap(ndnerr.InvalidData, "raptor k mismatch")
	}
	if int(desc.Seq) >= d.k+d.r {
		return false, ndnerr.Wrap(ndnerr.InvalidData, "raptor seq out of range")
	}
	if !d.seenAny || uint32(desc.Seq) > d.maxSeen {
		d.maxSeen = uint32(desc.Seq)
		d.seenAny = true
	}
	if d.completed {
		return true, nil
	}
	if d.present[desc.Seq] {
		return false, nil
	}
	if d.shardSize == 0 {
		d.shardSize = len(payload)
	}
	d.shards[desc.Seq] = payload
	d.present[desc.Seq] = true
	d.have++

	if d.have < d.k {
		return false, nil
	}

	dec, err := NewDecoder(d.k, d.r)
	if err != nil {
		return false, err
	}
	full := make([][]byte, d.k+d.r)
	copy(full, d.shards)
	if err := dec.Reconstruct(full); err != nil {
		// Not enough symbols yet to reconstruct (e.g. have == k but some
		// of the present ones are parity and Reconstruct needs distinct
		// shard identities it doesn't have) — keep waiting for more.
		return false, nil
	}

	out := make([]byte, 0, d.length)
	for i := 0; i < d.k; i++ {
		out = append(out, full[i]...)
	}
	if uint64(len(out)) > d.length {
		out = out[:d.length]
	}
	d.content = out
	d.completed = true
	return true, nil
}

func (d *RaptorDecoder) ChunkContent() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.completed {
		return nil, ndnerr.Wrap(ndnerr.ErrorState, "chunk not yet complete")
	}
	return d.content, nil
}

// MissingRanges returns the highest symbol seq seen so far and the shard
// slots below it that never arrived, used to build a PieceControl(Continue)
// loss report.
func (d *RaptorDecoder) MissingRanges() (uint32, []wire.IndexRange) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.seenAny || d.completed {
		return d.maxSeen, nil
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
