// Package chunk implements the piece-indexed local cache for one chunk's
// content: ChunkStreamCache stores received pieces, answers presence
// queries, and wakes readers waiting on a piece or a byte range.
package chunk

import (
	"context"
	"sync"

	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/wire"
)

// StreamCache indexes a chunk as a sequence of fixed-size pieces, the unit
// the wire protocol transfers. A single mutex guards the
// piece map, the presence bitmap, and the waiter registry together; waits
// are registered under the lock and then the lock is dropped before
// suspending, mirroring ChunkBitmap's locking style but adding a wake path.
type StreamCache struct {
	mu sync.Mutex

	chunkID   wire.ChunkID
	pieceSize int
	total     uint32
	length    uint64

	pieces  [][]byte
	present []bool
	have    uint32

	waiters   map[uint32][]chan struct{}
	verifyErr error
}

// NewStreamCache builds an empty cache for a chunk of the given identity,
// sliced into pieceSize-byte pieces.
func NewStreamCache(id wire.ChunkID, pieceSize int) *StreamCache {
	total := uint32((id.Length + uint64(pieceSize) - 1) / uint64(pieceSize))
	if id.Length == 0 {
		total = 0
	}
	return &StreamCache{
		chunkID:   id,
		pieceSize: pieceSize,
		total:     total,
		length:    id.Length,
		pieces:    make([][]byte, total),
		present:   make([]bool, total),
		waiters:   make(map[uint32][]chan struct{}),
	}
}

// Exists reports whether piece index is already present, synchronously.
func (c *StreamCache) Exists(index uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return index < c.total && c.present[index]
}

// WaitExists suspends until piece index is present or ctx is done, in
// which case ctx.Err() is returned without mutating cache state.
func (c *StreamCache) WaitExists(ctx context.Context, index uint32) error {
	c.mu.Lock()
	if index >= c.total {
		c.mu.Unlock()
		return ndnerr.Wrap(ndnerr.InvalidParam, "piece index out of range")
	}
	if c.present[index] {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.waiters[index] = append(c.waiters[index], ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AsyncRead copies from one piece at offset into buf, waiting if the piece
// is not yet present. It returns 0 at or past end-of-chunk. desc must
// address a single piece by Range index; Raptor-addressed reads are not
// meaningful against the local stream cache (the session decoder resolves
// those before content reaches this cache).
func (c *StreamCache) AsyncRead(ctx context.Context, desc wire.PieceDesc, offset int, buf []byte) (int, error) {
	if desc.Raptor {
		return 0, ndnerr.Wrap(ndnerr.InvalidParam, "stream cache reads address pieces by range, not raptor seq")
	}
	if uint64(desc.Index)*uint64(c.pieceSize) >= c.length {
		return 0, nil
	}
	if err := c.WaitExists(ctx, desc.Index); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	piece := c.pieces[desc.Index]
	if offset >= len(piece) {
		return 0, nil
	}
	n := copy(buf, piece[offset:])
	return n, nil
}

// Push inserts one wire piece. If the index is already present the piece
// is discarded (core invariant 2); on insert, every waiter registered for
// that index is woken exactly once.
func (c *StreamCache) Push(piece wire.PieceData) {
	if piece.Desc.Raptor {
		return
	}
	c.mu.Lock()
	idx := piece.Desc.Index
	if idx >= c.total || c.present[idx] {
		c.mu.Unlock()
		return
	}
	c.pieces[idx] = piece.Data
	c.present[idx] = true
	c.have++
	if c.have == c.total {
		c.checkIntegrityLocked()
	}
	woken := c.waiters[idx]
	delete(c.waiters, idx)
	c.mu.Unlock()

	for _, ch := range woken {
		close(ch)
	}
}

// PushContent slices a fully assembled chunk (e.g. the output of a Raptor
// decoder) into pieceSize pieces and inserts any not already present, in
// one pass, waking their waiters.
func (c *StreamCache) PushContent(data []byte) {
	c.mu.Lock()
	type wake struct {
		idx   uint32
		chans []chan struct{}
	}
	var wakes []wake
	for idx := uint32(0); idx < c.total; idx++ {
		if c.present[idx] {
			continue
		}
		start := int(idx) * c.pieceSize
		end := start + c.pieceSize
		if end > len(data) {
			end = len(data)
		}
		if start >= len(data) {
			continue
		}
		c.pieces[idx] = data[start:end]
		c.present[idx] = true
		c.have++
		if w := c.waiters[idx]; len(w) > 0 {
			wakes = append(wakes, wake{idx: idx, chans: w})
			delete(c.waiters, idx)
		}
	}
	if c.have == c.total {
		c.checkIntegrityLocked()
	}
	c.mu.Unlock()

	for _, w := range wakes {
		for _, ch := range w.chans {
			close(ch)
		}
	}
}

// WaitLoaded resolves true if the entire chunk is already present, the
// fast-path gate ChunkDownloader checks before emitting any Interest.
func (c *StreamCache) WaitLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total == 0 || c.have == c.total
}

// Total returns the piece count this cache was sized for.
func (c *StreamCache) Total() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// ChunkID returns the identity this cache was constructed for.
func (c *StreamCache) ChunkID() wire.ChunkID { return c.chunkID }

// VerifyError returns the digest mismatch recorded once every piece arrived,
// or nil if the chunk isn't fully loaded yet or its content checked out.
func (c *StreamCache) VerifyError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyErr
}

// checkIntegrityLocked runs once have reaches total: it reassembles the
// chunk and checks it against chunkID's BLAKE3 digest, validating a fully
// assembled chunk's bytes against its expected digest.
func (c *StreamCache) checkIntegrityLocked() {
	if c.total == 0 {
		return
	}
	content := make([]byte, 0, c.length)
	for _, p := range c.pieces {
		content = append(content, p...)
	}
	if uint64(len(content)) > c.length {
		content = content[:c.length]
	}
	if !wire.VerifyChunkID(c.chunkID, content) {
		c.verifyErr = ndnerr.Wrap(ndnerr.InvalidData, "assembled chunk does not match its digest")
	}
}
