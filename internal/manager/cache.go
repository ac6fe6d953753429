// Package manager implements ChunkManager and ChunkCache, the process-scoped
// registry and per-chunk façade that sits above ChunkDownloader and
// ChunkStreamCache.
package manager

import (
	"context"
	"io"
	"sync"

	"github.com/quantarax/ndncore/internal/chunk"
	"github.com/quantarax/ndncore/internal/download"
	"github.com/quantarax/ndncore/internal/fec"
	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/wire"
)

// ChunkReader is the narrow blob-storage collaborator a ChunkCache uses to
// serve encoders for outbound chunks; the core never owns a
// file-blob store itself.
type ChunkReader interface {
	Exists(id wire.ChunkID) bool
	Get(id wire.ChunkID) (io.ReadSeeker, error)
}

// ChunkEncodeDesc selects the coding scheme CreateEncoder builds.
type ChunkEncodeDesc struct {
	Raptor    bool
	RangeSize uint16
	K         int
	R         int
}

// ChunkCache is the per-chunk façade: the stream index, at most one
// mergable downloader plus any number of unmergable ones, and an encoder
// factory for outbound service.
type ChunkCache struct {
	mu sync.Mutex

	chunkID   wire.ChunkID
	pieceSize int
	stream    *chunk.StreamCache
	reader    ChunkReader

	mergableDownloader    *download.ChunkDownloader
	unmergableDownloaders []*download.ChunkDownloader

	refCount int
}

func newChunkCache(id wire.ChunkID, pieceSize int, reader ChunkReader) *ChunkCache {
	return &ChunkCache{
		chunkID:   id,
		pieceSize: pieceSize,
		stream:    chunk.NewStreamCache(id, pieceSize),
		reader:    reader,
	}
}

// Stream exposes the underlying piece index, e.g. for wiring a fresh
// DownloadSession or UploadSession directly against it.
func (c *ChunkCache) Stream() *chunk.StreamCache { return c.stream }

// ChunkID returns the identity this cache was created for.
func (c *ChunkCache) ChunkID() wire.ChunkID { return c.chunkID }

// Read copies up to len(buf) bytes starting at offset, waiting for the
// covering piece if it is not yet present.
func (c *ChunkCache) Read(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if offset >= c.chunkID.Length {
		return 0, io.EOF
	}
	idx := uint32(offset / uint64(c.pieceSize))
	within := int(offset % uint64(c.pieceSize))
	return c.stream.AsyncRead(ctx, wire.PieceDesc{Index: idx}, within, buf)
}

// WaitExists blocks until the piece covering offset is present, or ctx is
// done. Narrowed to one piece here; callers needing a byte range loop
// piece by piece.
func (c *ChunkCache) WaitExists(ctx context.Context, offset uint64) error {
	idx := uint32(offset / uint64(c.pieceSize))
	return c.stream.WaitExists(ctx, idx)
}

// CreateEncoder builds the outbound Encoder for this chunk on demand,
// reading full content from the ChunkReader collaborator.
func (c *ChunkCache) CreateEncoder(desc ChunkEncodeDesc) (fec.Encoder, error) {
	if c.reader == nil {
		return nil, ndnerr.New(ndnerr.NotFound)
	}
	if !c.reader.Exists(c.chunkID) {
		return nil, ndnerr.New(ndnerr.NotFound)
	}
	rc, err := c.reader.Get(c.chunkID)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.NotFound, err.Error())
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.Unknown, err.Error())
	}

	if desc.Raptor {
		return fec.NewRaptorEncoder(data, desc.K, desc.R)
	}
	pieceSize := int(desc.RangeSize)
	if pieceSize == 0 {
		pieceSize = c.pieceSize
	}
	return fec.NewStreamEncoder(data, pieceSize), nil
}

// GetOrCreateDownloader returns the per-chunk downloader for the requested
// mergability class: one shared mergable slot, or a fresh entry appended to
// the unbounded unmergable list.
func (c *ChunkCache) GetOrCreateDownloader(mergable bool, sources []download.Source, channelFor download.ChannelProvider) *download.ChunkDownloader {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mergable {
		if c.mergableDownloader == nil {
			c.mergableDownloader = download.NewChunkDownloader(c.chunkID, true, c.pieceSize, c.stream, sources, channelFor)
		}
		return c.mergableDownloader
	}

	d := download.NewChunkDownloader(c.chunkID, false, c.pieceSize, c.stream, sources, channelFor)
	c.unmergableDownloaders = append(c.unmergableDownloaders, d)
	return d
}
