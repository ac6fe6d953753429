package manager

import (
	"sync"

	"github.com/quantarax/ndncore/internal/download"
	"github.com/quantarax/ndncore/internal/wire"
)

// ChunkManager is the process-scoped, chunk-id-deduplicating registry:
// the singleton entry point non-core code calls.
//
// Per the design note this registry followed ("strong on table miss, weak
// on table hit"): Go's garbage collector already reclaims the Channel/session reference
// cycles the source language needed weak handles to break, so this
// registry keeps ordinary strong references rather than modeling weak
// pointers. It instead exposes Release so a caller can signal it is done
// with a chunk; the entry is pruned once its reference count reaches zero.
type ChunkManager struct {
	mu        sync.Mutex
	pieceSize int
	reader    ChunkReader
	caches    map[string]*ChunkCache
}

// NewChunkManager builds a manager that slices every chunk it serves into
// pieceSize-byte pieces and reads outbound content through reader.
func NewChunkManager(pieceSize int, reader ChunkReader) *ChunkManager {
	return &ChunkManager{pieceSize: pieceSize, reader: reader, caches: make(map[string]*ChunkCache)}
}

// CreateCache returns the shared ChunkCache for id, creating it on first
// demand and incrementing its reference count.
func (m *ChunkManager) CreateCache(id wire.ChunkID) *ChunkCache {
	key := id.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[key]
	if !ok {
		c = newChunkCache(id, m.pieceSize, m.reader)
		m.caches[key] = c
	}
	c.refCount++
	return c
}

// Release drops one reference to id's cache, removing it from the registry
// once unreferenced.
func (m *ChunkManager) Release(id wire.ChunkID) {
	key := id.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[key]
	if !ok {
		return
	}
	c.refCount--
	if c.refCount <= 0 {
		delete(m.caches, key)
	}
}

// CreateDownloader is the manager-level convenience for getting or creating
// a downloader directly; it ensures the backing cache exists first, then delegates to
// its mergable-or-not dedup rule.
func (m *ChunkManager) CreateDownloader(id wire.ChunkID, mergable bool, sources []download.Source, channelFor download.ChannelProvider) *download.ChunkDownloader {
	cache := m.CreateCache(id)
	return cache.GetOrCreateDownloader(mergable, sources, channelFor)
}
