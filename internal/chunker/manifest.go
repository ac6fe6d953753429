package chunker

import (
	"time"

	"github.com/quantarax/ndncore/internal/wire"
)

// Manifest records how one logical file was split into independently
// fetchable pieces, each named by its own wire.ChunkID: content-addressing
// applied one level up, above a single chunk transfer.
type Manifest struct {
	SessionID  string
	FileName   string
	FileSize   int64
	ChunkSize  int
	ChunkCount int
	Chunks     []ChunkDescriptor
	MerkleRoot string
	CreatedAt  time.Time
}

// ChunkDescriptor names one segment of the file by its wire.ChunkID.
type ChunkDescriptor struct {
	Index int
	ID    wire.ChunkID
}

// ChunkOptions configures chunking behavior.
type ChunkOptions struct {
	ChunkSize int // Chunk size in bytes (default: 1 MiB)
}

// DefaultChunkOptions returns default chunking options.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize: 1048576, // 1 MiB
	}
}
