// Package chunker splits one logical file into the independently fetchable
// segments a Channel/ChunkDownloader pair transfers, each named by its own
// wire.ChunkID (BLAKE3 content hash), and records a Merkle root over those
// segment digests so a caller can check the whole file's integrity once every
// segment has arrived.
package chunker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/quantarax/ndncore/internal/wire"
)

// ComputeManifest splits the file at filePath into options.ChunkSize-byte
// segments and hashes each into a wire.ChunkID.
func ComputeManifest(filePath string, options ChunkOptions) (*Manifest, error) {
	if options.ChunkSize <= 0 {
		options = DefaultChunkOptions()
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	fileSize := fileInfo.Size()
	fileName := filepath.Base(filePath)
	sessionID := uuid.New().String()

	if fileSize == 0 {
		id := wire.NewChunkID(nil)
		return &Manifest{
			SessionID:  sessionID,
			FileName:   fileName,
			FileSize:   0,
			ChunkSize:  options.ChunkSize,
			ChunkCount: 1,
			Chunks:     []ChunkDescriptor{{Index: 0, ID: id}},
			MerkleRoot: ComputeMerkleRoot([][]byte{id.Hash}),
			CreatedAt:  time.Now(),
		}, nil
	}

	var chunks []ChunkDescriptor
	var leafHashes [][]byte
	buffer := make([]byte, options.ChunkSize)

	for i := 0; ; i++ {
		n, err := io.ReadFull(file, buffer)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read chunk %d: %w", i, err)
		}
		if n == 0 {
			break
		}

		id := wire.NewChunkID(buffer[:n])
		chunks = append(chunks, ChunkDescriptor{Index: i, ID: id})
		leafHashes = append(leafHashes, id.Hash)

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}

	return &Manifest{
		SessionID:  sessionID,
		FileName:   fileName,
		FileSize:   fileSize,
		ChunkSize:  options.ChunkSize,
		ChunkCount: len(chunks),
		Chunks:     chunks,
		MerkleRoot: ComputeMerkleRoot(leafHashes),
		CreatedAt:  time.Now(),
	}, nil
}

// Chunker provides streaming chunking of data from an io.Reader.
type Chunker struct {
	reader    io.Reader
	chunkSize int
	buffer    []byte
}

// NewChunker creates a new streaming chunker.
func NewChunker(r io.Reader, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	return &Chunker{
		reader:    r,
		chunkSize: chunkSize,
		buffer:    make([]byte, chunkSize),
	}, nil
}

// Next returns the next chunk of data.
func (c *Chunker) Next() ([]byte, error) {
	n, err := c.reader.Read(c.buffer)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	return c.buffer[:n], nil
}

// ReadChunk reads a specific chunk from the file.
func ReadChunk(filePath string, chunkIndex int, chunkSize int) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	offset := int64(chunkIndex) * int64(chunkSize)
	if _, err := file.Seek(offset, 0); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	buffer := make([]byte, chunkSize)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read chunk: %w", err)
	}
	return buffer[:n], nil
}
