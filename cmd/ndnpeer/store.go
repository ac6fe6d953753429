package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/quantarax/ndncore/internal/wire"
)

// fileStore is a directory-backed manager.ChunkReader: every chunk this
// peer can serve is one file named by its content hash. Put is its write
// side, used by serve --put; fetch does not write through it.
type fileStore struct {
	dir string
}

func newFileStore(dir string) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(id wire.ChunkID) string {
	return filepath.Join(s.dir, hex.EncodeToString(id.Hash))
}

func (s *fileStore) Exists(id wire.ChunkID) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

func (s *fileStore) Get(id wire.ChunkID) (io.ReadSeeker, error) {
	return os.Open(s.path(id))
}

// Put hashes content with wire.NewChunkID and writes it under that name,
// so a later Interest for the returned ChunkID can be served.
func (s *fileStore) Put(content []byte) (wire.ChunkID, error) {
	id := wire.NewChunkID(content)
	if err := os.WriteFile(s.path(id), content, 0o644); err != nil {
		return wire.ChunkID{}, fmt.Errorf("write chunk blob: %w", err)
	}
	return id, nil
}
