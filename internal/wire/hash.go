package wire

import (
	"bytes"

	"github.com/zeebo/blake3"
)

func hash(content []byte) []byte {
	h := blake3.New()
	h.Write(content)
	return h.Sum(nil)
}

// NewChunkID derives a ChunkID from content by BLAKE3-hashing it, the
// concrete choice for the otherwise codec-opaque Hash field.
func NewChunkID(content []byte) ChunkID {
	return ChunkID{Hash: hash(content), Length: uint64(len(content))}
}

// VerifyChunkID reports whether content hashes to id's digest.
func VerifyChunkID(id ChunkID, content []byte) bool {
	if uint64(len(content)) != id.Length {
		return false
	}
	return bytes.Equal(hash(content), id.Hash)
}
