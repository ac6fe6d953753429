package chunker

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot builds a BLAKE3 Merkle tree bottom-up over a file's
// per-segment digests and returns the hex-encoded root, the same encoding
// wire.ChunkID.String() uses for its own hash.
func ComputeMerkleRoot(leafHashes [][]byte) string {
	if len(leafHashes) == 0 {
		return ""
	}

	hashes := leafHashes
	for len(hashes) > 1 {
		var nextLevel [][]byte
		for i := 0; i < len(hashes); i += 2 {
			var combined []byte
			if i+1 < len(hashes) {
				combined = append(append([]byte{}, hashes[i]...), hashes[i+1]...)
			} else {
				combined = append(append([]byte{}, hashes[i]...), hashes[i]...)
			}
			h := blake3.New()
			h.Write(combined)
			nextLevel = append(nextLevel, h.Sum(nil))
		}
		hashes = nextLevel
	}

	return hex.EncodeToString(hashes[0])
}
