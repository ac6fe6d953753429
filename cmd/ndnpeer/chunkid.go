package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/quantarax/ndncore/internal/wire"
)

// parseChunkID parses the "hexhash:length" form wire.ChunkID.String()
// produces, the shape a caller copies off a serving peer's log line.
func parseChunkID(s string) (wire.ChunkID, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return wire.ChunkID{}, fmt.Errorf("chunk id %q: want hexhash:length", s)
	}
	hash, err := hex.DecodeString(s[:idx])
	if err != nil {
		return wire.ChunkID{}, fmt.Errorf("chunk id %q: %w", s, err)
	}
	length, err := strconv.ParseUint(s[idx+1:], 10, 64)
	if err != nil {
		return wire.ChunkID{}, fmt.Errorf("chunk id %q: %w", s, err)
	}
	return wire.ChunkID{Hash: hash, Length: length}, nil
}
