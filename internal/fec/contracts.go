package fec

import "github.com/quantarax/ndncore/internal/wire"

// Encoder is the transmit side of a chunk's piece stream. NextPiece is
// called from the channel's send loop; a false ok means the transmit
// window is currently exhausted (upload-side back-pressure).
type Encoder interface {
	NextPiece() (desc wire.PieceDesc, payload []byte, ok bool)
	// Reset rewinds the transmit window to the start, used when an Interest
	// arrives for a session already in flight (retransmission restart).
	Reset()
	// Merge narrows the transmit window to lost ranges plus everything
	// past maxIndex, per a received PieceControl(Continue) loss report.
	Merge(maxIndex uint32, lost []wire.IndexRange)
}

// Decoder is the receive side. PushPieceData is non-suspending and returns
// whether the chunk is now fully assembled; ChunkContent is only valid
// after PushPieceData has reported completion.
type Decoder interface {
	PushPieceData(desc wire.PieceDesc, payload []byte) (completed bool, err error)
	ChunkContent() ([]byte, error)
	// MissingRanges reports the highest index/seq observed so far and every
	// gap below it that hasn't arrived yet, the loss report a Downloading
	// session feeds into PieceControl(Continue).
	MissingRanges() (maxSeen uint32, missing []wire.IndexRange)
}
