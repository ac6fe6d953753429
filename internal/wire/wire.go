// Package wire implements the NDN chunk-transfer binary framing: a 1-byte
// command code, a 2-byte flags bitfield, mandatory fields in fixed order,
// then optional fields gated by their flag bit. Every message is raw binary
// fields so it stays bit-exact and MTU-bounded for the unreliable datagram
// transport below it.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quantarax/ndncore/internal/ndnerr"
)

// Command identifies the first byte of a channel-level frame.
type Command uint8

const (
	CmdInterest     Command = 0
	CmdRespInterest Command = 1
	CmdPieceData    Command = 2
	CmdPieceControl Command = 3
	CmdEstimate     Command = 4
)

// ErrTruncated is returned by a decoder that runs out of bytes before a
// mandatory or flagged field is fully read; it must never be confused with
// a successfully decoded partial value.
var ErrTruncated = ndnerr.Wrap(ndnerr.InvalidData, "truncated frame")

// flagCounter yields 1<<i on each call, in declaration order. Encoder and
// decoder must call it for the same fields in the same order so bit i
// always means "the i-th optional field as declared".
type flagCounter struct{ next uint }

func (f *flagCounter) next1() uint16 {
	bit := uint16(1) << f.next
	f.next++
	return bit
}

// ChunkID identifies content by hash and length. The hash is opaque to the
// wire codec; callers pick the digest, and this core wires BLAKE3.
type ChunkID struct {
	Hash   []byte
	Length uint64
}

func (c ChunkID) Equal(o ChunkID) bool {
	return c.Length == o.Length && bytes.Equal(c.Hash, o.Hash)
}

func (c ChunkID) String() string {
	return fmt.Sprintf("%x:%d", c.Hash, c.Length)
}

func writeChunkID(buf *bytes.Buffer, id ChunkID) {
	var lenHash [2]byte
	binary.BigEndian.PutUint16(lenHash[:], uint16(len(id.Hash)))
	buf.Write(lenHash[:])
	buf.Write(id.Hash)
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], id.Length)
	buf.Write(length[:])
}

func readChunkID(r *bytes.Reader) (ChunkID, error) {
	var lenHash [2]byte
	if _, err := readFull(r, lenHash[:]); err != nil {
		return ChunkID{}, err
	}
	hash := make([]byte, binary.BigEndian.Uint16(lenHash[:]))
	if _, err := readFull(r, hash); err != nil {
		return ChunkID{}, err
	}
	var length [8]byte
	if _, err := readFull(r, length[:]); err != nil {
		return ChunkID{}, err
	}
	return ChunkID{Hash: hash, Length: binary.BigEndian.Uint64(length[:])}, nil
}

func readFull(r *bytes.Reader, p []byte) (int, error) {
	n, err := r.Read(p)
	if err != nil || n != len(p) {
		return n, ErrTruncated
	}
	return n, nil
}

func readUint8(r *bytes.Reader) (uint8, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, ErrTruncated
	}
	return b, nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func putUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// writeString writes a length-prefixed (uint16) UTF-8 string.
func writeString(buf *bytes.Buffer, s string) {
	putUint16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

var errUnknownFrame = errors.New("wire: unrecognized command byte")
