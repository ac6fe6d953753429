package wire

import (
	"bytes"
	"fmt"

	"github.com/quantarax/ndncore/internal/ndnerr"
)

// PieceDesc identifies a piece within a chunk: either a fixed-size range
// slice (Stream coding) or a Raptor-coded symbol keyed by its symbol
// sequence number Seq and source-block size K.
type PieceDesc struct {
	Raptor bool

	// Range fields (Raptor == false)
	Index     uint32
	RangeSize uint16

	// Raptor fields (Raptor == true)
	Seq uint32
	K   uint16
}

func writePieceDesc(buf *bytes.Buffer, d PieceDesc) {
	if d.Raptor {
		buf.WriteByte(1)
		putUint32(buf, d.Seq)
		putUint16(buf, d.K)
		return
	}
	buf.WriteByte(0)
	putUint32(buf, d.Index)
	putUint16(buf, d.RangeSize)
}

func readPieceDesc(r *bytes.Reader) (PieceDesc, error) {
	tag, err := readUint8(r)
	if err != nil {
		return PieceDesc{}, err
	}
	switch tag {
	case 0:
		idx, err := readUint32(r)
		if err != nil {
			return PieceDesc{}, err
		}
		sz, err := readUint16(r)
		if err != nil {
			return PieceDesc{}, err
		}
		return PieceDesc{Raptor: false, Index: idx, RangeSize: sz}, nil
	case 1:
		seq, err := readUint32(r)
		if err != nil {
			return PieceDesc{}, err
		}
		k, err := readUint16(r)
		if err != nil {
			return PieceDesc{}, err
		}
		return PieceDesc{Raptor: true, Seq: seq, K: k}, nil
	default:
		return PieceDesc{}, ndnerr.Wrap(ndnerr.InvalidData, "unknown piece desc tag")
	}
}

// PreferKind tags Interest.Prefer's encoding-preference union.
type PreferKind uint8

const (
	PreferUnknown PreferKind = iota
	PreferStream
	PreferRaptorA
	PreferRaptorB
)

// Prefer is the tagged enum Interest carries to request an encoding.
type Prefer struct {
	Kind PreferKind
	// RangeSize is present (flag-gated) only for PreferStream.
	RangeSize *uint16
	// K is present (flag-gated) only for PreferRaptorA/PreferRaptorB.
	K *uint16
}

// Interest: receiver -> sender, requests a chunk with a preferred encoding.
// SessionID travels in the frame body; the transport's sequence header is
// the endpoint's own per-datagram counter and does not carry it.
type Interest struct {
	SessionID uint32
	ChunkID   ChunkID
	Prefer    Prefer
	Referer   *string
}

func (m Interest) Encode() []byte {
	var fc flagCounter
	bitReferer := fc.next1()
	bitRange := fc.next1()
	bitK := fc.next1()

	var flags uint16
	if m.Referer != nil {
		flags |= bitReferer
	}
	if m.Prefer.RangeSize != nil {
		flags |= bitRange
	}
	if m.Prefer.K != nil {
		flags |= bitK
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(CmdInterest))
	putUint16(&buf, flags)
	putUint32(&buf, m.SessionID)
	writeChunkID(&buf, m.ChunkID)
	buf.WriteByte(byte(m.Prefer.Kind))
	if m.Prefer.RangeSize != nil {
		putUint16(&buf, *m.Prefer.RangeSize)
	}
	if m.Prefer.K != nil {
		putUint16(&buf, *m.Prefer.K)
	}
	if m.Referer != nil {
		writeString(&buf, *m.Referer)
	}
	return buf.Bytes()
}

func DecodeInterest(data []byte) (Interest, error) {
	r := bytes.NewReader(data)
	cmd, err := readUint8(r)
	if err != nil {
		return Interest{}, err
	}
	if Command(cmd) != CmdInterest {
		return Interest{}, ndnerr.Wrap(ndnerr.InvalidData, "not an Interest frame")
	}
	flags, err := readUint16(r)
	if err != nil {
		return Interest{}, err
	}
	var fc flagCounter
	bitReferer := fc.next1()
	bitRange := fc.next1()
	bitK := fc.next1()

	sessionID, err := readUint32(r)
	if err != nil {
		return Interest{}, err
	}
	chunkID, err := readChunkID(r)
	if err != nil {
		return Interest{}, err
	}
	kindByte, err := readUint8(r)
	if err != nil {
		return Interest{}, err
	}
	m := Interest{SessionID: sessionID, ChunkID: chunkID, Prefer: Prefer{Kind: PreferKind(kindByte)}}
	if flags&bitRange != 0 {
		v, err := readUint16(r)
		if err != nil {
			return Interest{}, err
		}
		m.Prefer.RangeSize = &v
	}
	if flags&bitK != 0 {
		v, err := readUint16(r)
		if err != nil {
			return Interest{}, err
		}
		m.Prefer.K = &v
	}
	if flags&bitReferer != 0 {
		s, err := readString(r)
		if err != nil {
			return Interest{}, err
		}
		m.Referer = &s
	}
	return m, nil
}

// RespInterest: sender -> receiver, refuses or redirects a request. A
// nonzero ErrCode cancels the matching download session. A Channel never
// emits ErrCode == Ok; a decoder that
// sees it still decodes it faithfully and leaves the "what does this mean"
// decision to the caller.
type RespInterest struct {
	SessionID       uint32
	ChunkID         ChunkID
	ErrCode         ndnerr.Code
	Redirect        *string
	RedirectReferer *string
	CacheNode       *string
}

func (m RespInterest) Encode() []byte {
	var fc flagCounter
	bitRedirect := fc.next1()
	bitRedirectReferer := fc.next1()
	bitCacheNode := fc.next1()

	var flags uint16
	if m.Redirect != nil {
		flags |= bitRedirect
	}
	if m.RedirectReferer != nil {
		flags |= bitRedirectReferer
	}
	if m.CacheNode != nil {
		flags |= bitCacheNode
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(CmdRespInterest))
	putUint16(&buf, flags)
	putUint32(&buf, m.SessionID)
	writeChunkID(&buf, m.ChunkID)
	buf.WriteByte(byte(m.ErrCode))
	if m.Redirect != nil {
		writeString(&buf, *m.Redirect)
	}
	if m.RedirectReferer != nil {
		writeString(&buf, *m.RedirectReferer)
	}
	if m.CacheNode != nil {
		writeString(&buf, *m.CacheNode)
	}
	return buf.Bytes()
}

func DecodeRespInterest(data []byte) (RespInterest, error) {
	r := bytes.NewReader(data)
	cmd, err := readUint8(r)
	if err != nil {
		return RespInterest{}, err
	}
	if Command(cmd) != CmdRespInterest {
		return RespInterest{}, ndnerr.Wrap(ndnerr.InvalidData, "not a RespInterest frame")
	}
	flags, err := readUint16(r)
	if err != nil {
		return RespInterest{}, err
	}
	var fc flagCounter
	bitRedirect := fc.next1()
	bitRedirectReferer := fc.next1()
	bitCacheNode := fc.next1()

	sessionID, err := readUint32(r)
	if err != nil {
		return RespInterest{}, err
	}
	chunkID, err := readChunkID(r)
	if err != nil {
		return RespInterest{}, err
	}
	errByte, err := readUint8(r)
	if err != nil {
		return RespInterest{}, err
	}
	m := RespInterest{SessionID: sessionID, ChunkID: chunkID, ErrCode: ndnerr.Code(errByte)}
	if flags&bitRedirect != 0 {
		s, err := readString(r)
		if err != nil {
			return RespInterest{}, err
		}
		m.Redirect = &s
	}
	if flags&bitRedirectReferer != 0 {
		s, err := readString(r)
		if err != nil {
			return RespInterest{}, err
		}
		m.RedirectReferer = &s
	}
	if flags&bitCacheNode != 0 {
		s, err := readString(r)
		if err != nil {
			return RespInterest{}, err
		}
		m.CacheNode = &s
	}
	return m, nil
}

// PieceData: sender -> receiver, one piece of chunk content. EstSeq, when
// present, is a liveness echo: the receiver must reply with a
// ChannelEstimate carrying that sequence and its bytes-received count.
type PieceData struct {
	EstSeq    *uint32
	SessionID uint32
	ChunkID   ChunkID
	Desc      PieceDesc
	Data      []byte
}

func (m PieceData) Encode() []byte {
	var fc flagCounter
	bitEst := fc.next1()

	var flags uint16
	if m.EstSeq != nil {
		flags |= bitEst
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(CmdPieceData))
	putUint16(&buf, flags)
	if m.EstSeq != nil {
		putUint32(&buf, *m.EstSeq)
	}
	putUint32(&buf, m.SessionID)
	writeChunkID(&buf, m.ChunkID)
	writePieceDesc(&buf, m.Desc)
	putUint32(&buf, uint32(len(m.Data)))
	buf.Write(m.Data)
	return buf.Bytes()
}

func DecodePieceData(data []byte) (PieceData, error) {
	r := bytes.NewReader(data)
	cmd, err := readUint8(r)
	if err != nil {
		return PieceData{}, err
	}
	if Command(cmd) != CmdPieceData {
		return PieceData{}, ndnerr.Wrap(ndnerr.InvalidData, "not a PieceData frame")
	}
	flags, err := readUint16(r)
	if err != nil {
		return PieceData{}, err
	}
	var fc flagCounter
	bitEst := fc.next1()

	m := PieceData{}
	if flags&bitEst != 0 {
		v, err := readUint32(r)
		if err != nil {
			return PieceData{}, err
		}
		m.EstSeq = &v
	}
	sessionID, err := readUint32(r)
	if err != nil {
		return PieceData{}, err
	}
	m.SessionID = sessionID
	chunkID, err := readChunkID(r)
	if err != nil {
		return PieceData{}, err
	}
	m.ChunkID = chunkID
	desc, err := readPieceDesc(r)
	if err != nil {
		return PieceData{}, err
	}
	m.Desc = desc
	n, err := readUint32(r)
	if err != nil {
		return PieceData{}, err
	}
	payload := make([]byte, n)
	if _, err := readFull(r, payload); err != nil {
		return PieceData{}, err
	}
	m.Data = payload
	return m, nil
}

// ControlCommand is PieceControl's command field.
type ControlCommand uint8

const (
	CtrlContinue ControlCommand = iota
	CtrlFinish
	CtrlPause
	CtrlCancel
)

// IndexRange is a half-open [Begin, End) range of piece indices, the unit
// PieceControl.LostIndex carries.
type IndexRange struct {
	Begin, End uint32
}

// MaxLostRangesPerPacket bounds how many ranges one PieceControl packet
// carries; larger loss reports are chunked into multiple packets that
// repeat the header through the command byte.
const MaxLostRangesPerPacket = 125

// PieceControl: receiver -> sender, continue/finish/pause/cancel plus loss
// report. Sequence is drawn from the channel-wide monotonic counter.
type PieceControl struct {
	Sequence  uint32
	SessionID uint32
	ChunkID   ChunkID
	Command   ControlCommand
	MaxIndex  *uint32
	LostIndex []IndexRange
}

func (m PieceControl) Encode() []byte {
	var fc flagCounter
	bitMaxIndex := fc.next1()
	bitLost := fc.next1()

	var flags uint16
	if m.MaxIndex != nil {
		flags |= bitMaxIndex
	}
	if len(m.LostIndex) > 0 {
		flags |= bitLost
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(CmdPieceControl))
	putUint16(&buf, flags)
	putUint32(&buf, m.Sequence)
	putUint32(&buf, m.SessionID)
	writeChunkID(&buf, m.ChunkID)
	buf.WriteByte(byte(m.Command))
	if m.MaxIndex != nil {
		putUint32(&buf, *m.MaxIndex)
	}
	if len(m.LostIndex) > 0 {
		putUint16(&buf, uint16(len(m.LostIndex)))
		for _, rg := range m.LostIndex {
			putUint32(&buf, rg.Begin)
			putUint32(&buf, rg.End)
		}
	}
	return buf.Bytes()
}

// EncodeBatches splits LostIndex into MaxLostRangesPerPacket-sized packets,
// each repeating the header up through the command byte, so large loss
// reports still fit within one frame per packet.
func (m PieceControl) EncodeBatches() [][]byte {
	if len(m.LostIndex) <= MaxLostRangesPerPacket {
		return [][]byte{m.Encode()}
	}
	var out [][]byte
	for start := 0; start < len(m.LostIndex); start += MaxLostRangesPerPacket {
		end := start + MaxLostRangesPerPacket
		if end > len(m.LostIndex) {
			end = len(m.LostIndex)
		}
		batch := m
		batch.LostIndex = m.LostIndex[start:end]
		out = append(out, batch.Encode())
	}
	return out
}

func DecodePieceControl(data []byte) (PieceControl, error) {
	r := bytes.NewReader(data)
	cmd, err := readUint8(r)
	if err != nil {
		return PieceControl{}, err
	}
	if Command(cmd) != CmdPieceControl {
		return PieceControl{}, ndnerr.Wrap(ndnerr.InvalidData, "not a PieceControl frame")
	}
	flags, err := readUint16(r)
	if err != nil {
		return PieceControl{}, err
	}
	var fc flagCounter
	bitMaxIndex := fc.next1()
	bitLost := fc.next1()

	sequence, err := readUint32(r)
	if err != nil {
		return PieceControl{}, err
	}
	sessionID, err := readUint32(r)
	if err != nil {
		return PieceControl{}, err
	}
	chunkID, err := readChunkID(r)
	if err != nil {
		return PieceControl{}, err
	}
	cmdByte, err := readUint8(r)
	if err != nil {
		return PieceControl{}, err
	}
	m := PieceControl{Sequence: sequence, SessionID: sessionID, ChunkID: chunkID, Command: ControlCommand(cmdByte)}
	if flags&bitMaxIndex != 0 {
		v, err := readUint32(r)
		if err != nil {
			return PieceControl{}, err
		}
		m.MaxIndex = &v
	}
	if flags&bitLost != 0 {
		n, err := readUint16(r)
		if err != nil {
			return PieceControl{}, err
		}
		ranges := make([]IndexRange, n)
		for i := range ranges {
			begin, err := readUint32(r)
			if err != nil {
				return PieceControl{}, err
			}
			end, err := readUint32(r)
			if err != nil {
				return PieceControl{}, err
			}
			ranges[i] = IndexRange{Begin: begin, End: end}
		}
		m.LostIndex = ranges
	}
	return m, nil
}

// ChannelEstimate: bidirectional liveness/receive-count probe, echoing a
// previously-seen EstSeq.
type ChannelEstimate struct {
	Sequence uint32
	Recved   uint64
}

func (m ChannelEstimate) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(CmdEstimate))
	putUint16(&buf, 0)
	putUint32(&buf, m.Sequence)
	putUint64(&buf, m.Recved)
	return buf.Bytes()
}

func DecodeChannelEstimate(data []byte) (ChannelEstimate, error) {
	r := bytes.NewReader(data)
	cmd, err := readUint8(r)
	if err != nil {
		return ChannelEstimate{}, err
	}
	if Command(cmd) != CmdEstimate {
		return ChannelEstimate{}, ndnerr.Wrap(ndnerr.InvalidData, "not a ChannelEstimate frame")
	}
	if _, err := readUint16(r); err != nil {
		return ChannelEstimate{}, err
	}
	seq, err := readUint32(r)
	if err != nil {
		return ChannelEstimate{}, err
	}
	recved, err := readUint64(r)
	if err != nil {
		return ChannelEstimate{}, err
	}
	return ChannelEstimate{Sequence: seq, Recved: recved}, nil
}

// PeekCommand reads the first byte of a frame without fully decoding it,
// for Channel.Dispatch to route by command code.
func PeekCommand(data []byte) (Command, error) {
	if len(data) == 0 {
		return 0, ErrTruncated
	}
	return Command(data[0]), nil
}

// Decode dispatches a raw datagram to the matching message decoder by its
// leading command byte, returning one of Interest, RespInterest, PieceData,
// PieceControl or ChannelEstimate as `any`.
func Decode(data []byte) (any, error) {
	cmd, err := PeekCommand(data)
	if err != nil {
		return nil, err
	}
	switch cmd {
	case CmdInterest:
		return DecodeInterest(data)
	case CmdRespInterest:
		return DecodeRespInterest(data)
	case CmdPieceData:
		return DecodePieceData(data)
	case CmdPieceControl:
		return DecodePieceControl(data)
	case CmdEstimate:
		return DecodeChannelEstimate(data)
	default:
		return nil, fmt.Errorf("%w: %w", errUnknownFrame, ndnerr.Wrap(ndnerr.InvalidData, fmt.Sprintf("command byte %d", cmd)))
	}
}
