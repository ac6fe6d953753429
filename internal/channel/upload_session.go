package channel

import (
	"sync"
	"time"

	"github.com/quantarax/ndncore/internal/fec"
	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/wire"
)

// UploadState is one of Uploading, Finished, Error.
type UploadState int

const (
	UploadUploading UploadState = iota + 1
	UploadFinished
	UploadError
)

func (s UploadState) String() string {
	switch s {
	case UploadUploading:
		return "Uploading"
	case UploadFinished:
		return "Finished"
	case UploadError:
		return "Error"
	default:
		return "Unknown"
	}
}

// UploadSession is the inverse of DownloadSession: it encodes pieces on
// demand for one requesting session id and honors control commands.
type UploadSession struct {
	mu sync.Mutex

	sessionID uint32
	chunkID   wire.ChunkID
	channel   *Channel

	state       UploadState
	errCode     ndnerr.Code
	encoder     fec.Encoder
	pendingFrom time.Time
	lastActive  time.Time

	speed *speedHistory
}

func newUploadSession(sessionID uint32, chunkID wire.ChunkID, encoder fec.Encoder, ch *Channel, now time.Time) *UploadSession {
	return &UploadSession{
		sessionID:  sessionID,
		chunkID:    chunkID,
		channel:    ch,
		state:      UploadUploading,
		encoder:    encoder,
		lastActive: now,
		speed:      newSpeedHistory(ch.config.HistorySpeedWindow, ch.config.InitialSpeedEstimate),
	}
}

func (s *UploadSession) State() UploadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnInterest refreshes last_active and, per state, resets the encoder
// (Uploading), replies with the terminal error (Error), or stays silent
// (Finished).
func (s *UploadSession) OnInterest(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	state := s.state
	errCode := s.errCode
	s.mu.Unlock()

	switch state {
	case UploadUploading:
		s.encoder.Reset()
	case UploadError:
		s.channel.sendRespInterest(wire.RespInterest{
			SessionID: s.sessionID,
			ChunkID:   s.chunkID,
			ErrCode:   errCode,
		})
	case UploadFinished:
		// silent
	}
}

// NextPiece is invoked by the channel's send loop; it delegates to the
// encoder and tracks upload-side back-pressure (a 0-byte yield means the
// transmit window is exhausted).
func (s *UploadSession) NextPiece(now time.Time) (wire.PieceDesc, []byte, bool) {
	s.mu.Lock()
	if s.state != UploadUploading {
		s.mu.Unlock()
		return wire.PieceDesc{}, nil, false
	}
	enc := s.encoder
	s.mu.Unlock()

	desc, payload, ok := enc.NextPiece()

	s.mu.Lock()
	if !ok {
		if s.pendingFrom.IsZero() {
			s.pendingFrom = now
		}
		s.mu.Unlock()
		return wire.PieceDesc{}, nil, false
	}
	s.pendingFrom = time.Time{}
	s.mu.Unlock()

	s.speed.sample(float64(len(payload)))
	return desc, payload, true
}

// OnPieceControl refreshes last_active and dispatches Finish/Cancel/
// Continue(merge).
func (s *UploadSession) OnPieceControl(pc wire.PieceControl, now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	if s.state != UploadUploading {
		s.mu.Unlock()
		return
	}

	switch pc.Command {
	case wire.CtrlFinish:
		s.state = UploadFinished
		s.mu.Unlock()
		return
	case wire.CtrlCancel:
		s.state = UploadError
		s.errCode = ndnerr.Interrupted
		s.mu.Unlock()
		return
	case wire.CtrlContinue:
		if pc.MaxIndex != nil {
			enc := s.encoder
			s.mu.Unlock()
			enc.Merge(*pc.MaxIndex, pc.LostIndex)
			return
		}
	}
	s.mu.Unlock()
}

// OnTimeEscape drives Uploading -> Error(Timeout) when the encoder has
// yielded nothing for longer than resend_timeout, and reports whether an
// Error session has outlived its 2*msl retention window.
func (s *UploadSession) OnTimeEscape(now time.Time) (shouldDrop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case UploadUploading:
		if !s.pendingFrom.IsZero() && now.Sub(s.pendingFrom) > s.channel.config.ResendTimeout {
			s.state = UploadError
			s.errCode = ndnerr.Timeout
		}
	case UploadError, UploadFinished:
		if now.Sub(s.lastActive) > 2*s.channel.config.MSL {
			return true
		}
	}
	return false
}

func (s *UploadSession) CurSpeed() float64     { return s.speed.curSpeed() }
func (s *UploadSession) HistorySpeed() float64 { return s.speed.historySpeed() }
