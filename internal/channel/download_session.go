package channel

import (
	"context"
	"sync"
	"time"

	"github.com/quantarax/ndncore/internal/chunk"
	"github.com/quantarax/ndncore/internal/fec"
	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/wire"
)

// DownloadState is one of Init, Interesting, Downloading, Finished,
// Canceled. It only ever moves forward: once Finished or
// Canceled it never re-enters any earlier state.
type DownloadState int

const (
	DownloadInit DownloadState = iota + 1
	DownloadInteresting
	DownloadDownloading
	DownloadFinished
	DownloadCanceled
)

func (s DownloadState) String() string {
	switch s {
	case DownloadInit:
		return "Init"
	case DownloadInteresting:
		return "Interesting"
	case DownloadDownloading:
		return "Downloading"
	case DownloadFinished:
		return "Finished"
	case DownloadCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

func (s DownloadState) terminal() bool {
	return s == DownloadFinished || s == DownloadCanceled
}

// raptorDefaultR is the fixed parity-shard count a Raptor-prefer download
// assumes when building its decoder: PieceDesc.Raptor carries only (seq,
// k), not the total shard count, and leaves the coding library
// as an external dependency. Peers on both sides of this implementation
// share AdaptivePolicy's default R (see DESIGN.md's Open Question note).
const raptorDefaultR = fec.DefaultParityShards

// DownloadSession is the per-(chunk, source) download state machine.
type DownloadSession struct {
	mu sync.Mutex

	sessionID uint32
	chunkID   wire.ChunkID
	prefer    wire.Prefer
	referer   *string
	pieceSize int

	channel *Channel

	state   DownloadState
	decoder fec.Decoder
	cache   *chunk.StreamCache

	startSendTime   time.Time
	lastSendTime    time.Time
	sendCtrlTime    time.Time
	continueSentAt  time.Time
	finishedAt      time.Time
	bytesSinceSpeed float64

	err error

	redirect        *string
	redirectReferer *string

	waiters []chan struct{}
	speed   *speedHistory
}

func newDownloadSession(sessionID uint32, chunkID wire.ChunkID, prefer wire.Prefer, referer *string, pieceSize int, ch *Channel, cache *chunk.StreamCache) *DownloadSession {
	return &DownloadSession{
		sessionID: sessionID,
		chunkID:   chunkID,
		prefer:    prefer,
		referer:   referer,
		pieceSize: pieceSize,
		channel:   ch,
		state:     DownloadInit,
		cache:     cache,
		speed:     newSpeedHistory(ch.config.HistorySpeedWindow, ch.config.InitialSpeedEstimate),
	}
}

// State returns the current state under lock.
func (s *DownloadSession) State() DownloadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves Init -> Interesting and emits the first Interest.
func (s *DownloadSession) Start(now time.Time) {
	s.mu.Lock()
	if s.state != DownloadInit {
		s.mu.Unlock()
		return
	}
	s.state = DownloadInteresting
	s.startSendTime = now
	s.lastSendTime = now
	s.mu.Unlock()

	s.channel.sendInterest(wire.Interest{
		SessionID: s.sessionID,
		ChunkID:   s.chunkID,
		Prefer:    s.prefer,
		Referer:   s.referer,
	}, false)
}

// PushPieceData feeds one decoded piece into the session's decoder,
// instantiating the decoder on the first piece if still Interesting.
func (s *DownloadSession) PushPieceData(desc wire.PieceDesc, payload []byte, now time.Time) {
	s.mu.Lock()
	switch s.state {
	case DownloadInteresting:
		s.decoder = newDecoderFor(desc, s.chunkID, s.pieceSize)
		s.state = DownloadDownloading
		s.continueSentAt = now
	case DownloadFinished, DownloadCanceled:
		s.maybeResendTerminalLocked(now)
		s.mu.Unlock()
		return
	case DownloadInit:
		s.mu.Unlock()
		return
	}
	dec := s.decoder
	s.mu.Unlock()

	if dec == nil {
		return
	}
	completed, err := dec.PushPieceData(desc, payload)
	if err != nil {
		s.CancelByError(err, now)
		return
	}
	s.mu.Lock()
	s.bytesSinceSpeed += float64(len(payload))
	s.mu.Unlock()

	if !completed {
		return
	}

	content, err := dec.ChunkContent()
	if err != nil {
		s.CancelByError(err, now)
		return
	}
	s.cache.PushContent(content)

	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = DownloadFinished
	s.sendCtrlTime = now
	s.finishedAt = now
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	wakeAll(waiters)
	s.channel.sendPieceControl(PieceControlFor(s.sessionID, s.chunkID, wire.CtrlFinish, nil, nil))
}

func newDecoderFor(desc wire.PieceDesc, chunkID wire.ChunkID, pieceSize int) fec.Decoder {
	if desc.Raptor {
		return fec.NewRaptorDecoder(chunkID.Length, int(desc.K), raptorDefaultR)
	}
	return fec.NewStreamDecoder(chunkID.Length, pieceSize)
}

// OnRespInterest cancels the session if the response carries a non-Ok
// error code (any non-terminal state -> Canceled(err)). A Redirect is
// recorded regardless of ErrCode so a ChunkDownloader can retry against
// the new source after the session reaches Canceled.
func (s *DownloadSession) OnRespInterest(resp wire.RespInterest, now time.Time) {
	if resp.Redirect != nil {
		s.mu.Lock()
		s.redirect = resp.Redirect
		s.redirectReferer = resp.RedirectReferer
		s.mu.Unlock()
	}
	if resp.ErrCode == ndnerr.Ok {
		return
	}
	s.CancelByError(ndnerr.New(resp.ErrCode), now)
}

// Redirect returns the new-peer/new-referer pair the remote last offered,
// or (nil, nil) if none was ever observed.
func (s *DownloadSession) Redirect() (target, referer *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirect, s.redirectReferer
}

// OnTimeEscape drives resend/timeout transitions, the Downloading loss-report
// path, and post-terminal reminders; called periodically at interval <=
// resend_interval/4. It reports whether the session has outlived its
// retention window and should be dropped from the owning channel's tables.
func (s *DownloadSession) OnTimeEscape(now time.Time) (shouldDrop bool) {
	s.mu.Lock()
	switch s.state {
	case DownloadInteresting:
		cfg := s.channel.config
		if now.Sub(s.startSendTime) > cfg.ResendTimeout {
			s.state = DownloadCanceled
			s.err = ndnerr.New(ndnerr.Timeout)
			s.finishedAt = now
			waiters := s.waiters
			s.waiters = nil
			s.mu.Unlock()
			wakeAll(waiters)
			return false
		}
		if now.Sub(s.lastSendTime) > cfg.ResendInterval {
			s.lastSendTime = now
			prefer, referer, sessionID, chunkID := s.prefer, s.referer, s.sessionID, s.chunkID
			s.mu.Unlock()
			s.channel.sendInterest(wire.Interest{SessionID: sessionID, ChunkID: chunkID, Prefer: prefer, Referer: referer}, true)
			return false
		}
	case DownloadDownloading:
		cfg := s.channel.config
		if now.Sub(s.continueSentAt) > cfg.ResendInterval {
			s.continueSentAt = now
			dec := s.decoder
			sessionID, chunkID := s.sessionID, s.chunkID
			s.mu.Unlock()
			if dec != nil {
				maxSeen, missing := dec.MissingRanges()
				if len(missing) > 0 {
					s.channel.sendPieceControl(PieceControlFor(sessionID, chunkID, wire.CtrlContinue, &maxSeen, missing))
				}
			}
			return false
		}
	case DownloadFinished, DownloadCanceled:
		if now.Sub(s.finishedAt) > 2*s.channel.config.MSL {
			s.mu.Unlock()
			return true
		}
	}
	s.mu.Unlock()
	return false
}

func (s *DownloadSession) maybeResendTerminalLocked(now time.Time) {
	cfg := s.channel.config
	if now.Sub(s.sendCtrlTime) < cfg.ResendInterval {
		return
	}
	s.sendCtrlTime = now
	cmd := wire.CtrlFinish
	if s.state == DownloadCanceled {
		cmd = wire.CtrlCancel
	}
	sessionID, chunkID := s.sessionID, s.chunkID
	go s.channel.sendPieceControl(PieceControlFor(sessionID, chunkID, cmd, nil, nil))
}

// CancelByError is idempotent: the first call replaces any non-terminal
// state with Canceled(err) and wakes waiters; later calls are no-ops, so
// the session stays Canceled with the first error.
func (s *DownloadSession) CancelByError(err error, now time.Time) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = DownloadCanceled
	s.err = err
	s.sendCtrlTime = time.Time{} // zero time: next piece triggers immediate Cancel reply
	s.finishedAt = now
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	wakeAll(waiters)
}

// WaitFinish suspends until the session reaches Finished or Canceled, or
// ctx is done. The returned error is nil for Finished, or the Canceled
// session's original error (preserved bit-exact from the wire).
func (s *DownloadSession) WaitFinish(ctx context.Context) (DownloadState, error) {
	s.mu.Lock()
	if s.state.terminal() {
		state, err := s.state, s.err
		s.mu.Unlock()
		return state, err
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		s.mu.Lock()
		state, err := s.state, s.err
		s.mu.Unlock()
		return state, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// CalcSpeed samples whatever the live byte counter has accumulated since the
// last call (Downloading only; other states feed zero) into the
// history-speed ring, then resets the counter for the next period.
func (s *DownloadSession) CalcSpeed(now time.Time) {
	s.mu.Lock()
	state := s.state
	var v float64
	if state == DownloadDownloading {
		v = s.bytesSinceSpeed
		s.bytesSinceSpeed = 0
	}
	s.mu.Unlock()
	s.speed.sample(v)
}

func (s *DownloadSession) CurSpeed() float64     { return s.speed.curSpeed() }
func (s *DownloadSession) HistorySpeed() float64 { return s.speed.historySpeed() }

// Err returns the terminal error recorded on a Canceled session, or nil
// for any other state (including Finished).
func (s *DownloadSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ChunkID returns the identity this session was created for.
func (s *DownloadSession) ChunkID() wire.ChunkID { return s.chunkID }

// SessionID returns the wire session id this download was assigned.
func (s *DownloadSession) SessionID() uint32 { return s.sessionID }

// TerminalInfo returns the terminal state's name and how long the download
// ran for, for metrics recorded when a swept session is retired.
func (s *DownloadSession) TerminalInfo(now time.Time) (state string, durationSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String(), s.finishedAt.Sub(s.startSendTime).Seconds()
}

func wakeAll(chans []chan struct{}) {
	for _, ch := range chans {
		close(ch)
	}
}
