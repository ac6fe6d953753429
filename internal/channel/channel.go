// Package channel implements the per-remote-peer multiplexer and the
// DownloadSession/UploadSession state machines it owns.
package channel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantarax/ndncore/internal/chunk"
	"github.com/quantarax/ndncore/internal/fec"
	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/observability"
	"github.com/quantarax/ndncore/internal/ratelimit"
	"github.com/quantarax/ndncore/internal/transport"
	"github.com/quantarax/ndncore/internal/wire"
)

// EncoderFactory builds an Encoder for a chunk an inbound Interest names,
// the narrow contract through which a Channel reaches ChunkCache's
// create_encoder without depending on the manager package.
type EncoderFactory func(chunkID wire.ChunkID) (fec.Encoder, error)

type downloadKey struct {
	chunkID string
	source  string
}

// Channel multiplexes one remote peer: it owns the authoritative session
// tables, frames and sends wire packets, and issues command sequence
// numbers.
type Channel struct {
	remoteDeviceID string
	config         Config
	endpoint       transport.DatagramEndpoint
	encoderFactory EncoderFactory
	pieceSize      int
	log            *observability.Logger
	metrics        *observability.Metrics

	seqCounter    uint32
	nextSessionID uint32
	recvedBytes   atomic.Uint64

	mu               sync.Mutex
	downloads        map[downloadKey]*DownloadSession
	downloadsBySeq   map[uint32]*DownloadSession
	uploads          map[uint32]*UploadSession
	dead             bool
	pendingEstimates map[uint32]time.Time
	lastRTT          time.Duration
	lastEstimateAt   time.Time

	sendLimiter *ratelimit.TokenBucket
}

// New constructs a Channel bound to one remote peer's datagram endpoint.
func New(remoteDeviceID string, cfg Config, endpoint transport.DatagramEndpoint, pieceSize int, encoderFactory EncoderFactory, log *observability.Logger, metrics *observability.Metrics) *Channel {
	c := &Channel{
		remoteDeviceID:   remoteDeviceID,
		config:           cfg,
		endpoint:         endpoint,
		encoderFactory:   encoderFactory,
		pieceSize:        pieceSize,
		log:              log,
		metrics:          metrics,
		downloads:        make(map[downloadKey]*DownloadSession),
		downloadsBySeq:   make(map[uint32]*DownloadSession),
		uploads:          make(map[uint32]*UploadSession),
		pendingEstimates: make(map[uint32]time.Time),
	}
	if cfg.SendRateLimit > 0 {
		c.sendLimiter = ratelimit.NewTokenBucket(cfg.SendRateLimit, cfg.SendBurst)
	}
	endpoint.SetInboundHandler(func(_ transport.DatagramOptions, payload []byte) {
		c.Dispatch(payload)
	})
	return c
}

// nextCommandSeq draws the next value from the channel-wide monotonic
// counter backing PieceControl.Sequence.
func (c *Channel) nextCommandSeq() uint32 {
	return atomic.AddUint32(&c.seqCounter, 1)
}

func (c *Channel) allocSessionID() uint32 {
	return atomic.AddUint32(&c.nextSessionID, 1)
}

// ClearDead marks the channel live again, used before (re)issuing
// Interests on a previously-quiesced channel.
func (c *Channel) ClearDead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = false
}

func (c *Channel) isDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// Download creates or returns the DownloadSession keyed by (chunk_id,
// source); a second call with the same key returns the existing session
// rather than starting a duplicate (core invariant 1), unless that session
// has already reached a terminal state, in which case a fresh one replaces
// it so a redirect loop or a retry after Finished/Canceled can proceed.
func (c *Channel) Download(chunkID wire.ChunkID, source string, prefer wire.Prefer, referer *string, cache *chunk.StreamCache) *DownloadSession {
	key := downloadKey{chunkID: chunkID.String(), source: source}

	c.mu.Lock()
	if existing, ok := c.downloads[key]; ok && !existing.State().terminal() {
		c.mu.Unlock()
		return existing
	}
	sessionID := c.allocSessionID()
	session := newDownloadSession(sessionID, chunkID, prefer, referer, c.pieceSize, c, cache)
	c.downloads[key] = session
	c.downloadsBySeq[sessionID] = session
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordDownloadStart()
	}
	session.Start(time.Now())
	return session
}

// sendInterest sends a request; used by DownloadSession on start/resend.
func (c *Channel) sendInterest(in wire.Interest, resend bool) {
	if c.log != nil {
		c.log.InterestSent(in.SessionID, in.ChunkID.String(), resend)
	}
	c.send(in.Encode())
}

// sendRespInterest refuses an inbound request.
func (c *Channel) sendRespInterest(resp wire.RespInterest) {
	c.send(resp.Encode())
}

// sendPieceControl issues a flow command; sequence is drawn from the
// channel-wide counter.
func (c *Channel) sendPieceControl(pc wire.PieceControl) {
	pc.Sequence = c.nextCommandSeq()
	for _, frame := range pc.EncodeBatches() {
		c.send(frame)
	}
}

// PieceControlFor is a small constructor helper so DownloadSession doesn't
// need to import wire's zero-value boilerplate at every call site.
func PieceControlFor(sessionID uint32, chunkID wire.ChunkID, cmd wire.ControlCommand, maxIndex *uint32, lost []wire.IndexRange) wire.PieceControl {
	return wire.PieceControl{
		SessionID: sessionID,
		ChunkID:   chunkID,
		Command:   cmd,
		MaxIndex:  maxIndex,
		LostIndex: lost,
	}
}

func (c *Channel) send(frame []byte) {
	if err := c.endpoint.SendRawData(frame); err != nil {
		c.mu.Lock()
		c.dead = true
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.DatagramSendFailures.Inc()
		}
		c.cancelAllWith(ndnerr.New(ndnerr.ConnectFailed))
	}
}

func (c *Channel) cancelAllWith(err error) {
	now := time.Now()
	c.mu.Lock()
	downloads := make([]*DownloadSession, 0, len(c.downloadsBySeq))
	for _, d := range c.downloadsBySeq {
		downloads = append(downloads, d)
	}
	c.mu.Unlock()
	for _, d := range downloads {
		d.CancelByError(err, now)
	}
}

// Dispatch routes one inbound frame by command code and session id to the
// owning session. Packets for unknown sessions are dropped,
// except an Interest with no matching upload session spawns a new one via
// the EncoderFactory.
func (c *Channel) Dispatch(frame []byte) {
	now := time.Now()
	msg, err := wire.Decode(frame)
	if err != nil {
		return
	}

	switch m := msg.(type) {
	case wire.Interest:
		c.dispatchInterest(m, now)
	case wire.RespInterest:
		c.mu.Lock()
		d, ok := c.downloadsBySeq[m.SessionID]
		c.mu.Unlock()
		if ok {
			d.OnRespInterest(m, now)
		}
	case wire.PieceData:
		c.mu.Lock()
		d, ok := c.downloadsBySeq[m.SessionID]
		c.mu.Unlock()
		if !ok {
			return
		}
		c.recvedBytes.Add(uint64(len(m.Data)))
		if c.metrics != nil {
			c.metrics.RecordPieceReceived(len(m.Data))
		}
		d.PushPieceData(m.Desc, m.Data, now)
		if m.EstSeq != nil {
			c.replyEstimate(*m.EstSeq)
		}
	case wire.PieceControl:
		c.mu.Lock()
		u, ok := c.uploads[m.SessionID]
		c.mu.Unlock()
		if ok {
			u.OnPieceControl(m, now)
		}
	case wire.ChannelEstimate:
		c.onChannelEstimate(m, now)
	}
}

func (c *Channel) dispatchInterest(in wire.Interest, now time.Time) {
	c.mu.Lock()
	u, ok := c.uploads[in.SessionID]
	c.mu.Unlock()
	if ok {
		u.OnInterest(now)
		return
	}
	if c.encoderFactory == nil {
		return
	}
	enc, err := c.encoderFactory(in.ChunkID)
	if err != nil {
		c.sendRespInterest(wire.RespInterest{SessionID: in.SessionID, ChunkID: in.ChunkID, ErrCode: ndnerr.CodeOf(err)})
		return
	}
	session := newUploadSession(in.SessionID, in.ChunkID, enc, c, now)
	c.mu.Lock()
	c.uploads[in.SessionID] = session
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordUploadStart()
	}
}

// replyEstimate answers a PieceData.est_seq liveness echo with a
// ChannelEstimate carrying that sequence and the PieceData bytes this
// channel has received so far (SUPPLEMENTED feature).
func (c *Channel) replyEstimate(seq uint32) {
	c.send(wire.ChannelEstimate{Sequence: seq, Recved: c.recvedBytes.Load()}.Encode())
}

// recordEstimateSent records a liveness probe that this channel itself
// initiated, for its own est.Sequence bookkeeping (the peer calls
// replyEstimate when it receives our est_seq-tagged PieceData).
func (c *Channel) recordEstimateSent(seq uint32, now time.Time) {
	c.mu.Lock()
	c.pendingEstimates[seq] = now
	c.mu.Unlock()
}

func (c *Channel) onChannelEstimate(m wire.ChannelEstimate, now time.Time) {
	c.mu.Lock()
	sentAt, ok := c.pendingEstimates[m.Sequence]
	if ok {
		delete(c.pendingEstimates, m.Sequence)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	rtt := now.Sub(sentAt)
	c.mu.Lock()
	c.lastRTT = rtt
	c.lastEstimateAt = now
	c.mu.Unlock()
	if c.log != nil {
		c.log.ChannelLivenessProbe(c.remoteDeviceID, m.Sequence, rtt)
	}
	if c.metrics != nil {
		c.metrics.ChannelEstimateRTT.Observe(rtt.Seconds())
	}
}

// EstimateRTT returns the most recently observed channel liveness
// round-trip time (SUPPLEMENTED feature).
func (c *Channel) EstimateRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRTT
}

// TickTimeEscape drives on_time_escape for every live session; the caller
// must invoke this at an interval <= resend_interval/4.
func (c *Channel) TickTimeEscape(now time.Time) {
	c.mu.Lock()
	downloads := make([]*DownloadSession, 0, len(c.downloadsBySeq))
	for _, d := range c.downloadsBySeq {
		downloads = append(downloads, d)
	}
	uploads := make(map[uint32]*UploadSession, len(c.uploads))
	for k, u := range c.uploads {
		uploads[k] = u
	}
	c.mu.Unlock()

	var dropDownloads []*DownloadSession
	for _, d := range downloads {
		if d.OnTimeEscape(now) {
			dropDownloads = append(dropDownloads, d)
		}
	}
	if len(dropDownloads) > 0 {
		c.mu.Lock()
		for _, d := range dropDownloads {
			delete(c.downloadsBySeq, d.SessionID())
			for k, v := range c.downloads {
				if v == d {
					delete(c.downloads, k)
					break
				}
			}
		}
		c.mu.Unlock()
		if c.metrics != nil {
			for _, d := range dropDownloads {
				state, duration := d.TerminalInfo(now)
				c.metrics.RecordDownloadTerminal(state, duration)
			}
		}
	}

	var drop []uint32
	for id, u := range uploads {
		if u.OnTimeEscape(now) {
			drop = append(drop, id)
		}
	}
	if len(drop) > 0 {
		c.mu.Lock()
		for _, id := range drop {
			delete(c.uploads, id)
		}
		c.mu.Unlock()
		if c.metrics != nil {
			for range drop {
				c.metrics.RecordUploadTerminal()
			}
		}
	}
}

// Sweep closes terminal sessions past their retention window; it is driven
// by the same ticker that drives TickTimeEscape (SUPPLEMENTED feature).
func (c *Channel) Sweep(now time.Time) {
	c.TickTimeEscape(now)
}

// ActiveUploadSessionIDs returns the session ids of every upload this
// channel currently tracks, so an external scheduler can drive PumpUpload
// for each without knowing the protocol's internal session bookkeeping.
func (c *Channel) ActiveUploadSessionIDs() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.uploads))
	for id := range c.uploads {
		ids = append(ids, id)
	}
	return ids
}

// estimateProbeInterval is how often an outgoing PieceData carries an
// est_seq liveness tag (SUPPLEMENTED feature: "every ~16 pieces").
const estimateProbeInterval = 16

// PumpUpload draws the next piece from the named upload session and sends
// it, tagging roughly every 16th piece with a liveness probe sequence. It
// returns false when the session has nothing to send right now.
func (c *Channel) PumpUpload(sessionID uint32, now time.Time) bool {
	c.mu.Lock()
	u, ok := c.uploads[sessionID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if c.sendLimiter != nil && !c.sendLimiter.Allow(c.pieceSize) {
		return false
	}

	desc, payload, ok := u.NextPiece(now)
	if !ok {
		return false
	}

	piece := wire.PieceData{
		SessionID: sessionID,
		ChunkID:   u.chunkID,
		Desc:      desc,
		Data:      payload,
	}
	if c.nextCommandSeq()%estimateProbeInterval == 0 {
		seq := c.nextCommandSeq()
		piece.EstSeq = &seq
		c.recordEstimateSent(seq, now)
	}

	c.send(piece.Encode())
	if c.metrics != nil {
		c.metrics.RecordPieceSent(len(payload))
	}
	return true
}
