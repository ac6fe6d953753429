// Package download implements ChunkDownloader, the demand aggregator that
// sits above one or more Channel DownloadSessions for a single chunk
//: source selection, redirect chaining, and per-source
// exclusion on cancellation.
package download

import (
	"errors"
	"sync"
	"time"

	"github.com/quantarax/ndncore/internal/channel"
	"github.com/quantarax/ndncore/internal/chunk"
	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/wire"
)

// ErrTooManyRedirects is returned by OnDrain when a chunk has bounced
// through more than maxRedirectHops RespInterest.redirect hops.
var ErrTooManyRedirects = errors.New("download: too many redirect hops")

const maxRedirectHops = 4
const defaultExclusionTTL = 30 * time.Second

// Source names one candidate peer a ChunkDownloader may fetch from, with
// the referer of the latest redirect hop that led to it; each hop replaces
// Referer rather than appending to a chain of earlier referers.
type Source struct {
	DeviceID string
	Referer  *string
}

// ChannelProvider materializes or reuses the Channel to one remote device;
// the seam ChunkDownloader uses instead of owning connection setup itself.
type ChannelProvider func(deviceID string) (*channel.Channel, error)

// ChunkDownloader is the per-(chunk, mergability class) demand aggregator:
// at most one non-terminal DownloadSession at a time, pumped by an
// external scheduler's on_drain calls.
type ChunkDownloader struct {
	mu sync.Mutex

	chunkID    wire.ChunkID
	mergable   bool
	pieceSize  int
	cache      *chunk.StreamCache
	channelFor ChannelProvider

	sources []Source
	cursor  int

	excluded     map[string]time.Time
	exclusionTTL time.Duration
	redirectHops int

	session       *channel.DownloadSession
	sessionSource string

	loaded bool
}

// NewChunkDownloader builds a downloader for chunkID, checking wait_loaded
// up front: an already-complete cache moves straight to the Finished-like
// "loaded" state and never emits an Interest.
func NewChunkDownloader(chunkID wire.ChunkID, mergable bool, pieceSize int, cache *chunk.StreamCache, sources []Source, channelFor ChannelProvider) *ChunkDownloader {
	return &ChunkDownloader{
		chunkID:      chunkID,
		mergable:     mergable,
		pieceSize:    pieceSize,
		cache:        cache,
		channelFor:   channelFor,
		sources:      append([]Source(nil), sources...),
		excluded:     make(map[string]time.Time),
		exclusionTTL: defaultExclusionTTL,
		loaded:       cache.WaitLoaded(),
	}
}

// Mergable reports whether this downloader may be shared across multiple
// demanders of the same chunk (ChunkManager keeps at most one mergable
// downloader per chunk, and an unbounded list of unmergable ones).
func (d *ChunkDownloader) Mergable() bool { return d.mergable }

// ChunkID returns the identity this downloader was created for.
func (d *ChunkDownloader) ChunkID() wire.ChunkID { return d.chunkID }

// SetSources replaces the configured candidate list; a source removed here
// that backs the active session causes the next OnDrain to cancel it with
// UserCanceled.
func (d *ChunkDownloader) SetSources(sources []Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources = append([]Source(nil), sources...)
	d.cursor = 0
}

// Session returns the most recently started DownloadSession, or nil if
// none has been started (for example, when the chunk was already loaded
// at construction).
func (d *ChunkDownloader) Session() *channel.DownloadSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// OnDrain is the external scheduler's pump: it returns the
// achieved speed of whatever session is active, starting, redirecting, or
// retiring one as needed.
func (d *ChunkDownloader) OnDrain(now time.Time) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return 0, nil
	}
	if d.cache.WaitLoaded() {
		d.loaded = true
		return 0, nil
	}

	if d.session != nil {
		switch d.session.State() {
		case channel.DownloadFinished:
			d.loaded = true
			return 0, nil
		case channel.DownloadCanceled:
			if err := d.handleCanceledLocked(now); err != nil {
				return 0, err
			}
		default:
			if d.sourceConfiguredLocked(d.sessionSource) {
				return d.session.CurSpeed(), nil
			}
			sess := d.session
			d.session = nil
			sess.CancelByError(ndnerr.New(ndnerr.UserCanceled), now)
		}
	}

	src, ok := d.popSourceLocked(now)
	if !ok {
		return 0, nil
	}
	return d.startSessionLocked(src, now)
}

// handleCanceledLocked inspects why the just-terminated session ended:
// a redirect is followed (bounded at maxRedirectHops), otherwise the
// source is excluded for exclusionTTL when the cause was UserCanceled or
// Timeout.
func (d *ChunkDownloader) handleCanceledLocked(now time.Time) error {
	sess := d.session
	src := d.sessionSource
	d.session = nil

	if target, redirectReferer := sess.Redirect(); target != nil {
		if d.redirectHops >= maxRedirectHops {
			return ErrTooManyRedirects
		}
		d.redirectHops++
		referer := redirectReferer
		if referer == nil {
			referer = &src
		}
		next := Source{DeviceID: *target, Referer: referer}
		d.sources = append(d.sources[:d.cursor], append([]Source{next}, d.sources[d.cursor:]...)...)
		return nil
	}

	code := ndnerr.CodeOf(sess.Err())
	if code == ndnerr.UserCanceled || code == ndnerr.Timeout {
		d.excluded[src] = now.Add(d.exclusionTTL)
	}
	return nil
}

func (d *ChunkDownloader) sourceConfiguredLocked(deviceID string) bool {
	for _, s := range d.sources {
		if s.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func (d *ChunkDownloader) popSourceLocked(now time.Time) (Source, bool) {
	for d.cursor < len(d.sources) {
		src := d.sources[d.cursor]
		d.cursor++
		if until, excluded := d.excluded[src.DeviceID]; excluded {
			if now.Before(until) {
				continue
			}
			delete(d.excluded, src.DeviceID)
		}
		return src, true
	}
	return Source{}, false
}

func (d *ChunkDownloader) startSessionLocked(src Source, now time.Time) (float64, error) {
	ch, err := d.channelFor(src.DeviceID)
	if err != nil {
		d.excluded[src.DeviceID] = now.Add(d.exclusionTTL)
		return 0, err
	}
	rangeSize := uint16(d.pieceSize)
	prefer := wire.Prefer{Kind: wire.PreferStream, RangeSize: &rangeSize}

	session := ch.Download(d.chunkID, src.DeviceID, prefer, src.Referer, d.cache)
	d.session = session
	d.sessionSource = src.DeviceID
	return session.CurSpeed(), nil
}

// CalcSpeed, CurSpeed, HistorySpeed forward to the active session as thin
// wrappers; they read 0 with no active session.
func (d *ChunkDownloader) CalcSpeed(now time.Time) {
	d.mu.Lock()
	sess := d.session
	d.mu.Unlock()
	if sess != nil {
		sess.CalcSpeed(now)
	}
}

func (d *ChunkDownloader) CurSpeed() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return 0
	}
	return d.session.CurSpeed()
}

func (d *ChunkDownloader) HistorySpeed() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return 0
	}
	return d.session.HistorySpeed()
}
