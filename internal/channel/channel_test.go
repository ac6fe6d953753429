package channel

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/quantarax/ndncore/internal/chunk"
	"github.com/quantarax/ndncore/internal/fec"
	"github.com/quantarax/ndncore/internal/ndnerr"
	"github.com/quantarax/ndncore/internal/observability"
	"github.com/quantarax/ndncore/internal/transport"
	"github.com/quantarax/ndncore/internal/wire"
)

const testPieceSize = 4

func testChunkID(content []byte) wire.ChunkID {
	return wire.ChunkID{Hash: []byte("fixed-test-hash"), Length: uint64(len(content))}
}

func newTestPair(t *testing.T, content []byte) (*Channel, *Channel, *chunk.StreamCache) {
	t.Helper()
	cid := testChunkID(content)

	downEnd := transport.NewMemoryEndpoint()
	upEnd := transport.NewMemoryEndpoint()
	transport.Link(downEnd, upEnd)

	log := observability.NewLogger("ndncore-test", "test", io.Discard)
	metrics := observability.NewMetrics()

	cfg := DefaultConfig()
	cfg.ResendInterval = 10 * time.Millisecond
	cfg.ResendTimeout = 200 * time.Millisecond
	cfg.MSL = 50 * time.Millisecond

	factory := func(id wire.ChunkID) (fec.Encoder, error) {
		if !id.Equal(cid) {
			return nil, ndnerr.New(ndnerr.NotFound)
		}
		return fec.NewStreamEncoder(content, testPieceSize), nil
	}

	downCh := New("upload-peer", cfg, downEnd, testPieceSize, nil, log, metrics)
	upCh := New("download-peer", cfg, upEnd, testPieceSize, factory, log, metrics)

	cache := chunk.NewStreamCache(cid, testPieceSize)
	return downCh, upCh, cache
}

func drainUploads(t *testing.T, upCh *Channel, sessionIDs []uint32, deadline time.Duration) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		any := false
		for _, id := range sessionIDs {
			if upCh.PumpUpload(id, time.Now()) {
				any = true
			}
		}
		if !any {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestHappyPathSmallChunkTransfer(t *testing.T) {
	content := []byte("0123456789abcdef")
	downCh, upCh, cache := newTestPair(t, content)

	session := downCh.Download(testChunkID(content), "upload-peer", wire.Prefer{Kind: wire.PreferStream}, nil, cache)

	drainUploads(t, upCh, []uint32{session.sessionID}, 500*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := session.WaitFinish(ctx)
	if err != nil {
		t.Fatalf("WaitFinish: %v", err)
	}
	if state != DownloadFinished {
		t.Fatalf("state = %v, want Finished", state)
	}
	if !cache.WaitLoaded() {
		t.Fatalf("cache not fully loaded")
	}
}

func TestDuplicateDownloadReturnsSameSession(t *testing.T) {
	content := []byte("abcd")
	downCh, _, cache := newTestPair(t, content)

	s1 := downCh.Download(testChunkID(content), "upload-peer", wire.Prefer{Kind: wire.PreferStream}, nil, cache)
	s2 := downCh.Download(testChunkID(content), "upload-peer", wire.Prefer{Kind: wire.PreferStream}, nil, cache)

	if s1 != s2 {
		t.Fatalf("expected same session returned for duplicate download() call")
	}
}

func TestRespInterestErrorCancelsSession(t *testing.T) {
	content := []byte("abcd")
	downCh, upCh, cache := newTestPair(t, content)

	wrongID := wire.ChunkID{Hash: []byte("not-registered"), Length: 4}
	session := downCh.Download(wrongID, "upload-peer", wire.Prefer{Kind: wire.PreferStream}, nil, cache)
	_ = upCh

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := session.WaitFinish(ctx)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if state != DownloadCanceled {
		t.Fatalf("state = %v, want Canceled", state)
	}
	if ndnerr.CodeOf(err) != ndnerr.NotFound {
		t.Fatalf("code = %v, want NotFound", ndnerr.CodeOf(err))
	}
}

func TestDownloadingSendsContinueOnLoss(t *testing.T) {
	content := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11} // 3 pieces of size 4
	cid := testChunkID(content)

	downEnd := transport.NewMemoryEndpoint()
	captureEnd := transport.NewMemoryEndpoint()
	transport.Link(downEnd, captureEnd)

	log := observability.NewLogger("ndncore-test", "test", io.Discard)
	metrics := observability.NewMetrics()
	cfg := DefaultConfig()
	cfg.ResendInterval = 5 * time.Millisecond
	cfg.ResendTimeout = time.Second

	downCh := New("upload-peer", cfg, downEnd, testPieceSize, nil, log, metrics)
	cache := chunk.NewStreamCache(cid, testPieceSize)

	var mu sync.Mutex
	var gotContinue bool
	var gotLost []wire.IndexRange
	captureEnd.SetInboundHandler(func(_ transport.DatagramOptions, payload []byte) {
		msg, err := wire.Decode(payload)
		if err != nil {
			return
		}
		pc, ok := msg.(wire.PieceControl)
		if !ok || pc.Command != wire.CtrlContinue {
			return
		}
		mu.Lock()
		gotContinue = true
		gotLost = pc.LostIndex
		mu.Unlock()
	})

	session := downCh.Download(cid, "upload-peer", wire.Prefer{Kind: wire.PreferStream}, nil, cache)

	// Feed pieces 0 and 2, skip 1 to simulate a dropped piece: the session
	// is Downloading with a gap below its high-water mark.
	now := time.Now()
	session.PushPieceData(wire.PieceDesc{Index: 0, RangeSize: testPieceSize}, content[0:4], now)
	session.PushPieceData(wire.PieceDesc{Index: 2, RangeSize: testPieceSize}, content[8:12], now)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		downCh.TickTimeEscape(time.Now())
		mu.Lock()
		done := gotContinue
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !gotContinue {
		t.Fatalf("expected a PieceControl(Continue) reporting the lost piece once resend_interval elapsed")
	}
	if len(gotLost) != 1 || gotLost[0] != (wire.IndexRange{Begin: 1, End: 2}) {
		t.Fatalf("lost ranges = %+v, want [{1 2}]", gotLost)
	}
}

func TestSweepRetiresFinishedDownloadSession(t *testing.T) {
	content := []byte("abcd")
	downCh, upCh, cache := newTestPair(t, content)

	session := downCh.Download(testChunkID(content), "upload-peer", wire.Prefer{Kind: wire.PreferStream}, nil, cache)
	drainUploads(t, upCh, []uint32{session.sessionID}, 500*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := session.WaitFinish(ctx); err != nil {
		t.Fatalf("WaitFinish: %v", err)
	}

	downCh.mu.Lock()
	_, stillThere := downCh.downloadsBySeq[session.sessionID]
	downCh.mu.Unlock()
	if !stillThere {
		t.Fatalf("session vanished before its retention window elapsed")
	}

	downCh.TickTimeEscape(time.Now().Add(2*downCh.config.MSL + time.Millisecond))

	downCh.mu.Lock()
	_, stillThere = downCh.downloadsBySeq[session.sessionID]
	downCh.mu.Unlock()
	if stillThere {
		t.Fatalf("expected finished download session to be swept after its retention window")
	}
}

func TestInterestTimeoutCancelsSession(t *testing.T) {
	content := []byte("abcd")
	cid := testChunkID(content)

	downEnd := transport.NewMemoryEndpoint()
	log := observability.NewLogger("ndncore-test", "test", io.Discard)
	metrics := observability.NewMetrics()
	cfg := DefaultConfig()
	cfg.ResendInterval = 5 * time.Millisecond
	cfg.ResendTimeout = 20 * time.Millisecond

	downCh := New("nobody", cfg, downEnd, testPieceSize, nil, log, metrics)
	cache := chunk.NewStreamCache(cid, testPieceSize)
	session := downCh.Download(cid, "nobody", wire.Prefer{Kind: wire.PreferStream}, nil, cache)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && session.State() != DownloadCanceled {
		downCh.TickTimeEscape(time.Now())
		time.Sleep(time.Millisecond)
	}
	if session.State() != DownloadCanceled {
		t.Fatalf("session never timed out, state = %v", session.State())
	}
}
