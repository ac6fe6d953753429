package chunk

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/quantarax/ndncore/internal/wire"
)

func testChunkID(length uint64) wire.ChunkID {
	return wire.ChunkID{Hash: []byte{1, 2, 3}, Length: length}
}

func TestStreamCachePushAndExists(t *testing.T) {
	c := NewStreamCache(testChunkID(2048), 1024)
	if c.Exists(0) {
		t.Fatalf("piece 0 should not exist yet")
	}
	c.Push(wire.PieceData{Desc: wire.PieceDesc{Index: 0, RangeSize: 1024}, Data: bytes.Repeat([]byte{1}, 1024)})
	if !c.Exists(0) {
		t.Fatalf("piece 0 should exist after push")
	}
	if c.Exists(1) {
		t.Fatalf("piece 1 should not exist")
	}
}

func TestStreamCacheDuplicatePushDiscarded(t *testing.T) {
	c := NewStreamCache(testChunkID(1024), 1024)
	c.Push(wire.PieceData{Desc: wire.PieceDesc{Index: 0, RangeSize: 1024}, Data: bytes.Repeat([]byte{1}, 1024)})
	c.Push(wire.PieceData{Desc: wire.PieceDesc{Index: 0, RangeSize: 1024}, Data: bytes.Repeat([]byte{2}, 1024)})

	buf := make([]byte, 1024)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := c.AsyncRead(ctx, wire.PieceDesc{Index: 0}, 0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 1024 || buf[0] != 1 {
		t.Fatalf("expected first push to win, got byte %d", buf[0])
	}
}

func TestStreamCacheWaitExistsWakesOnPush(t *testing.T) {
	c := NewStreamCache(testChunkID(2048), 1024)
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- c.WaitExists(ctx, 1)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Push(wire.PieceData{Desc: wire.PieceDesc{Index: 1, RangeSize: 1024}, Data: make([]byte, 1024)})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait_exists: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("wait_exists did not wake on push")
	}
}

func TestStreamCacheWaitExistsAbortsOnContextCancel(t *testing.T) {
	c := NewStreamCache(testChunkID(2048), 1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.WaitExists(ctx, 0); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestStreamCacheWaitLoaded(t *testing.T) {
	c := NewStreamCache(testChunkID(2048), 1024)
	if c.WaitLoaded() {
		t.Fatalf("empty cache should not report loaded")
	}
	c.Push(wire.PieceData{Desc: wire.PieceDesc{Index: 0, RangeSize: 1024}, Data: make([]byte, 1024)})
	c.Push(wire.PieceData{Desc: wire.PieceDesc{Index: 1, RangeSize: 1024}, Data: make([]byte, 1024)})
	if !c.WaitLoaded() {
		t.Fatalf("expected fully-pushed cache to report loaded")
	}
}

func TestStreamCacheVerifyErrorNilOnMatchingDigest(t *testing.T) {
	content := bytes.Repeat([]byte{5}, 2048)
	id := wire.NewChunkID(content)
	c := NewStreamCache(id, 1024)
	c.PushContent(content)

	if err := c.VerifyError(); err != nil {
		t.Fatalf("VerifyError: %v, want nil for matching content", err)
	}
}

func TestStreamCacheVerifyErrorSetOnDigestMismatch(t *testing.T) {
	c := NewStreamCache(testChunkID(2048), 1024)
	c.PushContent(bytes.Repeat([]byte{6}, 2048))

	if err := c.VerifyError(); err == nil {
		t.Fatalf("expected a digest mismatch error for a bogus chunk id")
	}
}

func TestStreamCachePushContentSkipsPresent(t *testing.T) {
	c := NewStreamCache(testChunkID(2048), 1024)
	c.Push(wire.PieceData{Desc: wire.PieceDesc{Index: 0, RangeSize: 1024}, Data: bytes.Repeat([]byte{9}, 1024)})

	full := bytes.Repeat([]byte{7}, 2048)
	c.PushContent(full)

	if !c.WaitLoaded() {
		t.Fatalf("expected cache loaded after PushContent filled remaining pieces")
	}
	buf := make([]byte, 1024)
	ctx := context.Background()
	c.AsyncRead(ctx, wire.PieceDesc{Index: 0}, 0, buf)
	if buf[0] != 9 {
		t.Fatalf("PushContent should not overwrite already-present piece 0")
	}
}
