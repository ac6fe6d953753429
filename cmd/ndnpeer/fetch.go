package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quantarax/ndncore/internal/channel"
	"github.com/quantarax/ndncore/internal/download"
	"github.com/quantarax/ndncore/internal/manager"
	"github.com/quantarax/ndncore/internal/observability"
	"github.com/quantarax/ndncore/internal/quicutil"
	"github.com/quantarax/ndncore/internal/transport"
)

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	remoteAddr := fs.String("remote", "", "address of the peer to fetch from (required)")
	chunkArg := fs.String("chunk", "", "chunk id as hexhash:length, printed by serve --put (required)")
	out := fs.String("out", "", "file to write the fetched chunk to (required)")
	pieceSize := fs.Int("piece-size", defaultPieceSize, "bytes per piece")
	timeout := fs.Duration("timeout", 60*time.Second, "how long to wait for the chunk to arrive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *remoteAddr == "" || *chunkArg == "" || *out == "" {
		return fmt.Errorf("--remote, --chunk, and --out are all required")
	}

	chunkID, err := parseChunkID(*chunkArg)
	if err != nil {
		return err
	}

	log := observability.NewLogger("ndnpeer", version, os.Stderr)
	metrics := observability.NewMetrics()

	tlsConfig := quicutil.MakeClientTLSConfig()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	endpoint, err := transport.DialQUICDatagram(ctx, *remoteAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *remoteAddr, err)
	}
	defer endpoint.Close()

	ch := channel.New(*remoteAddr, channel.DefaultConfig(), endpoint, *pieceSize, nil, log, metrics)
	channelFor := func(deviceID string) (*channel.Channel, error) { return ch, nil }

	mgr := manager.NewChunkManager(*pieceSize, nil)
	cache := mgr.CreateCache(chunkID)
	defer mgr.Release(chunkID)
	downloader := cache.GetOrCreateDownloader(false, []download.Source{{DeviceID: *remoteAddr}}, channelFor)

	if err := pumpDownload(ctx, ch, downloader, *timeout); err != nil {
		return err
	}

	content, err := readAssembled(ctx, cache, chunkID.Length)
	if err != nil {
		return fmt.Errorf("read assembled chunk: %w", err)
	}
	if verifyErr := cache.Stream().VerifyError(); verifyErr != nil {
		return fmt.Errorf("chunk failed integrity check: %w", verifyErr)
	}
	if err := os.WriteFile(*out, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("fetched %d bytes into %s\n", len(content), *out)
	return nil
}

// readAssembled copies a chunk's full content out of cache one piece at a
// time; ChunkCache.Read only ever fills from the single piece covering its
// offset, so a whole-chunk read has to walk piece boundaries itself.
func readAssembled(ctx context.Context, cache *manager.ChunkCache, length uint64) ([]byte, error) {
	content := make([]byte, length)
	var offset uint64
	for offset < length {
		n, err := cache.Read(ctx, offset, content[offset:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		offset += uint64(n)
	}
	return content, nil
}

// pumpDownload drives the Channel/ChunkDownloader tick loop until the
// downloader's session reaches Finished or the deadline passes,
// since neither type schedules its own resends or redirect follow-ups.
func pumpDownload(ctx context.Context, ch *channel.Channel, downloader *download.ChunkDownloader, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("fetch canceled: %w", ctx.Err())
		case now := <-ticker.C:
			ch.TickTimeEscape(now)
			if _, err := downloader.OnDrain(now); err != nil {
				return fmt.Errorf("download: %w", err)
			}
			if sess := downloader.Session(); sess != nil && sess.State() == channel.DownloadFinished {
				return nil
			}
			if now.After(deadline) {
				return fmt.Errorf("timed out waiting for chunk")
			}
		}
	}
}
