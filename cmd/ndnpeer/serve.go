package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quantarax/ndncore/internal/channel"
	"github.com/quantarax/ndncore/internal/fec"
	"github.com/quantarax/ndncore/internal/manager"
	"github.com/quantarax/ndncore/internal/observability"
	"github.com/quantarax/ndncore/internal/quicutil"
	"github.com/quantarax/ndncore/internal/transport"
	"github.com/quantarax/ndncore/internal/wire"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:4433", "address to listen on")
	store := fs.String("store", "./ndnpeer-store", "directory of chunk blobs to serve")
	pieceSize := fs.Int("piece-size", defaultPieceSize, "bytes per piece")
	passphrase := fs.String("passphrase", "", "identity keystore passphrase (empty stores the key unencrypted)")
	identityPath := fs.String("identity", "", "identity keystore path (default: XDG data dir)")
	put := fs.String("put", "", "file to add to the store before serving")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := loadIdentity(*identityPath, *passphrase)
	if err != nil {
		return err
	}

	blobs, err := newFileStore(*store)
	if err != nil {
		return err
	}

	if *put != "" {
		content, err := os.ReadFile(*put)
		if err != nil {
			return fmt.Errorf("read --put file: %w", err)
		}
		chunkID, err := blobs.Put(content)
		if err != nil {
			return err
		}
		fmt.Printf("stored %s as chunk %s\n", *put, chunkID.String())
	}

	log := observability.NewLogger("ndnpeer", version, os.Stderr)
	metrics := observability.NewMetrics()

	mgr := manager.NewChunkManager(*pieceSize, blobs)
	encoderFactory := func(chunkID wire.ChunkID) (fec.Encoder, error) {
		return mgr.CreateCache(chunkID).CreateEncoder(manager.ChunkEncodeDesc{RangeSize: uint16(*pieceSize)})
	}

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		return fmt.Errorf("generate dev certificate: %w", err)
	}
	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		return err
	}

	listener, err := transport.ListenQUICDatagram(*addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()

	log.Info(fmt.Sprintf("serving device %s on %s, store %s", id.DeviceID(), *addr, *store))

	ctx := context.Background()
	for {
		endpoint, err := listener.Accept(ctx)
		if err != nil {
			log.Error(err, "accept failed")
			return err
		}
		go serveConnection(endpoint, encoderFactory, *pieceSize, log, metrics)
	}
}

// serveConnection owns one accepted connection for its whole lifetime: a
// Channel plus the tick/pump loop that drives its upload sessions, since a
// Channel never schedules itself.
func serveConnection(endpoint *transport.QUICDatagramEndpoint, encoderFactory channel.EncoderFactory, pieceSize int, log *observability.Logger, metrics *observability.Metrics) {
	defer endpoint.Close()
	ch := channel.New("remote-peer", channel.DefaultConfig(), endpoint, pieceSize, encoderFactory, log, metrics)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for now := range ticker.C {
		ch.TickTimeEscape(now)
		for _, sessionID := range ch.ActiveUploadSessionIDs() {
			for ch.PumpUpload(sessionID, now) {
			}
		}
	}
}
