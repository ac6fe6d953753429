// Command ndnpeer is a thin demo binary: it wires a ChunkManager, one
// Channel, and the QUIC-datagram transport together to serve or fetch a
// single chunk from the command line. It does not implement any protocol
// logic of its own; every decision it makes lives in internal/channel,
// internal/download, and internal/manager.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/quantarax/ndncore/internal/identity"
)

const (
	version          = "0.1.0"
	defaultPieceSize = 16 * 1024
	tickInterval     = 100 * time.Millisecond
)

func usage() {
	fmt.Fprintf(os.Stderr, `ndnpeer %s

Usage:
  ndnpeer serve [flags]   serve chunks from a local blob directory
  ndnpeer fetch [flags]   fetch one chunk from a remote peer

Run "ndnpeer serve -h" or "ndnpeer fetch -h" for flag details.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "fetch":
		err = runFetch(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "ndnpeer:", err)
		os.Exit(1)
	}
}

func loadIdentity(path, passphrase string) (*identity.PeerIdentity, error) {
	if path == "" {
		p, err := identity.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve default identity path: %w", err)
		}
		path = p
	}
	id, err := identity.LoadOrGenerate(path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return id, nil
}
