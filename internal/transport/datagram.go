// Package transport implements the datagram endpoint abstraction this core
// needs, backed by quic-go's unreliable datagram extension. Deliberately
// not reliable QUIC streams: this core builds its own loss/retransmission
// machinery on top of an unreliable send/receive primitive, so reusing
// QUIC's own reliable delivery would make that
// machinery pointless.
package transport

import (
	"context"
	"crypto/tls"

	"github.com/quic-go/quic-go"

	"github.com/quantarax/ndncore/internal/ndnerr"
)

// DatagramOptions carries the transport-level sequence header delivered
// alongside each inbound datagram.
type DatagramOptions struct {
	Sequence uint64
}

// InboundHandler processes one inbound datagram's payload (the bytes after
// the transport has stripped its own header; the channel command byte and
// wire fields follow, unparsed).
type InboundHandler func(opts DatagramOptions, payload []byte)

// DatagramEndpoint is the narrow contract the channel package consumes to
// send and receive raw, unreliable, MTU-bounded datagrams.
type DatagramEndpoint interface {
	// SendRawData performs one MTU-bounded unreliable send.
	SendRawData(payload []byte) error
	// RawDataHeaderLen is the prefix the transport itself reserves.
	RawDataHeaderLen() int
	// RawDataMaxPayloadLen is MTU minus transport overhead.
	RawDataMaxPayloadLen() int
	// SetInboundHandler registers the callback invoked per inbound
	// datagram; only one handler is active at a time.
	SetInboundHandler(h InboundHandler)
	// Close tears down the underlying connection.
	Close() error
}

// quicDatagramHeaderLen is the size of the sequence header this endpoint
// prepends to every outbound datagram ahead of the wire command byte.
const quicDatagramHeaderLen = 8

// defaultDatagramMaxSize is a conservative bound on the path MTU a QUIC
// datagram frame can occupy without fragmentation on typical networks.
const defaultDatagramMaxSize = 1200

// QUICDatagramEndpoint implements DatagramEndpoint over one quic-go
// connection's SendDatagram/ReceiveDatagram pair.
type QUICDatagramEndpoint struct {
	conn    *quic.Conn
	maxSize int
	seq     uint64
	handler InboundHandler
	cancel  context.CancelFunc
}

// NewQUICDatagramEndpoint wraps an established QUIC connection (datagrams
// must be enabled in its quic.Config) and starts the receive loop.
func NewQUICDatagramEndpoint(conn *quic.Conn) *QUICDatagramEndpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &QUICDatagramEndpoint{
		conn:    conn,
		maxSize: defaultDatagramMaxSize,
		cancel:  cancel,
	}
	go e.receiveLoop(ctx)
	return e
}

func (e *QUICDatagramEndpoint) receiveLoop(ctx context.Context) {
	for {
		data, err := e.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		if len(data) < quicDatagramHeaderLen {
			continue
		}
		seq := beUint64(data[:quicDatagramHeaderLen])
		payload := data[quicDatagramHeaderLen:]
		if h := e.handler; h != nil {
			h(DatagramOptions{Sequence: seq}, payload)
		}
	}
}

func (e *QUICDatagramEndpoint) SendRawData(payload []byte) error {
	buf := make([]byte, quicDatagramHeaderLen+len(payload))
	putUint64BE(buf[:quicDatagramHeaderLen], e.nextSeq())
	copy(buf[quicDatagramHeaderLen:], payload)
	if err := e.conn.SendDatagram(buf); err != nil {
		return ndnerr.Wrap(ndnerr.ConnectFailed, err.Error())
	}
	return nil
}

func (e *QUICDatagramEndpoint) nextSeq() uint64 {
	e.seq++
	return e.seq
}

func (e *QUICDatagramEndpoint) RawDataHeaderLen() int { return quicDatagramHeaderLen }

func (e *QUICDatagramEndpoint) RawDataMaxPayloadLen() int {
	return e.maxSize - quicDatagramHeaderLen
}

func (e *QUICDatagramEndpoint) SetInboundHandler(h InboundHandler) {
	e.handler = h
}

func (e *QUICDatagramEndpoint) Close() error {
	e.cancel()
	return e.conn.CloseWithError(0, "channel closed")
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putUint64BE(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// DialQUICDatagram establishes a QUIC connection with datagrams enabled and
// wraps it as a DatagramEndpoint.
func DialQUICDatagram(ctx context.Context, addr string, tlsConfig *tls.Config) (*QUICDatagramEndpoint, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: 10 * 1e9,
		MaxIdleTimeout:  60 * 1e9,
	})
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ConnectFailed, err.Error())
	}
	return NewQUICDatagramEndpoint(conn), nil
}

// QUICDatagramListener accepts incoming QUIC connections with datagrams
// enabled, one DatagramEndpoint per accepted connection.
type QUICDatagramListener struct {
	listener *quic.Listener
}

// ListenQUICDatagram starts a QUIC listener with datagrams enabled.
func ListenQUICDatagram(addr string, tlsConfig *tls.Config) (*QUICDatagramListener, error) {
	listener, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: 10 * 1e9,
		MaxIdleTimeout:  60 * 1e9,
	})
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ConnectFailed, err.Error())
	}
	return &QUICDatagramListener{listener: listener}, nil
}

// Accept accepts one incoming connection and wraps it as a DatagramEndpoint.
func (l *QUICDatagramListener) Accept(ctx context.Context) (*QUICDatagramEndpoint, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ConnectFailed, err.Error())
	}
	return NewQUICDatagramEndpoint(conn), nil
}

// Close closes the listener.
func (l *QUICDatagramListener) Close() error {
	return l.listener.Close()
}
