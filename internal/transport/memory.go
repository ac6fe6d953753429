package transport

import "sync"

// MemoryEndpoint is an in-process DatagramEndpoint pair for tests: sends on
// one side arrive as inbound callbacks on the other, with no real network
// involved. Pair two with Link.
type MemoryEndpoint struct {
	mu      sync.Mutex
	peer    *MemoryEndpoint
	handler InboundHandler
	seq     uint64
	closed  bool
	maxSize int
}

// NewMemoryEndpoint builds a standalone endpoint; call Link to connect it
// to a peer before sending.
func NewMemoryEndpoint() *MemoryEndpoint {
	return &MemoryEndpoint{maxSize: 1200}
}

// Link connects two endpoints bidirectionally.
func Link(a, b *MemoryEndpoint) {
	a.peer = b
	b.peer = a
}

func (e *MemoryEndpoint) SendRawData(payload []byte) error {
	e.mu.Lock()
	if e.closed || e.peer == nil {
		e.mu.Unlock()
		return nil
	}
	e.seq++
	peer := e.peer
	e.mu.Unlock()

	peer.mu.Lock()
	h := peer.handler
	peer.mu.Unlock()
	if h != nil {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		h(DatagramOptions{Sequence: e.seq}, cp)
	}
	return nil
}

func (e *MemoryEndpoint) RawDataHeaderLen() int      { return 0 }
func (e *MemoryEndpoint) RawDataMaxPayloadLen() int  { return e.maxSize }
func (e *MemoryEndpoint) SetInboundHandler(h InboundHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}
func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
