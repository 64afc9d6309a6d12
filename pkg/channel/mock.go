package channel

import (
	"bytes"
	"sync"
)

// MockPort is an in-memory Port. Reads never block: an empty buffer reads
// as 0, nil, which matches a serial port whose read timeout expired.
type MockPort struct {
	mu     sync.Mutex
	in     bytes.Buffer
	out    bytes.Buffer
	peer   *MockPort
	closed bool

	// ReadError and WriteError, when set, are returned by the next call.
	ReadError  error
	WriteError error
}

// NewMockPort returns an unconnected mock port.
func NewMockPort() *MockPort {
	return &MockPort{}
}

// Pipe returns two mock ports where writes to one are readable from the other.
func Pipe() (*MockPort, *MockPort) {
	a, b := NewMockPort(), NewMockPort()
	a.peer, b.peer = b, a
	return a, b
}

// Feed queues data to be returned by Read.
func (p *MockPort) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
}

// Written returns everything written so far.
func (p *MockPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		p.mu.Unlock()
		return 0, err
	}
	p.out.Write(b)
	peer := p.peer
	p.mu.Unlock()

	if peer != nil {
		peer.Feed(b)
	}
	return len(b), nil
}

// Close marks the port closed; later reads and writes fail with ErrPortClosed.
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
