package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrMockClosed is returned by MockTransport after Close
var ErrMockClosed = errors.New("mock transport closed")

// MockTransport implements Transport and can be used for unit tests
type MockTransport struct {
	// Inbound can be used to simulate frames coming from the server
	Inbound chan Frame
	// Sent receives every payload passed to Send
	Sent chan []byte

	// AutoPong makes every Ping answered with a FramePong
	AutoPong bool
	// SendErr is returned from Send when set
	SendErr error

	pings     atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

// Send implements Transport
func (transport *MockTransport) Send(payload []byte) error {
	if transport.SendErr != nil {
		return transport.SendErr
	}
	select {
	case <-transport.closed:
		return ErrMockClosed
	default:
	}
	transport.Sent <- append([]byte(nil), payload...)
	return nil
}

// Ping implements Transport
func (transport *MockTransport) Ping() error {
	transport.pings.Add(1)
	if transport.AutoPong {
		transport.Inbound <- Frame{Kind: FramePong}
	}
	return nil
}

// Receive implements Transport
func (transport *MockTransport) Receive(ctx context.Context) (Frame, error) {
	select {
	case frame := <-transport.Inbound:
		return frame, nil
	case <-transport.closed:
		return Frame{}, ErrMockClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close implements Transport
func (transport *MockTransport) Close() error {
	transport.closeOnce.Do(func() { close(transport.closed) })
	return nil
}

// Closed reports whether Close was called
func (transport *MockTransport) Closed() bool {
	select {
	case <-transport.closed:
		return true
	default:
		return false
	}
}

// Pings returns how many probes were sent
func (transport *MockTransport) Pings() int {
	return int(transport.pings.Load())
}

// Push simulates a text frame coming from the server
func (transport *MockTransport) Push(payload string) {
	transport.Inbound <- Frame{Kind: FrameMessage, Payload: []byte(payload)}
}

// NewMockTransport creates a MockTransport with buffered channels
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Inbound: make(chan Frame, 255),
		Sent:    make(chan []byte, 255),
		closed:  make(chan struct{}),
	}
}

// MockDialer implements Dialer and hands out a prepared transport
type MockDialer struct {
	Transport Transport
	Err       error

	mu        sync.Mutex
	addresses []string
}

// Dial implements Dialer
func (d *MockDialer) Dial(_ context.Context, address string) (Transport, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Transport, nil
}

// Calls returns the addresses Dial was called with
func (d *MockDialer) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addresses...)
}
