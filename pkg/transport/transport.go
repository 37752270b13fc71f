// Package transport provides the connections the protocol driver talks over
package transport

import (
	"context"
)

// FrameKind tells data frames apart from probe acknowledgements
type FrameKind int

// Frame kinds
const (
	FrameMessage FrameKind = iota
	FramePong
)

// Frame is a single unit read from the connection
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// Transport is used by the driver to talk to the relay server. It is not safe
// for concurrent Send calls: only the driver writes.
type Transport interface {
	Send([]byte) error
	// Ping sends a liveness probe; its acknowledgement arrives as a FramePong
	Ping() error
	// Receive waits for the next frame. When ctx ends first, ctx.Err() is returned.
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}
