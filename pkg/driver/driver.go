// Package driver implements the client side of the relay pairing protocol
package driver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breathlink/breathlink/pkg/envelope"
	"github.com/breathlink/breathlink/pkg/failure"
	"github.com/breathlink/breathlink/pkg/mailbox"
	"github.com/breathlink/breathlink/pkg/metrics"
	"github.com/breathlink/breathlink/pkg/transport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Driver owns one transport and walks it through registration, pairing,
// sharing and shutdown. A Driver runs once; open a new one to reconnect.
type Driver struct {
	id      string
	address string
	token   int64

	dialer  transport.Dialer
	mailbox *mailbox.Mailbox
	config  Config
	metrics *metrics.Collector
	logger  *logrus.Entry

	state atomic.Int32

	stopCtx context.Context
	stop    context.CancelFunc

	inboundMu sync.RWMutex
	inbound   map[string]any

	done chan struct{}
	err  *failure.ClassifiedError

	// accessed only by the goroutine executing Run
	conn      transport.Transport
	lastSent  mailbox.Stamp
	lastProbe time.Time
}

// Option customizes a Driver
type Option func(*Driver)

// WithMetrics makes the driver report to the given collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(d *Driver) {
		d.metrics = collector
	}
}

// WithID sets the identifier used in logs
func WithID(id string) Option {
	return func(d *Driver) {
		d.id = id
	}
}

// ID returns the identifier of this connection
func (d *Driver) ID() string {
	return d.id
}

// State returns the current state
func (d *Driver) State() State {
	return State(d.state.Load())
}

// IsOpen reports whether the handshake succeeded and shutdown has not started
func (d *Driver) IsOpen() bool {
	return d.State().IsOpen()
}

// LatestInbound returns a copy of the last snapshot received from the peer, or nil
func (d *Driver) LatestInbound() map[string]any {
	d.inboundMu.RLock()
	defer d.inboundMu.RUnlock()
	return maps.Clone(d.inbound)
}

// RequestClose asks the driver to shut down. It does not block.
func (d *Driver) RequestClose() {
	d.stop()
}

// Done is closed once the driver reached the terminal state
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Err returns the failure that terminated the driver. It is nil while running
// and after a clean shutdown.
func (d *Driver) Err() *failure.ClassifiedError {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Run executes the state machine until it terminates. Cancelling ctx has the
// same effect as RequestClose. The returned error is a *failure.ClassifiedError.
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.done)
	stopWithParent := context.AfterFunc(ctx, d.stop)
	defer stopWithParent()

	runErr := d.run()
	d.release()
	d.setState(Disconnected)
	d.stop()

	if runErr == nil {
		d.logger.Info("Connection closed")
		return nil
	}
	d.err = failure.Classify(runErr)
	d.metrics.Failure(d.err.Kind.String())
	d.logger.WithField("kind", d.err.Kind).Errorf("Connection failed: %v", runErr)
	return d.err
}

func (d *Driver) run() error {
	next := Connecting
	for next != Disconnected {
		d.setState(next)
		var stepErr error
		switch next {
		case Connecting:
			next, stepErr = d.connect()
		case Registering:
			next, stepErr = d.register()
		case AwaitingPairing:
			next, stepErr = d.awaitPairing()
		case Sharing:
			next, stepErr = d.share()
		case Closing:
			next, stepErr = d.closeGracefully()
		default:
			return fmt.Errorf("driver entered unexpected state %s", next)
		}
		if stepErr != nil {
			if d.stopRequested() {
				d.logger.Debugf("Ignoring error observed while closing: %v", stepErr)
				return nil
			}
			return stepErr
		}
	}
	return nil
}

func (d *Driver) connect() (State, error) {
	d.logger.Info("Connecting to relay server")
	conn, dialErr := d.dialer.Dial(d.stopCtx, d.address)
	if dialErr != nil {
		return Disconnected, fmt.Errorf("failed to connect to %s: %w", d.address, dialErr)
	}
	d.conn = conn
	return Registering, nil
}

func (d *Driver) register() (State, error) {
	if d.stopRequested() {
		return Closing, nil
	}
	if sendErr := d.send(envelope.NewRegistration(d.config.ClientType, d.token)); sendErr != nil {
		return Disconnected, sendErr
	}
	for !d.stopRequested() {
		incoming, receiveErr := d.receive()
		if receiveErr != nil {
			return Disconnected, receiveErr
		}
		switch incoming.(type) {
		case nil:
			continue
		case envelope.Registered:
			d.logger.Info("Registered, waiting for a pair")
			return AwaitingPairing, nil
		default:
			return Disconnected, failure.NewProtocolError(incoming.Answer())
		}
	}
	return Closing, nil
}

func (d *Driver) awaitPairing() (State, error) {
	for !d.stopRequested() {
		incoming, receiveErr := d.receive()
		if receiveErr != nil {
			return Disconnected, receiveErr
		}
		switch message := incoming.(type) {
		case nil:
			continue
		case envelope.Paired:
			d.logger.Info("Pair has been established")
			if sendErr := d.send(envelope.NewReady()); sendErr != nil {
				return Disconnected, sendErr
			}
		case envelope.StartSharing:
			d.logger.Info("Sharing started")
			return Sharing, nil
		case envelope.SharingData:
			d.storeInbound(message.Data)
		default:
			return Disconnected, failure.NewProtocolError(incoming.Answer())
		}
	}
	return Closing, nil
}

func (d *Driver) share() (State, error) {
	for !d.stopRequested() {
		if snapshot, fresh := d.mailbox.PeekIfFresh(d.lastSent); fresh {
			d.lastSent = snapshot.Stamp
			if sendErr := d.send(envelope.NewSharing(snapshot.Payload())); sendErr != nil {
				if !errors.Is(sendErr, envelope.ErrUnencodable) {
					return Disconnected, sendErr
				}
				d.logger.Warnf("Skipping snapshot %s: %v", snapshot.Stamp.VCode(), sendErr)
			}
		}
		if time.Since(d.lastProbe) >= d.config.ProbeInterval {
			if probeErr := d.probe(); probeErr != nil {
				return Disconnected, probeErr
			}
		}
		frame, received, waitErr := d.waitForSharing()
		if waitErr != nil {
			return Disconnected, waitErr
		}
		if received {
			if handleErr := d.handleSharing(frame); handleErr != nil {
				return Disconnected, handleErr
			}
		}
	}
	return Closing, nil
}

// waitForSharing waits for a frame for at most the receive timeout. The wait
// ends early when a snapshot gets staged or a close is requested.
func (d *Driver) waitForSharing() (transport.Frame, bool, error) {
	ctx, cancel := context.WithTimeout(d.stopCtx, d.config.ReceiveTimeout)
	defer cancel()
	go func() {
		select {
		case <-d.mailbox.Staged():
			cancel()
		case <-ctx.Done():
		}
	}()
	return d.next(ctx)
}

func (d *Driver) probe() error {
	sentAt := time.Now()
	if pingErr := d.conn.Ping(); pingErr != nil {
		return pingErr
	}
	ctx, cancel := context.WithTimeout(d.stopCtx, d.config.ProbeTimeout)
	defer cancel()
	for {
		frame, received, receiveErr := d.next(ctx)
		if receiveErr != nil {
			return receiveErr
		}
		if !received {
			if d.stopRequested() {
				return nil
			}
			return failure.ErrProbeTimeout
		}
		if frame.Kind == transport.FramePong {
			d.lastProbe = time.Now()
			d.metrics.ProbeAcknowledged(d.lastProbe.Sub(sentAt))
			return nil
		}
		if handleErr := d.handleSharing(frame); handleErr != nil {
			return handleErr
		}
	}
}

func (d *Driver) handleSharing(frame transport.Frame) error {
	if frame.Kind == transport.FramePong {
		return nil
	}
	incoming, decodeErr := d.decode(frame)
	if decodeErr != nil {
		return decodeErr
	}
	if message, ok := incoming.(envelope.SharingData); ok {
		d.storeInbound(message.Data)
		return nil
	}
	return failure.NewProtocolError(incoming.Answer())
}

func (d *Driver) closeGracefully() (State, error) {
	d.logger.Info("Closing connection")
	if d.conn == nil {
		return Disconnected, nil
	}
	if sendErr := d.send(envelope.NewClose()); sendErr != nil {
		d.logger.Warnf("Failed to announce close: %v", sendErr)
	}
	if closeErr := d.conn.Close(); closeErr != nil {
		d.logger.Warnf("Failed to close transport: %v", closeErr)
	}
	return Disconnected, nil
}

// receive waits up to the receive timeout for an envelope. Pongs and empty
// waits are reported as a nil envelope with a nil error.
func (d *Driver) receive() (envelope.Inbound, error) {
	ctx, cancel := context.WithTimeout(d.stopCtx, d.config.ReceiveTimeout)
	defer cancel()
	frame, received, receiveErr := d.next(ctx)
	if receiveErr != nil || !received || frame.Kind == transport.FramePong {
		return nil, receiveErr
	}
	return d.decode(frame)
}

// next returns false instead of an error when ctx ended before a frame arrived
func (d *Driver) next(ctx context.Context) (transport.Frame, bool, error) {
	frame, receiveErr := d.conn.Receive(ctx)
	if receiveErr != nil {
		if ctx.Err() != nil {
			return transport.Frame{}, false, nil
		}
		return transport.Frame{}, false, fmt.Errorf("failed to receive from relay server: %w", receiveErr)
	}
	return frame, true, nil
}

func (d *Driver) decode(frame transport.Frame) (envelope.Inbound, error) {
	incoming, decodeErr := envelope.DeserializeBytes(frame.Payload)
	if decodeErr != nil {
		return nil, failure.NewProtocolError(decodeErr.Error())
	}
	d.metrics.EnvelopeReceived(kindOf(incoming))
	d.logger.Tracef("Received %s", frame.Payload)
	return incoming, nil
}

func (d *Driver) send(o envelope.Outbound) error {
	payload, serializeErr := envelope.SerializeBytes(o)
	if serializeErr != nil {
		return serializeErr
	}
	if sendErr := d.conn.Send(payload); sendErr != nil {
		return fmt.Errorf("failed to send %q envelope: %w", o.Status(), sendErr)
	}
	d.metrics.EnvelopeSent(o.Status())
	d.logger.Tracef("Sent %s", payload)
	return nil
}

func (d *Driver) storeInbound(data map[string]any) {
	d.inboundMu.Lock()
	d.inbound = maps.Clone(data)
	d.inboundMu.Unlock()
}

func (d *Driver) release() {
	if d.conn == nil {
		return
	}
	if closeErr := d.conn.Close(); closeErr != nil {
		d.logger.Debugf("Failed to release transport: %v", closeErr)
	}
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	d.metrics.State(int(s))
	d.logger.Debugf("State changed to %s", s)
}

func (d *Driver) stopRequested() bool {
	return d.stopCtx.Err() != nil
}

func kindOf(incoming envelope.Inbound) string {
	switch incoming.(type) {
	case envelope.Registered:
		return "registered"
	case envelope.Paired:
		return "paired"
	case envelope.StartSharing:
		return "start_sharing"
	case envelope.SharingData:
		return "sharing"
	}
	return "rejection"
}

// New creates a driver for a single connection attempt. The token must
// already be validated; the mailbox is shared with the producer of snapshots.
func New(
	address string,
	token int64,
	dialer transport.Dialer,
	box *mailbox.Mailbox,
	config Config,
	opts ...Option,
) *Driver {
	stopCtx, stop := context.WithCancel(context.Background())
	d := &Driver{
		address: address,
		token:   token,
		dialer:  dialer,
		mailbox: box,
		config:  config.withDefaults(),
		stopCtx: stopCtx,
		stop:    stop,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.id == "" {
		d.id = uuid.New().String()
	}
	d.logger = logrus.WithFields(logrus.Fields{
		"connection": d.id,
		"address":    address,
	})
	return d
}
