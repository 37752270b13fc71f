// Package link is the entry point used by the application to talk to a peer
// through the relay server
package link

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/breathlink/breathlink/pkg/driver"
	"github.com/breathlink/breathlink/pkg/envelope"
	"github.com/breathlink/breathlink/pkg/failure"
	"github.com/breathlink/breathlink/pkg/mailbox"
	"github.com/breathlink/breathlink/pkg/metrics"
	"github.com/breathlink/breathlink/pkg/transport"
	"github.com/sirupsen/logrus"
)

// SignalKey is the payload key set by SendSignal
const SignalKey = "signal"

// ErrorHandler is notified about every abnormal termination
type ErrorHandler func(failure.ClassifiedError)

type session struct {
	driver  *driver.Driver
	mailbox *mailbox.Mailbox
	// closed after the error, if any, was delivered to subscribers
	done chan struct{}
}

// Handle owns at most one running driver at a time
type Handle struct {
	dialer  transport.Dialer
	config  driver.Config
	metrics *metrics.Collector

	mu          sync.Mutex
	current     *session
	subscribers []ErrorHandler
	lastErr     *failure.ClassifiedError
}

// Option customizes a Handle
type Option func(*Handle)

// WithDialer replaces the websocket dialer
func WithDialer(dialer transport.Dialer) Option {
	return func(h *Handle) {
		h.dialer = dialer
	}
}

// WithDriverConfig sets the timings of every driver started by the handle
func WithDriverConfig(config driver.Config) Option {
	return func(h *Handle) {
		h.config = config
	}
}

// WithMetrics makes the handle and its drivers report to the collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(h *Handle) {
		h.metrics = collector
	}
}

// Open validates the token and starts a new connection in the background. A
// running connection is asked to disconnect first. Only token validation
// errors are returned; everything else reaches the OnError subscribers.
func (h *Handle) Open(address, token string) error {
	parsed, parseErr := ParseToken(token)
	if parseErr != nil {
		classified := failure.Classify(parseErr)
		h.notify(classified)
		return classified
	}

	s := &session{
		mailbox: mailbox.New(),
		done:    make(chan struct{}),
	}
	s.driver = driver.New(address, parsed, h.dialer, s.mailbox, h.config, driver.WithMetrics(h.metrics))

	h.mu.Lock()
	previous := h.current
	h.current = s
	h.mu.Unlock()

	if previous != nil {
		logrus.Debugf("Replacing connection %s", previous.driver.ID())
		previous.driver.RequestClose()
	}
	go h.run(s)
	return nil
}

func (h *Handle) run(s *session) {
	defer close(s.done)
	runErr := s.driver.Run(context.Background())
	if runErr == nil {
		return
	}
	if h.session() != s {
		logrus.Debugf("Connection %s failed after being replaced: %v", s.driver.ID(), runErr)
		return
	}
	h.notify(failure.Classify(runErr))
}

func (h *Handle) notify(classified *failure.ClassifiedError) {
	h.mu.Lock()
	h.lastErr = classified
	subscribers := append([]ErrorHandler(nil), h.subscribers...)
	h.mu.Unlock()

	for _, subscriber := range subscribers {
		subscriber(*classified)
	}
}

// StageOutbound replaces the pending outbound snapshot and returns the latest
// snapshot received from the peer, which may be nil or stale. A payload that
// cannot be encoded is dropped and the previous snapshot stays pending.
func (h *Handle) StageOutbound(payload map[string]any) map[string]any {
	s := h.session()
	if s == nil {
		return nil
	}
	if _, encodeErr := envelope.SerializeBytes(envelope.NewSharing(payload)); encodeErr != nil {
		logrus.Warnf("Dropping outbound snapshot: %v", encodeErr)
		return s.driver.LatestInbound()
	}
	s.mailbox.Stage(payload)
	h.metrics.SnapshotStaged()
	return s.driver.LatestInbound()
}

// SendSignal stages a signal snapshot if the connection is open
func (h *Handle) SendSignal() bool {
	if !h.IsOpen() {
		return false
	}
	h.StageOutbound(map[string]any{SignalKey: true})
	return true
}

// LatestInbound returns the latest snapshot received from the peer
func (h *Handle) LatestInbound() map[string]any {
	s := h.session()
	if s == nil {
		return nil
	}
	return s.driver.LatestInbound()
}

// Disconnect asks the current connection to close. It does not block.
func (h *Handle) Disconnect() {
	if s := h.session(); s != nil {
		s.driver.RequestClose()
	}
}

// IsOpen reports whether the current connection is registered and not closing
func (h *Handle) IsOpen() bool {
	return h.State().IsOpen()
}

// State returns the state of the current connection
func (h *Handle) State() driver.State {
	s := h.session()
	if s == nil {
		return driver.Disconnected
	}
	return s.driver.State()
}

// ID returns the identifier of the current connection, or an empty string
func (h *Handle) ID() string {
	s := h.session()
	if s == nil {
		return ""
	}
	return s.driver.ID()
}

// OnError subscribes to abnormal terminations. Handlers are called on the
// connection goroutine and must not block.
func (h *Handle) OnError(handler ErrorHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, handler)
}

// LastError returns the most recent error delivered to subscribers
func (h *Handle) LastError() *failure.ClassifiedError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done is closed once the current connection terminated and its error, if any,
// was delivered
func (h *Handle) Done() <-chan struct{} {
	s := h.session()
	if s == nil {
		return closedChan
	}
	return s.done
}

// Wait blocks until the current connection terminates
func (h *Handle) Wait() {
	<-h.Done()
}

func (h *Handle) session() *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// ParseToken converts the token typed by the user to the value sent during
// registration. Empty, non-numeric and zero tokens are rejected.
func ParseToken(token string) (int64, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return 0, fmt.Errorf("token is empty: %w", failure.ErrInvalidToken)
	}
	parsed, parseErr := strconv.ParseInt(trimmed, 10, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("token %q is not a number: %w", trimmed, failure.ErrInvalidToken)
	}
	if parsed == 0 {
		return 0, fmt.Errorf("token is zero: %w", failure.ErrInvalidToken)
	}
	return parsed, nil
}

// NewHandle creates a Handle with no connection
func NewHandle(opts ...Option) *Handle {
	h := &Handle{
		dialer: &transport.WebsocketDialer{},
		config: driver.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
