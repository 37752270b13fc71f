package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const writeTimeout = 10 * time.Second

type websocketTransport struct {
	Connection *websocket.Conn

	frames  chan Frame
	failed  chan struct{}
	readErr error

	done      chan struct{}
	closeOnce sync.Once

	logger *logrus.Entry
}

func (wt *websocketTransport) Send(payload []byte) error {
	if deadlineErr := wt.Connection.SetWriteDeadline(time.Now().Add(writeTimeout)); deadlineErr != nil {
		return deadlineErr
	}
	if writeErr := wt.Connection.WriteMessage(websocket.TextMessage, payload); writeErr != nil {
		return fmt.Errorf("failed writing message to websocket: %w", writeErr)
	}
	wt.logger.Tracef("Wrote websocket message %s", payload)
	return nil
}

func (wt *websocketTransport) Ping() error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if pingErr := wt.Connection.WriteControl(
		websocket.PingMessage, stamp, time.Now().Add(writeTimeout),
	); pingErr != nil {
		return fmt.Errorf("failed writing ping to websocket: %w", pingErr)
	}
	return nil
}

func (wt *websocketTransport) Receive(ctx context.Context) (Frame, error) {
	select {
	case frame := <-wt.frames:
		return frame, nil
	case <-wt.failed:
		return Frame{}, wt.readErr
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (wt *websocketTransport) Close() error {
	var closeErr error
	wt.closeOnce.Do(func() {
		close(wt.done)
		writeErr := wt.Connection.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		if writeErr == websocket.ErrCloseSent {
			writeErr = nil
		}
		closeErr = multierr.Combine(writeErr, wt.Connection.Close())
	})
	return closeErr
}

func (wt *websocketTransport) push(frame Frame) bool {
	select {
	case wt.frames <- frame:
		return true
	case <-wt.done:
		return false
	}
}

func (wt *websocketTransport) readWorker() {
	defer wt.logger.Debug("Websocket read worker stopped")
	wt.Connection.SetPongHandler(func(appData string) error {
		wt.push(Frame{Kind: FramePong, Payload: []byte(appData)})
		return nil
	})
	for {
		_, msg, readErr := wt.Connection.ReadMessage()
		if readErr != nil {
			wt.readErr = readErr
			close(wt.failed)
			return
		}
		wt.logger.Tracef("Got websocket message %s", msg)
		if !wt.push(Frame{Kind: FrameMessage, Payload: msg}) {
			return
		}
	}
}

// NewWebsocketTransport wraps an established websocket connection
func NewWebsocketTransport(connection *websocket.Conn, logger *logrus.Entry) Transport {
	if logger == nil {
		logger = logrus.WithField("remote", connection.RemoteAddr().String())
	}
	wt := &websocketTransport{
		Connection: connection,
		frames:     make(chan Frame),
		failed:     make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
	go wt.readWorker()
	return wt
}

// WebsocketDialer opens websocket transports to the relay server
type WebsocketDialer struct {
	Dialer     *websocket.Dialer
	Attempts   uint
	RetryDelay time.Duration
	Logger     *logrus.Entry
}

// Dial implements Dialer
func (d *WebsocketDialer) Dial(ctx context.Context, address string) (Transport, error) {
	wsURL, parseErr := NormalizeAddress(address)
	if parseErr != nil {
		return nil, parseErr
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := d.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	attempts := d.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var conn *websocket.Conn
	dialErr := retry.Do(
		func() error {
			c, _, err := dialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(d.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("Dial attempt %d to %s failed: %v", n+1, wsURL, err)
		}),
	)
	if dialErr != nil {
		return nil, dialErr
	}
	return NewWebsocketTransport(conn, logger), nil
}

var schemeAliases = map[string]string{
	"ws":     "ws",
	"wss":    "wss",
	"relay":  "ws",
	"relays": "wss",
	"http":   "ws",
	"https":  "wss",
}

// NormalizeAddress turns the address a user typed into a websocket URL
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("server address is empty")
	}
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}
	u, parseErr := url.Parse(address)
	if parseErr != nil {
		return "", fmt.Errorf("invalid server address %q: %w", address, parseErr)
	}
	scheme, ok := schemeAliases[strings.ToLower(u.Scheme)]
	if !ok {
		return "", fmt.Errorf("invalid server address %q: unsupported scheme %q", address, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server address %q: missing host", address)
	}
	u.Scheme = scheme
	return u.String(), nil
}
