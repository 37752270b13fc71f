package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/breathlink/breathlink/pkg/driver"
	"github.com/breathlink/breathlink/pkg/failure"
	"github.com/breathlink/breathlink/pkg/mailbox"
	"github.com/breathlink/breathlink/pkg/testutils"
	"github.com/breathlink/breathlink/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = driver.Config{
	ReceiveTimeout: 20 * time.Millisecond,
	ProbeInterval:  20 * time.Millisecond,
	ProbeTimeout:   time.Second,
}

type errorRecorder struct {
	mu     sync.Mutex
	errors []failure.ClassifiedError
}

func (r *errorRecorder) record(err failure.ClassifiedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *errorRecorder) all() []failure.ClassifiedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]failure.ClassifiedError(nil), r.errors...)
}

// queueDialer hands out one transport per Dial call
type queueDialer struct {
	transports chan transport.Transport
}

func (d *queueDialer) Dial(ctx context.Context, _ string) (transport.Transport, error) {
	select {
	case t := <-d.transports:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newMockTransport() *transport.MockTransport {
	mock := transport.NewMockTransport()
	mock.AutoPong = true
	return mock
}

func newTestHandle(dialer transport.Dialer) (*Handle, *errorRecorder) {
	recorder := &errorRecorder{}
	h := NewHandle(WithDialer(dialer), WithDriverConfig(testConfig))
	h.OnError(recorder.record)
	return h, recorder
}

func expectSent(t *testing.T, mock *transport.MockTransport) map[string]any {
	t.Helper()
	select {
	case payload := <-mock.Sent:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		return decoded
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an envelope")
		return nil
	}
}

func eventually(t *testing.T, check func() error) {
	t.Helper()
	require.NoError(t, retry.Do(
		check,
		retry.Attempts(200),
		retry.Delay(10*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
	))
}

func waitFor(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not terminate")
	}
}

func shareOverMock(t *testing.T, mock *transport.MockTransport) {
	t.Helper()
	assert.Equal(t, "registration", expectSent(t, mock)["status"])
	mock.Push(`{"answer":"Successful registration of your client"}`)
	mock.Push(`{"answer":"Pair has been established"}`)
	assert.Equal(t, map[string]any{"status": "I am ready to get"}, expectSent(t, mock))
	mock.Push(`{"answer":"Start sharing"}`)
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected int64
		valid    bool
	}{
		{name: "number", token: "123", expected: 123, valid: true},
		{name: "surrounding whitespace", token: " 42\n", expected: 42, valid: true},
		{name: "negative", token: "-7", expected: -7, valid: true},
		{name: "empty", token: ""},
		{name: "whitespace only", token: "   "},
		{name: "zero", token: "0"},
		{name: "padded zero", token: "000"},
		{name: "not a number", token: "abc"},
		{name: "decimal", token: "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseToken(tt.token)
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, parsed)
				return
			}
			assert.ErrorIs(t, err, failure.ErrInvalidToken)
		})
	}
}

func TestOpenWithFalsyTokenFailsValidationWithoutDialing(t *testing.T) {
	for _, token := range []string{"", " ", "0", "not-a-token"} {
		t.Run(fmt.Sprintf("token %q", token), func(t *testing.T) {
			// given
			dialer := &transport.MockDialer{Transport: newMockTransport()}
			h, recorder := newTestHandle(dialer)

			// when
			err := h.Open("relay://host", token)

			// then
			var classified *failure.ClassifiedError
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, failure.Validation, classified.Kind)
			assert.Equal(t, failure.InvalidTokenMessage, classified.Message)
			assert.Empty(t, dialer.Calls())
			assert.False(t, h.IsOpen())
			assert.Equal(t, []failure.ClassifiedError{*classified}, recorder.all())
			assert.Equal(t, classified, h.LastError())
		})
	}
}

func TestHandleSendsSignalWhileSharing(t *testing.T) {
	// given
	mock := newMockTransport()
	h, recorder := newTestHandle(&transport.MockDialer{Transport: mock})
	require.NoError(t, h.Open("relay://host", "123"))
	defer h.Disconnect()
	shareOverMock(t, mock)
	eventually(t, func() error {
		if h.State() != driver.Sharing {
			return fmt.Errorf("state is %s", h.State())
		}
		return nil
	})

	// when
	staged := h.SendSignal()

	// then
	assert.True(t, staged)
	sent := expectSent(t, mock)
	assert.Equal(t, "sharing", sent["status"])
	data, ok := sent["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["signal"])
	assert.Regexp(t, `^[A-Z0-9]{6}$`, data["vcode"])
	assert.Empty(t, recorder.all())
}

func TestHandleReturnsLatestInboundWhenStaging(t *testing.T) {
	mock := newMockTransport()
	h, _ := newTestHandle(&transport.MockDialer{Transport: mock})
	require.NoError(t, h.Open("relay://host", "123"))
	defer h.Disconnect()
	shareOverMock(t, mock)

	mock.Push(`{"answer":"sharing","data":{"breath":0.5}}`)

	eventually(t, func() error {
		if inbound := h.StageOutbound(map[string]any{"breath": 1}); inbound["breath"] != 0.5 {
			return fmt.Errorf("latest inbound is %v", inbound)
		}
		return nil
	})
	assert.Equal(t, map[string]any{"breath": 0.5}, h.LatestInbound())
}

func TestHandleNotifiesSubscribersOncePerFailure(t *testing.T) {
	// given
	mock := newMockTransport()
	h, recorder := newTestHandle(&transport.MockDialer{Transport: mock})
	require.NoError(t, h.Open("relay://host", "123"))
	expectSent(t, mock)

	// when
	mock.Push(`{"answer":"Token rejected"}`)
	waitFor(t, h)

	// then
	errs := recorder.all()
	require.Len(t, errs, 1)
	assert.Equal(t, failure.Protocol, errs[0].Kind)
	assert.Equal(t, "Token rejected", errs[0].Message)
	assert.Equal(t, "Token rejected", h.LastError().Message)
	assert.False(t, h.IsOpen())
}

func TestHandleDisconnectIsSilent(t *testing.T) {
	// given
	mock := newMockTransport()
	h, recorder := newTestHandle(&transport.MockDialer{Transport: mock})
	require.NoError(t, h.Open("relay://host", "123"))
	shareOverMock(t, mock)

	// when
	h.Disconnect()
	waitFor(t, h)

	// then
	assert.Equal(t, map[string]any{"status": "Close connection"}, expectSent(t, mock))
	assert.Empty(t, recorder.all())
	assert.Nil(t, h.LastError())
	assert.False(t, h.IsOpen())
	assert.False(t, h.SendSignal())
}

func TestHandleOpenReplacesRunningConnection(t *testing.T) {
	// given
	first, second := newMockTransport(), newMockTransport()
	dialer := &queueDialer{transports: make(chan transport.Transport, 2)}
	dialer.transports <- first
	dialer.transports <- second
	h, recorder := newTestHandle(dialer)
	require.NoError(t, h.Open("relay://host", "1"))
	assert.Equal(t, "registration", expectSent(t, first)["status"])
	firstID := h.ID()

	// when
	require.NoError(t, h.Open("relay://host", "2"))
	defer h.Disconnect()

	// then
	assert.Equal(t, map[string]any{"status": "Close connection"}, expectSent(t, first))
	assert.Equal(t, map[string]any{"status": "registration", "type": "pi", "token": 2.0}, expectSent(t, second))
	assert.NotEqual(t, firstID, h.ID())
	eventually(t, func() error {
		if !first.Closed() {
			return fmt.Errorf("first transport is still open")
		}
		return nil
	})
	assert.Empty(t, recorder.all())
}

func TestHandleWithoutConnection(t *testing.T) {
	h := NewHandle()

	assert.Nil(t, h.StageOutbound(map[string]any{"x": 1}))
	assert.Nil(t, h.LatestInbound())
	assert.False(t, h.SendSignal())
	assert.False(t, h.IsOpen())
	assert.Equal(t, driver.Disconnected, h.State())
	assert.Empty(t, h.ID())
	assert.NotPanics(t, h.Disconnect)
	waitFor(t, h)
}

func TestHandleSharesWithRelayOverWebsocket(t *testing.T) {
	// given
	relay := testutils.NewRelay(10*time.Millisecond, 123)
	server := httptest.NewServer(relay.Handler())
	defer server.Close()
	recorder := &errorRecorder{}
	h := NewHandle(WithDriverConfig(testConfig))
	h.OnError(recorder.record)

	// when
	require.NoError(t, h.Open(server.URL, "123"))
	eventually(t, func() error {
		if h.State() != driver.Sharing {
			return fmt.Errorf("state is %s", h.State())
		}
		return nil
	})
	h.StageOutbound(map[string]any{"breath": 1.5})

	// then
	eventually(t, func() error {
		if inbound := h.LatestInbound(); inbound["breath"] != 1.5 {
			return fmt.Errorf("latest inbound is %v", inbound)
		}
		return nil
	})
	assert.Regexp(t, `^[A-Z0-9]{6}$`, h.LatestInbound()["vcode"])

	h.Disconnect()
	waitFor(t, h)
	assert.Empty(t, recorder.all())
	eventually(t, func() error {
		received := relay.Received()
		if len(received) == 0 || received[len(received)-1]["status"] != "Close connection" {
			return fmt.Errorf("relay did not receive close, got %v", received)
		}
		return nil
	})
	received := relay.Received()
	assert.Equal(t, map[string]any{"status": "registration", "type": "pi", "token": 123.0}, received[0])
	assert.Equal(t, map[string]any{"status": "I am ready to get"}, received[1])
	assert.Equal(t, "sharing", received[2]["status"])
}

func TestHandleReportsRejectedTokenFromRelay(t *testing.T) {
	relay := testutils.NewRelay(0, 1)
	server := httptest.NewServer(relay.Handler())
	defer server.Close()
	recorder := &errorRecorder{}
	h := NewHandle(WithDriverConfig(testConfig))
	h.OnError(recorder.record)

	require.NoError(t, h.Open(server.URL, "2"))
	waitFor(t, h)

	errs := recorder.all()
	require.Len(t, errs, 1)
	assert.Equal(t, failure.Protocol, errs[0].Kind)
	assert.Equal(t, testutils.RejectedAnswer, errs[0].Message)
}

func TestHandleReportsConnectivityErrorWhenServerIsDown(t *testing.T) {
	// given a port nobody listens on
	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())
	recorder := &errorRecorder{}
	h := NewHandle(WithDriverConfig(testConfig))
	h.OnError(recorder.record)

	// when
	require.NoError(t, h.Open(address, "123"))
	waitFor(t, h)

	// then
	errs := recorder.all()
	require.Len(t, errs, 1)
	assert.Equal(t, failure.Connectivity, errs[0].Kind)
	assert.Equal(t, failure.NetworkMessage, errs[0].Message)
	assert.False(t, h.IsOpen())
}

func TestHandleKeepsLastGoodSnapshotWhenStagingUnencodableData(t *testing.T) {
	// given a valid snapshot pending before sharing starts
	mock := newMockTransport()
	h, recorder := newTestHandle(&transport.MockDialer{Transport: mock})
	require.NoError(t, h.Open("relay://host", "123"))
	defer h.Disconnect()
	assert.Equal(t, "registration", expectSent(t, mock)["status"])
	mock.Push(`{"answer":"Successful registration of your client"}`)
	eventually(t, func() error {
		if h.State() != driver.AwaitingPairing {
			return fmt.Errorf("state is %s", h.State())
		}
		return nil
	})
	h.StageOutbound(map[string]any{"amplitude": 0.5})

	// when
	h.StageOutbound(map[string]any{"amplitude": math.NaN()})
	h.StageOutbound(map[string]any{"amplitude": math.Inf(1)})
	mock.Push(`{"answer":"Start sharing"}`)

	// then
	sent := expectSent(t, mock)
	assert.Equal(t, "sharing", sent["status"])
	assert.Equal(t, 0.5, sent["data"].(map[string]any)["amplitude"])
	assert.Equal(t, driver.Sharing, h.State())
	assert.Empty(t, recorder.all())
}

func TestHandleIgnoresFailuresOfReplacedConnections(t *testing.T) {
	// given
	dialer := &transport.MockDialer{Err: errors.New("relay went away")}
	h, recorder := newTestHandle(dialer)
	newSession := func() *session {
		s := &session{mailbox: mailbox.New(), done: make(chan struct{})}
		s.driver = driver.New("relay://host", 1, dialer, s.mailbox, testConfig)
		return s
	}
	replaced, current := newSession(), newSession()
	h.mu.Lock()
	h.current = current
	h.mu.Unlock()

	// when
	h.run(replaced)

	// then
	assert.Empty(t, recorder.all())
	assert.Nil(t, h.LastError())

	h.run(current)
	require.Len(t, recorder.all(), 1)
	assert.Equal(t, "failed to connect to relay://host: relay went away", recorder.all()[0].Message)
}
