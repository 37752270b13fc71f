// Package testutils contains an in-process relay server used by end to end
// tests and the testrelay command
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/breathlink/breathlink/pkg/envelope"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// RejectedAnswer is sent to clients registering with a token that is not allowed
const RejectedAnswer = "Token rejected"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type clientEnvelope struct {
	Status string         `json:"status"`
	Token  int64          `json:"token"`
	Data   map[string]any `json:"data"`
}

type relayAnswer struct {
	Answer string         `json:"answer"`
	Data   map[string]any `json:"data,omitempty"`
}

// Relay is a scripted relay server. Every client is paired with an echo peer:
// sharing data sent by the client is sent back to it.
type Relay struct {
	tokens    []int64
	pairAfter time.Duration

	mu          sync.Mutex
	received    []map[string]any
	connections int
}

// Handler returns the http handler accepting websocket clients on any path
func (r *Relay) Handler() http.Handler {
	router := mux.NewRouter()
	router.PathPrefix("/").HandlerFunc(r.serve)
	return router
}

// Received returns every envelope received so far, in order
func (r *Relay) Received() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.received)
}

// Connections returns how many websocket clients connected so far
func (r *Relay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	conn, upgradeErr := upgrader.Upgrade(w, req, nil)
	if upgradeErr != nil {
		logrus.Errorf("Failed to upgrade relay connection: %v", upgradeErr)
		return
	}
	defer conn.Close()
	r.mu.Lock()
	r.connections++
	r.mu.Unlock()

	logger := logrus.WithField("remote", req.RemoteAddr)
	if sessionErr := r.session(conn); sessionErr != nil {
		logger.Debugf("Relay session ended: %v", sessionErr)
	}
}

func (r *Relay) session(conn *websocket.Conn) error {
	registration, readErr := r.read(conn)
	if readErr != nil {
		return readErr
	}
	if registration.Status != envelope.StatusRegistration {
		return r.write(conn, relayAnswer{Answer: fmt.Sprintf("Expected registration, got %q", registration.Status)})
	}
	if !slices.Contains(r.tokens, registration.Token) {
		return r.write(conn, relayAnswer{Answer: RejectedAnswer})
	}
	if writeErr := r.write(conn, relayAnswer{Answer: envelope.AnswerRegistered}); writeErr != nil {
		return writeErr
	}

	time.Sleep(r.pairAfter)
	if writeErr := r.write(conn, relayAnswer{Answer: envelope.AnswerPaired}); writeErr != nil {
		return writeErr
	}
	for {
		incoming, err := r.read(conn)
		if err != nil {
			return err
		}
		switch incoming.Status {
		case envelope.StatusReady:
			if writeErr := r.write(conn, relayAnswer{Answer: envelope.AnswerStartSharing}); writeErr != nil {
				return writeErr
			}
		case envelope.StatusSharing:
			if writeErr := r.write(conn, relayAnswer{Answer: envelope.AnswerSharing, Data: incoming.Data}); writeErr != nil {
				return writeErr
			}
		case envelope.StatusClose:
			return nil
		default:
			return r.write(conn, relayAnswer{Answer: fmt.Sprintf("Unexpected status %q", incoming.Status)})
		}
	}
}

func (r *Relay) read(conn *websocket.Conn) (clientEnvelope, error) {
	var incoming clientEnvelope
	_, payload, readErr := conn.ReadMessage()
	if readErr != nil {
		return incoming, readErr
	}
	var recorded map[string]any
	if unmarshalErr := json.Unmarshal(payload, &recorded); unmarshalErr != nil {
		return incoming, unmarshalErr
	}
	r.mu.Lock()
	r.received = append(r.received, recorded)
	r.mu.Unlock()
	return incoming, json.Unmarshal(payload, &incoming)
}

func (r *Relay) write(conn *websocket.Conn, answer relayAnswer) error {
	return conn.WriteJSON(answer)
}

// NewRelay creates a relay accepting the given tokens and pairing every
// registered client after the given delay
func NewRelay(pairAfter time.Duration, tokens ...int64) *Relay {
	return &Relay{
		tokens:    tokens,
		pairAfter: pairAfter,
	}
}

// RunRelay serves the relay until the listener fails
func RunRelay(host string, port int, relay *Relay) error {
	serverAddr := fmt.Sprintf("%s:%d", host, port)
	logrus.Infof("Starting relay server at %s", serverAddr)
	return http.ListenAndServe(serverAddr, relay.Handler())
}
