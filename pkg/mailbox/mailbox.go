// Package mailbox holds the next snapshot waiting to be sent to the relay
package mailbox

import (
	"maps"
	"strconv"
	"strings"
	"sync"
)

// VCodeKey is the payload key the stamp is sent under
const VCodeKey = "vcode"

const (
	vcodeLength = 6
	vcodeSpace  = 36 * 36 * 36 * 36 * 36 * 36
)

// Stamp identifies a staged snapshot. Stamps grow monotonically; zero means "nothing".
type Stamp uint64

// VCode renders the stamp as six characters from A-Z0-9
func (s Stamp) VCode() string {
	code := strings.ToUpper(strconv.FormatUint(uint64(s)%vcodeSpace, 36))
	return strings.Repeat("0", vcodeLength-len(code)) + code
}

// Snapshot is a staged payload together with its stamp
type Snapshot struct {
	Data  map[string]any
	Stamp Stamp
}

// Payload returns a copy of the data with the vcode added, ready for the wire
func (s Snapshot) Payload() map[string]any {
	payload := make(map[string]any, len(s.Data)+1)
	maps.Copy(payload, s.Data)
	payload[VCodeKey] = s.Stamp.VCode()
	return payload
}

// Mailbox is a single slot: staging replaces whatever has not been sent yet
type Mailbox struct {
	mu      sync.Mutex
	current *Snapshot
	last    Stamp

	staged chan struct{}
}

// Stage stores a copy of data as the next snapshot to send. It never blocks.
func (m *Mailbox) Stage(data map[string]any) Stamp {
	m.mu.Lock()
	m.last++
	m.current = &Snapshot{Data: maps.Clone(data), Stamp: m.last}
	stamp := m.last
	m.mu.Unlock()

	select {
	case m.staged <- struct{}{}:
	default:
	}
	return stamp
}

// PeekIfFresh returns the current snapshot unless it carries lastSent
func (m *Mailbox) PeekIfFresh(lastSent Stamp) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.Stamp == lastSent {
		return Snapshot{}, false
	}
	return Snapshot{Data: maps.Clone(m.current.Data), Stamp: m.current.Stamp}, true
}

// Staged receives a value after Stage was called. Wake-ups coalesce.
func (m *Mailbox) Staged() <-chan struct{} {
	return m.staged
}

// New creates an empty Mailbox
func New() *Mailbox {
	return &Mailbox{staged: make(chan struct{}, 1)}
}
