// Package envelope contains the messages exchanged with the relay server
package envelope

import "encoding/json"

// Status values carried by outbound envelopes
const (
	StatusRegistration = "registration"
	StatusReady        = "I am ready to get"
	StatusSharing      = "sharing"
	StatusClose        = "Close connection"
)

// DefaultClientType is the identity this client registers with
const DefaultClientType = "pi"

// Outbound is an envelope sent by the client. The set of implementations is closed.
type Outbound interface {
	Status() string
	outbound()
}

// Registration is the first envelope sent after the transport is established
type Registration struct {
	Type  string
	Token int64
}

// Status implements Outbound
func (Registration) Status() string { return StatusRegistration }

func (Registration) outbound() {}

// MarshalJSON implements json.Marshaler
func (r Registration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status string `json:"status"`
		Type   string `json:"type"`
		Token  int64  `json:"token"`
	}{
		Status: StatusRegistration,
		Type:   r.Type,
		Token:  r.Token,
	})
}

// Ready is the reply to the pairing notification
type Ready struct{}

// Status implements Outbound
func (Ready) Status() string { return StatusReady }

func (Ready) outbound() {}

// MarshalJSON implements json.Marshaler
func (Ready) MarshalJSON() ([]byte, error) {
	return statusOnly(StatusReady)
}

// Sharing carries a single outbound snapshot. Data already contains the vcode.
type Sharing struct {
	Data map[string]any
}

// Status implements Outbound
func (Sharing) Status() string { return StatusSharing }

func (Sharing) outbound() {}

// MarshalJSON implements json.Marshaler
func (s Sharing) MarshalJSON() ([]byte, error) {
	data := s.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}{
		Status: StatusSharing,
		Data:   data,
	})
}

// Close announces that the client is going away
type Close struct{}

// Status implements Outbound
func (Close) Status() string { return StatusClose }

func (Close) outbound() {}

// MarshalJSON implements json.Marshaler
func (Close) MarshalJSON() ([]byte, error) {
	return statusOnly(StatusClose)
}

func statusOnly(status string) ([]byte, error) {
	return json.Marshal(struct {
		Status string `json:"status"`
	}{Status: status})
}

// NewRegistration builds a registration request for the given token
func NewRegistration(clientType string, token int64) Registration {
	if clientType == "" {
		clientType = DefaultClientType
	}
	return Registration{Type: clientType, Token: token}
}

// NewReady creates the pairing acknowledgement
func NewReady() Ready {
	return Ready{}
}

// NewSharing wraps a snapshot payload
func NewSharing(data map[string]any) Sharing {
	return Sharing{Data: data}
}

// NewClose creates the shutdown announcement
func NewClose() Close {
	return Close{}
}
