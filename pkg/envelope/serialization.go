package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingAnswer is returned when an inbound envelope has no answer field
var ErrMissingAnswer = errors.New("envelope has no answer field")

// ErrUnencodable is returned when an outbound envelope carries data JSON cannot
// represent, such as NaN or infinite numbers
var ErrUnencodable = errors.New("envelope cannot be encoded")

// SerializeBytes serializes the envelope for transit over the wire
func SerializeBytes(o Outbound) ([]byte, error) {
	b, marshalErr := json.Marshal(o)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to serialize %q envelope: %w: %w", o.Status(), ErrUnencodable, marshalErr)
	}
	return b, nil
}

// Serialize serializes the envelope for logging
func Serialize(o Outbound) string {
	b, err := SerializeBytes(o)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

type rawInbound struct {
	Answer *string        `json:"answer"`
	Data   map[string]any `json:"data"`
}

// DeserializeBytes decodes an envelope received from the server
func DeserializeBytes(b []byte) (Inbound, error) {
	var raw rawInbound
	if unmarshalErr := json.Unmarshal(b, &raw); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", unmarshalErr)
	}
	if raw.Answer == nil {
		return nil, ErrMissingAnswer
	}
	return inboundFromAnswer(*raw.Answer, raw.Data), nil
}
