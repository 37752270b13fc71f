// Package failure maps transport and protocol failures to the error kinds shown to the user
package failure

import (
	"errors"
	"net"
	"syscall"
)

// User-facing messages
const (
	NetworkMessage         = "Check your internet connection and try again."
	InvalidTokenMessage    = "token failed validation"
	FallbackMessage        = "Connection to the server was lost."
	probeTimeoutErrMessage = "liveness probe was not acknowledged"
)

// Kind is the category of a ClassifiedError
type Kind int

// Error kinds
const (
	Unknown Kind = iota
	Validation
	Connectivity
	Protocol
)

var kindNames = map[Kind]string{
	Unknown:      "unknown",
	Validation:   "validation",
	Connectivity: "connectivity",
	Protocol:     "protocol",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrInvalidToken is returned when the token cannot be used for registration
var ErrInvalidToken = errors.New(InvalidTokenMessage)

// ErrProbeTimeout is returned when a ping is not answered in time
var ErrProbeTimeout = errors.New(probeTimeoutErrMessage)

// ProtocolError carries an answer the server sent that the client did not expect
type ProtocolError struct {
	Answer string
}

func (e *ProtocolError) Error() string {
	return e.Answer
}

// NewProtocolError creates a new ProtocolError instance
func NewProtocolError(answer string) *ProtocolError {
	return &ProtocolError{Answer: answer}
}

// ClassifiedError is what the rest of the application gets to see
type ClassifiedError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ClassifiedError) Error() string {
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify maps any error observed by the driver to a ClassifiedError. Nil stays nil.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, ErrInvalidToken) {
		return &ClassifiedError{Kind: Validation, Message: InvalidTokenMessage, Err: err}
	}
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return &ClassifiedError{Kind: Protocol, Message: protocolErr.Answer, Err: err}
	}
	if isConnectivity(err) {
		return &ClassifiedError{Kind: Connectivity, Message: NetworkMessage, Err: err}
	}
	message := err.Error()
	if message == "" {
		message = FallbackMessage
	}
	return &ClassifiedError{Kind: Unknown, Message: message, Err: err}
}

func isConnectivity(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, ErrProbeTimeout) {
		return true
	}
	for _, errno := range connectivityErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	// any OS level failure while dialing means the server was not reachable
	var opErr *net.OpError
	var errno syscall.Errno
	return errors.As(err, &opErr) && opErr.Op == "dial" && errors.As(opErr.Err, &errno)
}
