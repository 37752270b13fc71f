package driver

// State is a step of the connection lifecycle
type State int32

// Connection states. Disconnected is both the initial and the terminal state.
const (
	Disconnected State = iota
	Connecting
	Registering
	AwaitingPairing
	Sharing
	Closing
)

var stateNames = map[State]string{
	Disconnected:    "disconnected",
	Connecting:      "connecting",
	Registering:     "registering",
	AwaitingPairing: "awaiting_pairing",
	Sharing:         "sharing",
	Closing:         "closing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsOpen is true once the transport is up and until shutdown starts
func (s State) IsOpen() bool {
	return s == Registering || s == AwaitingPairing || s == Sharing
}
