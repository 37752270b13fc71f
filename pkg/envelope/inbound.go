package envelope

// Answer values sent by the relay server
const (
	AnswerRegistered   = "Successful registration of your client"
	AnswerPaired       = "Pair has been established"
	AnswerStartSharing = "Start sharing"
	AnswerSharing      = "sharing"
)

// Inbound is an envelope received from the server. The set of implementations
// is closed: Registered, Paired, StartSharing, SharingData and Rejection.
type Inbound interface {
	Answer() string
	inbound()
}

// Registered acknowledges a successful registration
type Registered struct{}

// Answer implements Inbound
func (Registered) Answer() string { return AnswerRegistered }

func (Registered) inbound() {}

// Paired tells the client that a remote peer was matched
type Paired struct{}

// Answer implements Inbound
func (Paired) Answer() string { return AnswerPaired }

func (Paired) inbound() {}

// StartSharing moves the exchange into the steady state
type StartSharing struct{}

// Answer implements Inbound
func (StartSharing) Answer() string { return AnswerStartSharing }

func (StartSharing) inbound() {}

// SharingData carries a snapshot from the remote peer
type SharingData struct {
	Data map[string]any
}

// Answer implements Inbound
func (SharingData) Answer() string { return AnswerSharing }

func (SharingData) inbound() {}

// Rejection is any answer the client does not recognize, usually an error text
type Rejection struct {
	Text string
}

// Answer implements Inbound
func (r Rejection) Answer() string { return r.Text }

func (Rejection) inbound() {}

func inboundFromAnswer(answer string, data map[string]any) Inbound {
	switch answer {
	case AnswerRegistered:
		return Registered{}
	case AnswerPaired:
		return Paired{}
	case AnswerStartSharing:
		return StartSharing{}
	case AnswerSharing:
		return SharingData{Data: data}
	}
	return Rejection{Text: answer}
}
