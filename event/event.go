// Package event defines the typed event variant the engine emits to its
// host (spec §6.3), replacing the original's untyped callback +
// void*-discriminator with one sum-type-shaped struct per §9's redesign
// guidance.
package event

// Kind enumerates every event code in spec §6.3's table.
type Kind int

const (
	Initialize Kind = iota
	Destroy
	Connected
	Disconnected
	GotReset
	SendReset
	GotAckReset
	GotAckPing
	GotPing
	GotAck
	GotData
	ProcessSend
	ProcessReceive
	ProcessReceiveNoTRUDP
)

func (k Kind) String() string {
	switch k {
	case Initialize:
		return "INITIALIZE"
	case Destroy:
		return "DESTROY"
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	case GotReset:
		return "GOT_RESET"
	case SendReset:
		return "SEND_RESET"
	case GotAckReset:
		return "GOT_ACK_RESET"
	case GotAckPing:
		return "GOT_ACK_PING"
	case GotPing:
		return "GOT_PING"
	case GotAck:
		return "GOT_ACK"
	case GotData:
		return "GOT_DATA"
	case ProcessSend:
		return "PROCESS_SEND"
	case ProcessReceive:
		return "PROCESS_RECEIVE"
	case ProcessReceiveNoTRUDP:
		return "PROCESS_RECEIVE_NO_TRUDP"
	default:
		return "UNKNOWN"
	}
}

// Key identifies the (remote address, remote port, channel) triple an
// event pertains to. Zero value for events that are not scoped to one
// channel, such as Initialize and the engine-wide Destroy.
type Key struct {
	Addr    string
	Port    int
	Channel byte
}

// Event is the single typed carrier for every observable event. Which of
// the data fields below are meaningful depends on Kind, matching spec
// §6.3's data/data_length column:
//
//	Connected, GotReset, GotAckReset                -> no data
//	Disconnected                                    -> AgeUS (HasAge)
//	SendReset                                       -> ID (HasID)
//	GotAckPing, GotPing, GotData                    -> Payload
//	GotAck                                          -> Payload (full packet bytes), RTTSampleUS (HasRTT)
//	ProcessSend, ProcessReceive, ProcessReceiveNoTRUDP -> Payload (full buffer)
type Event struct {
	Kind    Kind
	Channel Key

	Payload     []byte
	AgeUS       int64
	ID          uint32
	RTTSampleUS int64
	HasAge      bool
	HasID       bool
	HasRTT      bool
}

// Sink receives every event the engine produces.
type Sink func(Event)

// Noop is a Sink that discards every event; useful as a zero-value
// default so callers need not nil-check before invoking it.
func Noop(Event) {}
