package ws

// State of the controller connection. Transitions:
//
// Disconnected -> Connecting
// Connecting   -> Connected | Disconnected
// Connected    -> Disconnected
//
// There is no terminal state: until Close, a disconnected manager always has a
// dial scheduled.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
