package broker

// Phase enumerates the connection lifecycle of a Session.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Failed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the observable connection state. Reason is set only for Failed.
type State struct {
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason,omitempty"`
}

func (s State) String() string {
	if s.Phase == Failed && s.Reason != "" {
		return s.Phase.String() + ": " + s.Reason
	}
	return s.Phase.String()
}

// Connected reports whether the session can publish.
func (s State) Connected() bool { return s.Phase == Connected }

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
