package conn

// Phase is the coarse connection lifecycle position.
type Phase string

const (
	Disconnected Phase = "DISCONNECTED"
	Connecting   Phase = "CONNECTING"
	Connected    Phase = "CONNECTED"
	Failed       Phase = "ERROR"
)

// State is the observable connection state. Reason is set only for Failed.
type State struct {
	Phase  Phase
	Reason string
}

func (s State) String() string {
	if s.Phase == Failed && s.Reason != "" {
		return string(s.Phase) + "(" + s.Reason + ")"
	}
	return string(s.Phase)
}
