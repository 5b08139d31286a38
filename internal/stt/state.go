package stt

// State is the connection state of a Manager
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear by name in JSON and logs
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time snapshot of a Manager
type Status struct {
	State        State        `json:"state"`
	Available    bool         `json:"available"`
	Offline      bool         `json:"offline"`
	Health       HealthStatus `json:"health"`
	QueueLength  int          `json:"queue_length"`
	ReconnectTry int          `json:"reconnect_attempts"`
}
