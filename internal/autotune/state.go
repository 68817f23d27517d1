package autotune

// State is the relay state of a Tuner
type State int

const (
	StateOff State = iota
	StateStepUp
	StateStepDown
	StateSucceeded
	StateFailed
)

// States lists every state in declaration order
var States = []State{StateOff, StateStepUp, StateStepDown, StateSucceeded, StateFailed}

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateStepUp:
		return "relay step up"
	case StateStepDown:
		return "relay step down"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the tuning run has concluded in this state
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// MarshalText renders the state name, so results serialize readably
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
