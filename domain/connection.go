package domain

// ConnectionState is the lifecycle state of a live channel.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateDegraded     ConnectionState = "degraded"
	StateReconnecting ConnectionState = "reconnecting"
	StateClosing      ConnectionState = "closing"
	StateClosed       ConnectionState = "closed"
)

var transitions = map[ConnectionState][]ConnectionState{
	StateIdle:         {StateConnecting, StateClosed},
	StateConnecting:   {StateOpen, StateReconnecting, StateClosing, StateClosed},
	StateOpen:         {StateDegraded, StateReconnecting, StateClosing, StateClosed},
	StateDegraded:     {StateOpen, StateReconnecting, StateClosing, StateClosed},
	StateReconnecting: {StateConnecting, StateClosing, StateClosed},
	StateClosing:      {StateClosed},
	StateClosed:       nil,
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to ConnectionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ConnectionState) IsTerminal() bool {
	return s == StateClosed
}

// IsLive reports whether a transport is currently attached.
func (s ConnectionState) IsLive() bool {
	return s == StateOpen || s == StateDegraded
}
