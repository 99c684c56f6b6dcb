package gateway

import "fmt"

// ConnState is the lifecycle state of one websocket connection
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateSubscribed
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateDisconnected:
		return "DISCONNECTED"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

var transitions = map[ConnState][]ConnState{
	StateConnecting:    {StateAuthenticated, StateDisconnected},
	StateAuthenticated: {StateSubscribed, StateDisconnected},
	StateSubscribed:    {StateAuthenticated, StateDisconnected},
}

// CanTransition reports whether moving from s to next is allowed. DISCONNECTED is terminal.
func (s ConnState) CanTransition(next ConnState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
