package gateway

// State is the connection state of a Shard.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateConnected
	StateReconnecting
	StateZombied
	StateTerminated
)

var stateNames = [...]string{
	StateDisconnected:  "Disconnected",
	StateConnecting:    "Connecting",
	StateAwaitingHello: "AwaitingHello",
	StateIdentifying:   "Identifying",
	StateResuming:      "Resuming",
	StateConnected:     "Connected",
	StateReconnecting:  "Reconnecting",
	StateZombied:       "Zombied",
	StateTerminated:    "Terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// StateObserver is called on every transition, from the goroutine
// running the state machine. It must not block.
type StateObserver func(from, to State)
