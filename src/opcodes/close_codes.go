package opcodes

// CloseCode is a websocket close code sent by the gateway.
type CloseCode int

const (
	CloseNormal            CloseCode = 1000
	CloseGoingAway         CloseCode = 1001
	CloseAbnormal          CloseCode = 1006
	CloseUnknownError      CloseCode = 4000
	CloseUnknownOpcode     CloseCode = 4001
	CloseDecodeError       CloseCode = 4002
	CloseNotAuthed         CloseCode = 4003
	CloseAuthFailed        CloseCode = 4004
	CloseAlreadyAuthed     CloseCode = 4005
	CloseInvalidSeq        CloseCode = 4007
	CloseRateLimited       CloseCode = 4008
	CloseSessionTimedOut   CloseCode = 4009
	CloseInvalidShard      CloseCode = 4010
	CloseShardingNeeded    CloseCode = 4011
	CloseInvalidVersion    CloseCode = 4012
	CloseInvalidIntents    CloseCode = 4013
	CloseDisallowedIntents CloseCode = 4014
)

// Fatal reports whether reconnecting after this close code can never
// succeed without operator intervention.
func (c CloseCode) Fatal() bool {
	switch c {
	case CloseAuthFailed, CloseInvalidShard, CloseShardingNeeded,
		CloseInvalidVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return true
	}
	return false
}

// Resumable reports whether the session survives this close code.
// Fatal codes are never resumable.
func (c CloseCode) Resumable() bool {
	switch c {
	case CloseInvalidSeq, CloseSessionTimedOut:
		return false
	}
	return !c.Fatal()
}
