package opcodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpcode_WireValues(t *testing.T) {
	assert.Equal(t, Opcode(0), Dispatch)
	assert.Equal(t, Opcode(1), Heartbeat)
	assert.Equal(t, Opcode(2), Identify)
	assert.Equal(t, Opcode(6), Resume)
	assert.Equal(t, Opcode(7), Reconnect)
	assert.Equal(t, Opcode(9), InvalidSession)
	assert.Equal(t, Opcode(10), Hello)
	assert.Equal(t, Opcode(11), HeartbeatACK)

	assert.Equal(t, "HeartbeatACK", HeartbeatACK.String())
	assert.Equal(t, "Opcode(5)", Opcode(5).String())
}

func TestCloseCode_Classification(t *testing.T) {
	tests := []struct {
		code      CloseCode
		fatal     bool
		resumable bool
	}{
		{CloseNormal, false, true},
		{CloseAbnormal, false, true},
		{CloseUnknownError, false, true},
		{CloseDecodeError, false, true},
		{CloseRateLimited, false, true},
		{CloseInvalidSeq, false, false},
		{CloseSessionTimedOut, false, false},
		{CloseAuthFailed, true, false},
		{CloseInvalidShard, true, false},
		{CloseShardingNeeded, true, false},
		{CloseInvalidVersion, true, false},
		{CloseInvalidIntents, true, false},
		{CloseDisallowedIntents, true, false},
		{CloseCode(4999), false, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.fatal, tt.code.Fatal(), "fatal %d", tt.code)
		assert.Equal(t, tt.resumable, tt.code.Resumable(), "resumable %d", tt.code)
	}
}
