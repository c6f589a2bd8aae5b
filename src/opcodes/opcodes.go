package opcodes

import "fmt"

// Opcode selects the payload variant carried in the "op" field of a
// gateway frame.
//
// 0	Dispatch	Receive	An event was dispatched.
// 1	Heartbeat	Send/Receive	Fired periodically by the client to keep the connection alive.
// 2	Identify	Send	Starts a new session during the initial handshake.
// 3	Presence Update	Send	Update the client's presence.
// 4	Voice State Update	Send	Used to join/leave or move between voice channels.
// 6	Resume	Send	Resume a previous session that was disconnected.
// 7	Reconnect	Receive	You should attempt to reconnect and resume immediately.
// 8	Request Guild Members	Send	Request information about offline guild members in a large guild.
// 9	Invalid Session	Receive	The session has been invalidated. You should reconnect and identify/resume accordingly.
// 10	Hello	Receive	Sent immediately after connecting, contains the heartbeat_interval to use.
// 11	Heartbeat ACK	Receive	Sent in response to receiving a heartbeat to acknowledge that it has been received.
type Opcode int

// receive only
const (
	Dispatch       Opcode = 0
	Reconnect      Opcode = 7
	InvalidSession Opcode = 9
	Hello          Opcode = 10
	HeartbeatACK   Opcode = 11
)

// send / receive
const Heartbeat Opcode = 1

// send only
const (
	Identify            Opcode = 2
	PresenceUpdate      Opcode = 3
	VoiceStateUpdate    Opcode = 4
	Resume              Opcode = 6
	RequestGuildMembers Opcode = 8
)

func (o Opcode) String() string {
	switch o {
	case Dispatch:
		return "Dispatch"
	case Heartbeat:
		return "Heartbeat"
	case Identify:
		return "Identify"
	case PresenceUpdate:
		return "PresenceUpdate"
	case VoiceStateUpdate:
		return "VoiceStateUpdate"
	case Resume:
		return "Resume"
	case Reconnect:
		return "Reconnect"
	case RequestGuildMembers:
		return "RequestGuildMembers"
	case InvalidSession:
		return "InvalidSession"
	case Hello:
		return "Hello"
	case HeartbeatACK:
		return "HeartbeatACK"
	default:
		return fmt.Sprintf("Opcode(%d)", int(o))
	}
}
