package gateway

import (
	"encoding/json"
	"fmt"

	"personal/discord_gateway/src/opcodes"
)

// Payload is one gateway frame: {op, d, s, t}. S and T are only
// meaningful on Dispatch.
type Payload struct {
	Op opcodes.Opcode  `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// HelloData is the body of a Hello payload.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyData starts a fresh session.
type IdentifyData struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          *[2]int            `json:"shard,omitempty"`
	Presence       json.RawMessage    `json:"presence,omitempty"`
	Intents        int64              `json:"intents"`
}

// ResumeData continues an existing session.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// ReadyData is the part of the READY event the connection needs.
type ReadyData struct {
	SessionID        string          `json:"session_id"`
	ResumeGatewayURL string          `json:"resume_gateway_url"`
	User             json.RawMessage `json:"user,omitempty"`
	Shard            []int           `json:"shard,omitempty"`
}

// Event names the connection itself reacts to.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

func newPayload(op opcodes.Opcode, data any) (Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Payload{}, fmt.Errorf("could not marshal %s payload: %w", op, err)
	}
	return Payload{Op: op, D: raw}, nil
}

// HeartbeatPayload carries the last seen sequence, or null before the
// first dispatch.
func HeartbeatPayload(seq int64) Payload {
	d := json.RawMessage("null")
	if seq > 0 {
		d = json.RawMessage(fmt.Sprintf("%d", seq))
	}
	return Payload{Op: opcodes.Heartbeat, D: d}
}

// IdentifyPayload builds an Identify frame.
func IdentifyPayload(data IdentifyData) (Payload, error) {
	return newPayload(opcodes.Identify, data)
}

// ResumePayload builds a Resume frame.
func ResumePayload(data ResumeData) (Payload, error) {
	return newPayload(opcodes.Resume, data)
}

// DispatchPayload builds a Dispatch frame. Mostly useful to fakes.
func DispatchPayload(event string, seq int64, data any) (Payload, error) {
	p, err := newPayload(opcodes.Dispatch, data)
	if err != nil {
		return Payload{}, err
	}
	p.S = seq
	p.T = event
	return p, nil
}

// Hello decodes a Hello body.
func (p Payload) Hello() (HelloData, error) {
	var hello HelloData
	if p.Op != opcodes.Hello {
		return hello, fmt.Errorf("expected Hello (opcode %d), got %s", opcodes.Hello, p.Op)
	}
	if err := json.Unmarshal(p.D, &hello); err != nil {
		return hello, fmt.Errorf("could not unmarshal hello data: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return hello, fmt.Errorf("invalid heartbeat interval %d", hello.HeartbeatInterval)
	}
	return hello, nil
}

// Resumable decodes the boolean body of an InvalidSession payload. A
// missing or malformed body is treated as not resumable.
func (p Payload) Resumable() bool {
	var resumable bool
	if err := json.Unmarshal(p.D, &resumable); err != nil {
		return false
	}
	return resumable
}

// Ready decodes a READY dispatch body.
func (p Payload) Ready() (ReadyData, error) {
	var ready ReadyData
	if err := json.Unmarshal(p.D, &ready); err != nil {
		return ready, fmt.Errorf("could not unmarshal READY event data: %w", err)
	}
	return ready, nil
}

// Encode marshals the frame for the wire.
func (p Payload) Encode() ([]byte, error) {
	if p.D == nil {
		p.D = json.RawMessage("null")
	}
	return json.Marshal(p)
}

// DecodePayload parses one frame off the wire.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("could not unmarshal payload: %w (body: %s)", err, truncate(raw, 256))
	}
	return p, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
