// Package gatewaytest provides an in-memory gateway transport for
// driving a Shard from tests.
package gatewaytest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"personal/discord_gateway/src/gateway"
	"personal/discord_gateway/src/opcodes"
)

var (
	errClosed       = errors.New("connection closed")
	errNotConnected = errors.New("not connected")
)

type frame struct {
	payload gateway.Payload
	err     error
}

type conn struct {
	uri     string
	inbound chan frame
	closed  chan struct{}
	once    sync.Once
}

func (c *conn) close() { c.once.Do(func() { close(c.closed) }) }

// Transport is a gateway.Transport backed by channels. Tests play the
// server: they push payloads the shard will receive and read what it
// sent.
type Transport struct {
	// ConnectErr, when set, is consulted on every Connect.
	ConnectErr func(uri string) error

	mu   sync.Mutex
	conn *conn

	connects    chan string
	disconnects chan bool
	sent        chan gateway.Payload
}

// NewTransport returns an idle transport.
func NewTransport() *Transport {
	return &Transport{
		connects:    make(chan string, 64),
		disconnects: make(chan bool, 64),
		sent:        make(chan gateway.Payload, 1024),
	}
}

func (t *Transport) current() *conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *Transport) Connect(ctx context.Context, uri string) error {
	if t.ConnectErr != nil {
		if err := t.ConnectErr(uri); err != nil {
			return &gateway.TransportError{Op: "connect", Err: err}
		}
	}

	c := &conn{uri: uri, inbound: make(chan frame, 256), closed: make(chan struct{})}
	t.mu.Lock()
	old := t.conn
	t.conn = c
	t.mu.Unlock()
	if old != nil {
		old.close()
	}

	select {
	case t.connects <- uri:
	default:
	}
	return nil
}

func (t *Transport) SendPayload(ctx context.Context, p gateway.Payload) error {
	c := t.current()
	if c == nil {
		return &gateway.TransportError{Op: "send", Err: errNotConnected}
	}
	select {
	case <-c.closed:
		return &gateway.TransportError{Op: "send", Err: errClosed}
	default:
	}

	select {
	case t.sent <- p:
		return nil
	case <-ctx.Done():
		return &gateway.TransportError{Op: "send", Err: ctx.Err()}
	}
}

func (t *Transport) ReceivePayload(ctx context.Context) (gateway.Payload, error) {
	c := t.current()
	if c == nil {
		return gateway.Payload{}, &gateway.TransportError{Op: "receive", Err: errNotConnected}
	}

	select {
	case f := <-c.inbound:
		return f.payload, f.err
	case <-c.closed:
		return gateway.Payload{}, &gateway.TransportError{Op: "receive", CloseCode: opcodes.CloseAbnormal, Err: errClosed}
	case <-ctx.Done():
		return gateway.Payload{}, &gateway.TransportError{Op: "receive", Err: ctx.Err()}
	}
}

func (t *Transport) Disconnect(reconnectIntended bool) error {
	t.mu.Lock()
	c := t.conn
	t.conn = nil
	t.mu.Unlock()

	if c == nil {
		return nil
	}
	c.close()

	select {
	case t.disconnects <- reconnectIntended:
	default:
	}
	return nil
}

// Push delivers p to the current connection. It is dropped if there is
// none or it closes first.
func (t *Transport) Push(p gateway.Payload) {
	t.deliver(frame{payload: p})
}

// Close makes the current connection fail its next receive with code.
func (t *Transport) Close(code opcodes.CloseCode) {
	t.deliver(frame{err: &gateway.TransportError{
		Op:        "receive",
		CloseCode: code,
		Err:       errors.New("closed by server"),
	}})
}

func (t *Transport) deliver(f frame) {
	c := t.current()
	if c == nil {
		return
	}
	select {
	case c.inbound <- f:
	case <-c.closed:
	}
}

// Connects yields the URL of every Connect.
func (t *Transport) Connects() <-chan string { return t.connects }

// Sent yields every payload the shard wrote.
func (t *Transport) Sent() <-chan gateway.Payload { return t.sent }

// WaitConnect waits for the next Connect and returns its URL.
func (t *Transport) WaitConnect(tb testing.TB, timeout time.Duration) string {
	tb.Helper()
	select {
	case uri := <-t.connects:
		return uri
	case <-time.After(timeout):
		tb.Fatalf("no connect within %s", timeout)
		return ""
	}
}

// WaitDisconnect waits for the next Disconnect and returns its
// reconnectIntended flag.
func (t *Transport) WaitDisconnect(tb testing.TB, timeout time.Duration) bool {
	tb.Helper()
	select {
	case intended := <-t.disconnects:
		return intended
	case <-time.After(timeout):
		tb.Fatalf("no disconnect within %s", timeout)
		return false
	}
}

// Expect waits for the next sent payload with opcode op, skipping
// heartbeats unless op is Heartbeat.
func (t *Transport) Expect(tb testing.TB, op opcodes.Opcode, timeout time.Duration) gateway.Payload {
	tb.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case p := <-t.sent:
			if p.Op == op {
				return p
			}
			if p.Op != opcodes.Heartbeat {
				tb.Fatalf("expected %s, got %s", op, p.Op)
			}
		case <-deadline:
			tb.Fatalf("no %s sent within %s", op, timeout)
			return gateway.Payload{}
		}
	}
}

// Hello builds a Hello payload.
func Hello(interval time.Duration) gateway.Payload {
	return mustPayload(opcodes.Hello, gateway.HelloData{HeartbeatInterval: interval.Milliseconds()})
}

// Ready builds a READY dispatch.
func Ready(seq int64, sessionID, resumeURL string) gateway.Payload {
	p, err := gateway.DispatchPayload(gateway.EventReady, seq, gateway.ReadyData{
		SessionID:        sessionID,
		ResumeGatewayURL: resumeURL,
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Resumed builds a RESUMED dispatch.
func Resumed(seq int64) gateway.Payload {
	return Dispatch(gateway.EventResumed, seq, nil)
}

// Dispatch builds an arbitrary dispatch.
func Dispatch(event string, seq int64, data any) gateway.Payload {
	p, err := gateway.DispatchPayload(event, seq, data)
	if err != nil {
		panic(err)
	}
	return p
}

// Op builds a payload with no meaningful body.
func Op(op opcodes.Opcode) gateway.Payload {
	return gateway.Payload{Op: op}
}

// InvalidSession builds an InvalidSession payload.
func InvalidSession(resumable bool) gateway.Payload {
	return mustPayload(opcodes.InvalidSession, resumable)
}

func mustPayload(op opcodes.Opcode, data any) gateway.Payload {
	p, err := gateway.DispatchPayload("", 0, data)
	if err != nil {
		panic(err)
	}
	p.Op = op
	return p
}
