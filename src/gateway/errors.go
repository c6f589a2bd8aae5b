package gateway

import (
	"errors"
	"fmt"

	"personal/discord_gateway/src/opcodes"
)

var (
	// ErrShutdown is the disconnect reason of the attempt that was open
	// when the caller cancelled the shard's lifetime context. Run still
	// returns nil for a shutdown; only failures surface as a
	// *TerminatedError.
	ErrShutdown = errors.New("gateway: shutdown requested")

	// ErrHelloTimeout means no Hello arrived after connecting.
	ErrHelloTimeout = errors.New("gateway: timed out waiting for hello")

	// ErrZombie means a heartbeat went unacknowledged for a full interval.
	ErrZombie = errors.New("gateway: heartbeat not acknowledged")

	// ErrReconnectRequested is the disconnect reason for an inbound
	// Reconnect payload.
	ErrReconnectRequested = errors.New("gateway: server requested reconnect")

	// ErrInvalidSession is the disconnect reason for an inbound
	// InvalidSession payload.
	ErrInvalidSession = errors.New("gateway: session invalidated")

	// ErrNotConnected is returned by Shard.Send outside the Connected
	// state.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrTooManyFailures means the consecutive failure budget ran out.
	ErrTooManyFailures = errors.New("gateway: too many consecutive connection failures")

	// ErrResponderTimeout marks a responder that did not finish in time.
	ErrResponderTimeout = errors.New("gateway: responder timed out")
)

// TransportError is every failure that crosses the transport boundary.
// CloseCode is set when the remote closed the connection with a code.
type TransportError struct {
	Op        string
	CloseCode opcodes.CloseCode
	Err       error
}

func (e *TransportError) Error() string {
	if e.CloseCode != 0 {
		return fmt.Sprintf("transport %s: closed with code %d: %v", e.Op, e.CloseCode, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TerminatedError is returned by Shard.Run when the connection reached
// the Terminated state for any reason other than shutdown. No further
// reconnects are attempted.
type TerminatedError struct {
	Reason error
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("gateway terminated: %v", e.Reason)
}

func (e *TerminatedError) Unwrap() error { return e.Reason }

// disconnect describes how one connection attempt ended.
type disconnect struct {
	err       error
	resumable bool
	fatal     bool
	// connected is true when the attempt reached the Connected state.
	connected bool
}

// classify turns a receive-side error into a disconnect.
func classify(err error) disconnect {
	var te *TransportError
	if errors.As(err, &te) && te.CloseCode != 0 {
		return disconnect{
			err:       err,
			resumable: te.CloseCode.Resumable(),
			fatal:     te.CloseCode.Fatal(),
		}
	}
	return disconnect{err: err, resumable: true}
}
