package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"personal/discord_gateway/src/opcodes"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"
)

// Transport is the I/O boundary of a connection. Every failure is
// returned as a *TransportError.
type Transport interface {
	Connect(ctx context.Context, uri string) error
	SendPayload(ctx context.Context, p Payload) error
	ReceivePayload(ctx context.Context) (Payload, error)
	// Disconnect closes the current connection. With reconnectIntended
	// the close code keeps the session resumable.
	Disconnect(reconnectIntended bool) error
}

// DefaultVersion is the gateway API version requested on connect.
const DefaultVersion = 10

// GatewayURL adds the version and encoding query to a gateway or resume
// URL.
func GatewayURL(base string, version int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL %q: %w", base, err)
	}
	if version <= 0 {
		version = DefaultVersion
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(version))
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// closeResumable is sent on intentional reconnects. 1000 and 1001
// invalidate the session server-side.
const closeResumable = 4900

// WebsocketTransport is the gorilla/websocket Transport. Binary frames
// are zlib-compressed payloads and are inflated before decoding.
type WebsocketTransport struct {
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWebsocketTransport returns a transport using dialer, or
// websocket.DefaultDialer when dialer is nil.
func NewWebsocketTransport(dialer *websocket.Dialer, logger zerolog.Logger) *WebsocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebsocketTransport{dialer: dialer, logger: logger}
}

func (t *WebsocketTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

var errNotConnected = errors.New("connection is not open")

func (t *WebsocketTransport) Connect(ctx context.Context, uri string) error {
	conn, res, err := t.dialer.DialContext(ctx, uri, http.Header{})
	if err != nil {
		if res != nil {
			err = fmt.Errorf("%w (status %d)", err, res.StatusCode)
		}
		return &TransportError{Op: "connect", Err: err}
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	t.logger.Debug().Str("url", uri).Msg("connected to gateway")
	return nil
}

func (t *WebsocketTransport) SendPayload(ctx context.Context, p Payload) error {
	conn := t.current()
	if conn == nil {
		return &TransportError{Op: "send", Err: errNotConnected}
	}

	raw, err := p.Encode()
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return &TransportError{Op: "send", Err: fmt.Errorf("could not send %s: %w", p.Op, err)}
	}
	return nil
}

// ReceivePayload blocks for the next frame. Cancelling ctx closes the
// connection to unblock the read.
func (t *WebsocketTransport) ReceivePayload(ctx context.Context) (Payload, error) {
	conn := t.current()
	if conn == nil {
		return Payload{}, &TransportError{Op: "receive", Err: errNotConnected}
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	kind, raw, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return Payload{}, &TransportError{Op: "receive", Err: ctx.Err()}
		}
		te := &TransportError{Op: "receive", Err: err}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			te.CloseCode = opcodes.CloseCode(ce.Code)
		}
		return Payload{}, te
	}

	if kind == websocket.BinaryMessage {
		if raw, err = inflate(raw); err != nil {
			return Payload{}, &TransportError{Op: "receive", Err: err}
		}
	}

	p, err := DecodePayload(raw)
	if err != nil {
		return Payload{}, &TransportError{Op: "receive", Err: err}
	}
	return p, nil
}

func (t *WebsocketTransport) Disconnect(reconnectIntended bool) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	code := websocket.CloseNormalClosure
	if reconnectIntended {
		code = closeResumable
	}

	t.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		t.logger.Debug().Err(err).Msg("failed to send close message")
	}

	if err := conn.Close(); err != nil {
		return &TransportError{Op: "disconnect", Err: fmt.Errorf("failed to close connection: %w", err)}
	}
	t.logger.Debug().Int("code", code).Msg("connection closed")
	return nil
}

func inflate(raw []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("could not open compressed payload: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not inflate payload: %w", err)
	}
	return out, nil
}
