// Package gatewayconn abstracts the voice gateway's WebSocket control
// channel behind a small interface, replacing the source's signal/slot
// WebSocket collaborator (connect/send/stop plus open/close/message
// signals) with explicit methods a caller drives from its own read loop.
package gatewayconn

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

// StatusCode re-exports the WebSocket close status code type so callers
// don't need to import nhooyr.io/websocket directly just to close a Conn.
type StatusCode = websocket.StatusCode

const (
	StatusNormalClosure   = websocket.StatusNormalClosure
	StatusInternalError   = websocket.StatusInternalError
	StatusServiceRestart  = websocket.StatusServiceRestart
	StatusGoingAway       = websocket.StatusGoingAway
)

// DialTimeout bounds how long Dial waits for the initial handshake.
const DialTimeout = 10 * time.Second

// Conn is the control-channel collaborator the voice client drives. A
// production Conn is backed by a real WebSocket; a test Conn can be
// entirely in-memory (see gatewayconn.NewMock).
type Conn interface {
	// Dial opens the connection to url and blocks until the handshake
	// completes or ctx is done.
	Dial(ctx context.Context, url string) error
	// Read blocks for the next text frame. It returns an error (wrapping
	// the close code, if any) when the connection is closed.
	Read(ctx context.Context) ([]byte, error)
	// Send writes a single text frame.
	Send(ctx context.Context, data []byte) error
	// Close closes the connection with the given status code.
	Close(code StatusCode, reason string) error
}

// wsConn is the production Conn, a thin wrapper around nhooyr.io/websocket
// in the style of the teacher's vRead/vSend helpers in voice_gateway.go.
type wsConn struct {
	c *websocket.Conn
}

// New returns a Conn backed by nhooyr.io/websocket.
func New() Conn {
	return &wsConn{}
}

func (w *wsConn) Dial(ctx context.Context, url string) error {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	c, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return err
	}
	w.c = c
	return nil
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Send(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code StatusCode, reason string) error {
	return w.c.Close(code, reason)
}
