package session

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// frameConn is the transport surface the runner needs: the auth.Conn
// text round trip plus raw frame access for the structure fetch and
// receive loop. wsConn is the real implementation; tests supply a fake.
type frameConn interface {
	SendText(ctx context.Context, msg string) error
	RecvText(ctx context.Context) (string, error)
	ReadFrame() (int, []byte, error)
	WriteText(msg string) error
	Close() error
}

// wsConn adapts a gorilla/websocket connection to auth.Conn and adds the
// binary frame reads the receive loop needs. Like the underlying
// gorilla/websocket connection, it allows at most one concurrent reader and
// one concurrent writer. Once the receive loop starts, the keepalive sender
// is its only writer and the receive loop's reader goroutine its only reader.
type wsConn struct {
	conn *websocket.Conn
}

// dial opens a websocket to the Miniserver's binary status endpoint. scheme
// is "ws" or "wss"; every session, on either scheme, then runs the
// authentication handshake over this connection.
func dial(ctx context.Context, scheme, host string) (frameConn, error) {
	u := url.URL{Scheme: scheme, Host: host, Path: "/ws/rfc6455"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", u.String(), err)
	}
	return &wsConn{conn: conn}, nil
}

func (w *wsConn) SendText(_ context.Context, msg string) error {
	return w.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (w *wsConn) RecvText(_ context.Context) (string, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if kind == websocket.TextMessage {
			return string(data), nil
		}
		// Binary frames arriving before the handshake completes (e.g. a
		// stray keepalive header) are not expected; skip rather than fail.
	}
}

// ReadFrame returns the next frame's message kind and payload.
func (w *wsConn) ReadFrame() (int, []byte, error) {
	return w.conn.ReadMessage()
}

func (w *wsConn) WriteText(msg string) error {
	return w.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
