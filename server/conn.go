package server

import (
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riadafridishibly/dirsize/session"
)

// wsTransport adapts a websocket connection to session.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func newTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
			websocket.CloseAbnormalClosure,
		) || errors.Is(err, net.ErrClosed) {
			return nil, session.ErrClosed
		}
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, session.ErrClosed
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			return session.ErrClosed
		}
		return err
	}
	return nil
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}
