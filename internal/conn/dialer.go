package conn

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is one established duplex connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes connections. The default implementation speaks
// websocket; tests substitute an in-memory one.
type Dialer interface {
	Dial(url string) (Conn, error)
}

// WebSocketDialer dials with gorilla's default websocket dialer.
type WebSocketDialer struct {
	Header http.Header
}

// Dial opens a websocket connection to url.
func (d WebSocketDialer) Dial(url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, d.Header)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
