package server

import (
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ehabkost/passerd/internal/irc"
	"github.com/ehabkost/passerd/internal/metrics"
	"github.com/ehabkost/passerd/internal/textenc"
)

// countingConn wraps a line transport with traffic counters.
type countingConn struct {
	irc.LineConn
	m *metrics.Metrics
}

func (c countingConn) ReadLine() (string, error) {
	line, err := c.LineConn.ReadLine()
	if err == nil {
		c.m.LineIn()
	}
	return line, err
}

func (c countingConn) WriteLine(line string) error {
	err := c.LineConn.WriteLine(line)
	if err == nil {
		c.m.LineOut()
	}
	return err
}

// wsWriteWait bounds each frame write so a stalled client cannot block the
// session's event loop.
const wsWriteWait = 10 * time.Second

// wsConn adapts a WebSocket connection to the line transport: one text frame
// per IRC line, no CRLF framing on the wire.
type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) irc.LineConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if kind != websocket.TextMessage {
			continue
		}
		line := strings.TrimRight(string(data), "\r\n")
		return textenc.Decode([]byte(line)), nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
