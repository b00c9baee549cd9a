package irc

import (
	"bufio"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/ehabkost/passerd/internal/textenc"
)

// LineConn is a transport delivering whole IRC lines with the framing
// already removed. The plain TCP implementation lives here; the server
// package provides a WebSocket-backed one.
type LineConn interface {
	// ReadLine blocks for the next inbound line, decoded to a string
	// (UTF-8, with a Latin-1 fallback for legacy clients).
	ReadLine() (string, error)
	// WriteLine sends one line, appending the CRLF framing.
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

type netLineConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// NewLineConn wraps a TCP connection in IRC line framing.
func NewLineConn(conn net.Conn) LineConn {
	return &netLineConn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, maxLineLen),
		w:    bufio.NewWriterSize(conn, maxLineLen),
	}
}

func (c *netLineConn) ReadLine() (string, error) {
	raw, err := c.r.ReadBytes('\n')
	if err != nil {
		return "", err
	}
	for len(raw) > 0 && (raw[len(raw)-1] == '\n' || raw[len(raw)-1] == '\r') {
		raw = raw[:len(raw)-1]
	}
	return textenc.Decode(raw), nil
}

func (c *netLineConn) WriteLine(line string) error {
	// never let embedded newlines break the framing
	line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
	if len(line) > maxLineLen-2 {
		cut := maxLineLen - 2
		// do not leave a split rune at the truncation point
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut]
	}
	if _, err := c.w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *netLineConn) Close() error {
	return c.conn.Close()
}

func (c *netLineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
