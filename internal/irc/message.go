// Package irc implements the slice of RFC 1459 the daemon speaks: message
// parsing and formatting, the numeric replies it emits, CTCP payload
// extraction and a line-framed connection wrapper.
package irc

import (
	"strings"
)

const (
	prefixByte   = ':'
	maxLineLen   = 512 // including trailing CRLF
	spaceTrimSet = " "
)

// Prefix is the source of a message: "nick!user@host", a bare server name,
// or empty for messages originated by the client.
type Prefix struct {
	Name string // nick or server name
	User string
	Host string
}

// ParsePrefix splits raw prefix text (without the leading colon).
func ParsePrefix(raw string) Prefix {
	p := Prefix{Name: raw}
	if i := strings.IndexByte(p.Name, '@'); i >= 0 {
		p.Host = p.Name[i+1:]
		p.Name = p.Name[:i]
	}
	if i := strings.IndexByte(p.Name, '!'); i >= 0 {
		p.User = p.Name[i+1:]
		p.Name = p.Name[:i]
	}
	return p
}

// String renders the prefix in wire form, without the leading colon.
func (p Prefix) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.User != "" {
		b.WriteByte('!')
		b.WriteString(p.User)
	}
	if p.Host != "" {
		b.WriteByte('@')
		b.WriteString(p.Host)
	}
	return b.String()
}

// IsZero reports whether the prefix is absent.
func (p Prefix) IsZero() bool {
	return p.Name == "" && p.User == "" && p.Host == ""
}

// Message is one IRC line. Params holds middle parameters plus the trailing
// parameter, which is re-encoded with a leading colon when it contains a
// space, starts with a colon, or is empty.
type Message struct {
	Prefix  Prefix
	Command string
	Params  []string
}

// ParseMessage parses one line (without CRLF). Malformed lines yield a
// message with an empty command, which callers treat as ignorable noise.
func ParseMessage(line string) Message {
	var msg Message
	line = strings.Trim(line, spaceTrimSet)
	if line == "" {
		return msg
	}

	if line[0] == prefixByte {
		i := strings.IndexByte(line, ' ')
		if i < 0 {
			return msg
		}
		msg.Prefix = ParsePrefix(line[1:i])
		line = strings.TrimLeft(line[i+1:], spaceTrimSet)
	}

	// everything after " :" is a single trailing parameter
	var trailing string
	hasTrailing := false
	if i := strings.Index(line, " :"); i >= 0 {
		trailing = line[i+2:]
		hasTrailing = true
		line = strings.Trim(line[:i], spaceTrimSet)
	} else if strings.HasPrefix(line, ":") {
		trailing = line[1:]
		hasTrailing = true
		line = ""
	}

	fields := strings.Fields(line)
	if len(fields) > 0 {
		msg.Command = strings.ToUpper(fields[0])
		msg.Params = fields[1:]
	}
	if hasTrailing {
		msg.Params = append(msg.Params, trailing)
	}
	return msg
}

// Param returns the i-th parameter or "" when absent.
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// Trailing returns the last parameter or "" when there is none.
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// String renders the message in wire form, without CRLF.
func (m Message) String() string {
	var b strings.Builder
	if !m.Prefix.IsZero() {
		b.WriteByte(prefixByte)
		b.WriteString(m.Prefix.String())
		b.WriteByte(' ')
	}
	b.WriteString(m.Command)
	for i, p := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && needsTrailing(p) {
			b.WriteByte(prefixByte)
		}
		b.WriteString(p)
	}
	return b.String()
}

func needsTrailing(p string) bool {
	return p == "" || p[0] == prefixByte || strings.ContainsRune(p, ' ')
}
