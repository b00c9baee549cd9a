package irc

import (
	"net"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Message
	}{
		{
			name: "command only",
			line: "QUIT",
			want: Message{Command: "QUIT"},
		},
		{
			name: "params and trailing",
			line: "PRIVMSG #twitter :hello there",
			want: Message{Command: "PRIVMSG", Params: []string{"#twitter", "hello there"}},
		},
		{
			name: "prefix",
			line: ":alice!alice@example.net PRIVMSG bob :psst",
			want: Message{
				Prefix:  Prefix{Name: "alice", User: "alice", Host: "example.net"},
				Command: "PRIVMSG",
				Params:  []string{"bob", "psst"},
			},
		},
		{
			name: "server prefix",
			line: ":irc.example.net 001 alice :Welcome",
			want: Message{
				Prefix:  Prefix{Name: "irc.example.net"},
				Command: "001",
				Params:  []string{"alice", "Welcome"},
			},
		},
		{
			name: "lowercase command is normalized",
			line: "nick alice",
			want: Message{Command: "NICK", Params: []string{"alice"}},
		},
		{
			name: "trailing with colon content",
			line: "USER alice 0 * :Alice :-) Person",
			want: Message{Command: "USER", Params: []string{"alice", "0", "*", "Alice :-) Person"}},
		},
		{
			name: "empty trailing",
			line: "TOPIC #twitter :",
			want: Message{Command: "TOPIC", Params: []string{"#twitter", ""}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMessage(tt.line))
		})
	}
}

func TestMessageString(t *testing.T) {
	m := Message{
		Prefix:  Prefix{Name: "passerd-bot", User: "passerd", Host: "passerd.example"},
		Command: "PRIVMSG",
		Params:  []string{"#twitter", "hello there"},
	}
	assert.Equal(t, ":passerd-bot!passerd@passerd.example PRIVMSG #twitter :hello there", m.String())

	// single-word trailing needs no colon
	m = Message{Command: "NICK", Params: []string{"alice"}}
	assert.Equal(t, "NICK alice", m.String())

	// empty trailing keeps its colon
	m = Message{Command: "TOPIC", Params: []string{"#twitter", ""}}
	assert.Equal(t, "TOPIC #twitter :", m.String())
}

func TestMessageRoundTrip(t *testing.T) {
	lines := []string{
		":alice!alice@example.net PRIVMSG #twitter :hi there",
		"PING :irc.example.net",
		"353 alice = #twitter :alice bob carol",
	}
	for _, line := range lines {
		assert.Equal(t, line, ParseMessage(line).String())
	}
}

func TestParamHelpers(t *testing.T) {
	m := ParseMessage("KICK #twitter bob :bye")
	assert.Equal(t, "#twitter", m.Param(0))
	assert.Equal(t, "bob", m.Param(1))
	assert.Equal(t, "bye", m.Trailing())
	assert.Empty(t, m.Param(7))
}

func TestDecodeCTCP(t *testing.T) {
	tag, payload, ok := DecodeCTCP("\x01ACTION waves\x01")
	require.True(t, ok)
	assert.Equal(t, "ACTION", tag)
	assert.Equal(t, "waves", payload)

	tag, payload, ok = DecodeCTCP("\x01VERSION\x01")
	require.True(t, ok)
	assert.Equal(t, "VERSION", tag)
	assert.Empty(t, payload)

	_, _, ok = DecodeCTCP("just a normal message")
	assert.False(t, ok)
}

func TestEncodeCTCP(t *testing.T) {
	assert.Equal(t, "\x01ACTION waves\x01", EncodeCTCP("ACTION", "waves"))
	assert.Equal(t, "\x01VERSION\x01", EncodeCTCP("VERSION", ""))
}

func TestLineConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	c := NewLineConn(server)
	defer c.Close()

	go func() {
		client.Write([]byte("NICK alice\r\nUSER alice 0 * :Alice\r\n"))
	}()

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "NICK alice", line)
	line, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "USER alice 0 * :Alice", line)

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		done <- string(buf[:n])
	}()
	require.NoError(t, c.WriteLine("PING :hello"))
	assert.Equal(t, "PING :hello\r\n", <-done)
}

func TestLineConnLatin1Fallback(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	c := NewLineConn(server)
	defer c.Close()

	go func() {
		// "óu" in ISO-8859-1
		client.Write([]byte("PRIVMSG #twitter :\xf3u\r\n"))
	}()

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "PRIVMSG #twitter :óu", line)
}

func TestWriteLineStripsNewlines(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	c := NewLineConn(server)
	defer c.Close()

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		done <- string(buf[:n])
	}()
	require.NoError(t, c.WriteLine("PRIVMSG #twitter :two\nlines"))
	assert.Equal(t, "PRIVMSG #twitter :two lines\r\n", <-done)
}

func TestWriteLineTruncatesOnRuneBoundary(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	c := NewLineConn(server)
	defer c.Close()

	// byte 510 falls in the middle of the two-byte é
	long := "PING :" + strings.Repeat("a", 503) + "é tail"
	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 1024)
		n, _ := client.Read(buf)
		done <- string(buf[:n])
	}()
	require.NoError(t, c.WriteLine(long))

	got := <-done
	assert.Equal(t, "PING :"+strings.Repeat("a", 503)+"\r\n", got)
	assert.True(t, utf8.ValidString(got))
}
