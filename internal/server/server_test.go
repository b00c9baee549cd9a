package server

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ehabkost/passerd/internal/db"
	"github.com/ehabkost/passerd/internal/identity"
	"github.com/ehabkost/passerd/internal/irc"
	"github.com/ehabkost/passerd/internal/metrics"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	store := db.NewStore(database, zap.NewNop())

	s, err := New(Config{
		Addr:       ":0",
		HTTPAddr:   ":0",
		ServerName: "irc.test",
		Version:    "test",
		APIBaseURL: "http://api.invalid/1",
		Store:      store,
		Identity:   identity.NewCache(store, zap.NewNop()),
		Metrics:    metrics.New(),
		Log:        zap.NewNop(),
	})
	require.NoError(t, err)
	return s
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{APIBaseURL: "http://api.invalid/1"})
	assert.Error(t, err)

	_, err = New(Config{Log: zap.NewNop()})
	assert.Error(t, err)
}

// TestSessionOverPipe runs a whole registration handshake through the real
// line framing, the way a TCP client would.
func TestSessionOverPipe(t *testing.T) {
	s := newTestServer(t)

	client, server := net.Pipe()
	s.StartSession(irc.NewLineConn(server))

	_, err := client.Write([]byte("NICK probe\r\nUSER probe 0 * :Probe\r\n"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(client)
	var welcome, motdEnd bool
	for !welcome || !motdEnd {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, " 001 probe ") {
			welcome = true
		}
		if strings.Contains(line, " 376 probe ") {
			motdEnd = true
		}
	}

	client.Close()
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "passerd_sessions_active")
	assert.Contains(t, rec.Body.String(), "passerd_users_registered")
}

// TestWebSocketSession registers over the WebSocket endpoint, one text frame
// per IRC line.
func TestWebSocketSession(t *testing.T) {
	s := newTestServer(t)

	srv := httptest.NewServer(s.router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/irc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("NICK wsprobe")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("USER wsprobe 0 * :Probe")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var welcome bool
	for !welcome {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if strings.Contains(string(data), " 001 wsprobe ") {
			welcome = true
		}
	}
}
