package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamClient reads through the bytes the handshake left buffered before
// reading from the connection itself.
type streamClient struct {
	conn net.Conn
	r    io.Reader
}

func (c *streamClient) rw() io.ReadWriter {
	return struct {
		io.Reader
		io.Writer
	}{c.r, c.conn}
}

func dialStream(t *testing.T, env *testEnv) *streamClient {
	t.Helper()
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(http.Header{"X-Forwarded-For": []string{testIP}}),
	}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/entries/cooldown/stream"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, br, _, err := dialer.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &streamClient{conn: conn, r: conn}
	if br != nil {
		c.r = io.MultiReader(io.LimitReader(br, int64(br.Buffered())), conn)
		t.Cleanup(func() { ws.PutReader(br) })
	}
	return c
}

func readFrame(t *testing.T, c *streamClient) map[string]any {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := wsutil.ReadServerText(c.rw())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// readUntil reads frames until one of the given type arrives.
func readUntil(t *testing.T, c *streamClient, msgType string) map[string]any {
	t.Helper()
	for i := 0; i < 500; i++ {
		if m := readFrame(t, c); m["type"] == msgType {
			return m
		}
	}
	t.Fatalf("no %q frame received", msgType)
	return nil
}

func TestStream_InactiveSendsDone(t *testing.T) {
	env := newTestEnv(t)
	conn := dialStream(t, env)

	m := readFrame(t, conn)
	assert.Equal(t, "done", m["type"])
}

func TestStream_CooldownCountsDownThenDone(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/entries", content("first entry text")).Code)

	conn := dialStream(t, env)

	m := readFrame(t, conn)
	assert.Equal(t, "status", m["type"])
	assert.Equal(t, true, m["active"])
	assert.Equal(t, "cooldown", m["kind"])
	assert.Equal(t, float64(30), m["remainingSeconds"])
	assert.Equal(t, "2025-01-01T00:00:30.000Z", m["until"])

	env.clock.Advance(30 * time.Second)
	readUntil(t, conn, "done")
}

func TestStream_Ping(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/entries/report-attack", map[string]string{"attackType": "XSS"})

	conn := dialStream(t, env)
	first := readFrame(t, conn)
	require.Equal(t, "status", first["type"])
	assert.Equal(t, "XSS", first["reason"])

	require.NoError(t, wsutil.WriteClientText(conn.conn, []byte(`{"type":"ping"}`)))
	readUntil(t, conn, "pong")

	require.NoError(t, wsutil.WriteClientText(conn.conn, []byte(`{"type":"bogus"}`)))
	e := readUntil(t, conn, "error")
	assert.Equal(t, "invalid_message", e["code"])
}

func TestStream_ControlPingAnsweredBetweenStatusFrames(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/entries/report-attack", map[string]string{"attackType": "XSS"})

	conn := dialStream(t, env)
	require.Equal(t, "status", readFrame(t, conn)["type"])

	// Status frames keep arriving every 10ms while the pings are answered;
	// every frame read back must parse cleanly.
	for i := 0; i < 20; i++ {
		ping := ws.MaskFrameInPlace(ws.NewPingFrame([]byte("beat")))
		require.NoError(t, ws.WriteFrame(conn.conn, ping))
	}

	pongs := 0
	require.NoError(t, conn.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for pongs < 20 {
		f, err := ws.ReadFrame(conn.r)
		require.NoError(t, err)
		switch f.Header.OpCode {
		case ws.OpPong:
			assert.Equal(t, "beat", string(f.Payload))
			pongs++
		case ws.OpText:
			var m map[string]any
			require.NoError(t, json.Unmarshal(f.Payload, &m))
			assert.Equal(t, "status", m["type"])
		default:
			t.Fatalf("unexpected opcode %v", f.Header.OpCode)
		}
	}
}
