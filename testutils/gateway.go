package testutils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GatewayServer is a scripted stand-in for the Discord gateway. Each accepted connection is handed
// to the test through Accept, which then drives it frame by frame.
type GatewayServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *GatewayConn
	dials    atomic.Int32
	// AutoAck answers every heartbeat with a heartbeat ack.
	AutoAck atomic.Bool

	mu  sync.Mutex
	all []*GatewayConn
}

func NewGatewayServer(t *testing.T) *GatewayServer {
	t.Helper()
	g := &GatewayServer{
		conns: make(chan *GatewayConn, 16),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serveHTTP))
	t.Cleanup(g.Close)
	return g
}

// URL is the ws:// address of the server.
func (g *GatewayServer) URL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

// Dials is the number of connections accepted so far.
func (g *GatewayServer) Dials() int {
	return int(g.dials.Load())
}

func (g *GatewayServer) Close() {
	g.mu.Lock()
	for _, c := range g.all {
		c.ws.Close()
	}
	g.mu.Unlock()
	g.srv.Close()
}

func (g *GatewayServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.dials.Add(1)
	c := &GatewayConn{
		ws:      ws,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		frames:  make(chan Frame, 64),
		autoAck: &g.AutoAck,
	}
	g.mu.Lock()
	g.all = append(g.all, c)
	g.mu.Unlock()
	go c.readLoop()
	g.conns <- c
}

// Accept waits for the client to connect.
func (g *GatewayServer) Accept(t *testing.T, timeout time.Duration) *GatewayConn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(timeout):
		t.Fatalf("no gateway connection within %s", timeout)
	}
	return nil
}

// Frame is one message received from the client.
type Frame struct {
	MessageType int
	Data        []byte
}

// GatewayConn is the server side of one client connection.
type GatewayConn struct {
	ws      *websocket.Conn
	Path    string
	Query   url.Values
	frames  chan Frame
	autoAck *atomic.Bool
	sendMu  sync.Mutex
	readErr error
}

func (c *GatewayConn) readLoop() {
	defer close(c.frames)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		if c.autoAck.Load() && mt == websocket.TextMessage && gjson.GetBytes(data, "op").Int() == 1 {
			c.write(websocket.TextMessage, []byte(`{"op":11}`))
			continue
		}
		c.frames <- Frame{MessageType: mt, Data: data}
	}
}

func (c *GatewayConn) write(mt int, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.ws.WriteMessage(mt, data)
}

// Next returns the next frame from the client.
func (c *GatewayConn) Next(t *testing.T, timeout time.Duration) Frame {
	t.Helper()
	select {
	case f, ok := <-c.frames:
		if !ok {
			t.Fatalf("connection closed while waiting for a frame: %v", c.readErr)
		}
		return f
	case <-time.After(timeout):
		t.Fatalf("no frame within %s", timeout)
	}
	return Frame{}
}

// Expect reads JSON frames until one with the given opcode arrives and returns its payload. Other
// frames are skipped.
func (c *GatewayConn) Expect(t *testing.T, op int, timeout time.Duration) gjson.Result {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("no op %d frame within %s", op, timeout)
		}
		f := c.Next(t, remaining)
		if gjson.GetBytes(f.Data, "op").Int() == int64(op) {
			return gjson.GetBytes(f.Data, "d")
		}
	}
}

// SendRaw writes a frame as is.
func (c *GatewayConn) SendRaw(t *testing.T, messageType int, data []byte) {
	t.Helper()
	if err := c.write(messageType, data); err != nil {
		t.Fatalf("failed to write frame: %s", err)
	}
}

// Send writes a JSON frame. seq < 0 and an empty event are omitted.
func (c *GatewayConn) Send(t *testing.T, op int, d any, seq int64, event string) {
	t.Helper()
	c.SendRaw(t, websocket.TextMessage, NewFrame(t, op, d, seq, event))
}

func (c *GatewayConn) SendHello(t *testing.T, interval time.Duration) {
	t.Helper()
	c.Send(t, 10, map[string]any{"heartbeat_interval": interval.Milliseconds()}, -1, "")
}

func (c *GatewayConn) SendDispatch(t *testing.T, seq int64, event string, d any) {
	t.Helper()
	c.Send(t, 0, d, seq, event)
}

// SendReady dispatches READY for sessionID with resumeURL as the resume gateway url.
func (c *GatewayConn) SendReady(t *testing.T, seq int64, sessionID, resumeURL string, guildIDs ...string) {
	t.Helper()
	guilds := make([]map[string]any, 0, len(guildIDs))
	for _, id := range guildIDs {
		guilds = append(guilds, map[string]any{"id": id, "unavailable": true})
	}
	c.SendDispatch(t, seq, "READY", map[string]any{
		"v":                  10,
		"user":               map[string]any{"id": "1", "username": "dgate"},
		"guilds":             guilds,
		"session_id":         sessionID,
		"resume_gateway_url": resumeURL,
	})
}

func (c *GatewayConn) SendInvalidSession(t *testing.T, resumable bool) {
	t.Helper()
	c.Send(t, 9, resumable, -1, "")
}

// CloseWith sends a close frame and drops the connection.
func (c *GatewayConn) CloseWith(t *testing.T, code int, reason string) {
	t.Helper()
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Logf("close frame not sent: %s", err)
	}
	c.ws.Close()
}

// WaitClosed waits for the client to drop the connection and returns the close code it sent, or
// -1 if it went away without a close frame.
func (c *GatewayConn) WaitClosed(t *testing.T, timeout time.Duration) int {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-c.frames:
			if ok {
				continue
			}
			var ce *websocket.CloseError
			if errors.As(c.readErr, &ce) {
				return ce.Code
			}
			return -1
		case <-deadline:
			t.Fatalf("connection not closed within %s", timeout)
			return 0
		}
	}
}

// NewFrame builds a JSON gateway frame.
func NewFrame(t *testing.T, op int, d any, seq int64, event string) []byte {
	t.Helper()
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("failed to marshal frame data: %s", err)
	}
	frame := []byte(`{}`)
	frame, _ = sjson.SetBytes(frame, "op", op)
	frame, err = sjson.SetRawBytes(frame, "d", data)
	if err != nil {
		t.Fatalf("failed to build frame: %s", err)
	}
	if seq >= 0 {
		frame, _ = sjson.SetBytes(frame, "s", seq)
	}
	if event != "" {
		frame, _ = sjson.SetBytes(frame, "t", event)
	}
	return frame
}
