package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open gateway connection. ReadMessage is only called from the receive goroutine.
// WriteMessage and Close may be called concurrently with it.
type Transport interface {
	ReadMessage() (messageType int, frame []byte, err error)
	WriteMessage(messageType int, frame []byte) error
	// Close sends a close frame with code and drops the connection. Calling it more than once is a no-op.
	Close(code CloseCode, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

const (
	writeTimeout     = 10 * time.Second
	closeGracePeriod = time.Second
	readLimit        = 32 << 20
)

// WebSocketDialer dials gateway connections with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: HTTP %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) ReadMessage() (int, []byte, error) {
	mt, frame, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return 0, nil, &CloseError{Code: CloseCode(ce.Code), Reason: ce.Text}
		}
		return 0, nil, err
	}
	return mt, frame, nil
}

func (t *wsTransport) WriteMessage(messageType int, frame []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(messageType, frame)
}

func (t *wsTransport) Close(code CloseCode, reason string) error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(int(code), reason)
		// best effort, the peer may already be gone
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
