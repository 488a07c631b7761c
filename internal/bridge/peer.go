package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeDeadline is the maximum time allowed for a single write. Both ends
// run on the same host; a peer stalled longer than this is treated as dead.
const writeDeadline = 5 * time.Second

// readDeadline is extended on every pong. Three missed pings close the
// connection.
const readDeadline = 90 * time.Second

// pingInterval is the server-initiated keepalive interval.
const pingInterval = 30 * time.Second

// maxReadMessageSize bounds one incoming frame. Register requests and key-down
// frames with a focused-element fragment stay well below it.
const maxReadMessageSize = 64 * 1024

var wsUpgrader = websocket.Upgrader{
	// The hub binds to loopback by default; origin checks add nothing for
	// local producers such as a WebView or terminal front-end.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// peer wraps one websocket connection. gorilla/websocket does not allow
// concurrent writers, so every write goes through writeMu.
type peer struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{conn: conn, done: make(chan struct{})}
}

// prepareRead applies the read limit, read deadline and pong handler.
func (p *peer) prepareRead() error {
	p.conn.SetReadLimit(maxReadMessageSize)
	if err := p.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return err
	}
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	// Pings from the other end count as activity too.
	p.conn.SetPingHandler(func(data string) error {
		if err := p.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return err
		}
		err := p.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeDeadline))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return nil
}

// writeJSON encodes v and writes it as one text frame. A failed write closes
// the connection; the read loop then observes the close and cleans up.
func (p *peer) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge: encode frame: %w", err)
	}
	return p.write(websocket.TextMessage, payload)
}

func (p *peer) write(messageType int, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		p.close("SetWriteDeadline failure")
		return fmt.Errorf("bridge: set write deadline: %w", err)
	}
	err := p.conn.WriteMessage(messageType, payload)
	if clearErr := p.conn.SetWriteDeadline(time.Time{}); clearErr != nil {
		slog.Debug("[DEBUG-BRIDGE] clear write deadline failed (non-fatal)", "error", clearErr)
	}
	if err != nil {
		p.close("write error")
		return fmt.Errorf("bridge: write: %w", err)
	}
	return nil
}

// close is idempotent and safe from any goroutine.
func (p *peer) close(reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		if err := p.conn.Close(); err != nil {
			slog.Debug("[DEBUG-BRIDGE] connection close", "reason", reason, "error", err)
		}
	})
}

// pingLoop sends keepalive pings until the peer is closed or a ping fails.
func (p *peer) pingLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] bridge pingLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			p.close("pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				slog.Debug("[DEBUG-BRIDGE] ping failed, connection likely dead", "error", err)
				return
			}
		}
	}
}

// readFrame blocks for the next text frame. Non-text frames are skipped.
func (p *peer) readFrame() ([]byte, error) {
	for {
		msgType, msg, err := p.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return msg, nil
		}
	}
}

func isExpectedClose(err error) bool {
	return !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
}
