package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// KeyClient sends key-down events to a hub's /keys endpoint. Each KeyDown
// waits for its reply, so one KeyClient handles one event at a time.
type KeyClient struct {
	peer *peer
	mu   sync.Mutex
}

// DialKeys connects to a hub's /keys endpoint.
func DialKeys(ctx context.Context, url string) (*KeyClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", url, err)
	}
	p := newPeer(conn)
	if err := p.prepareRead(); err != nil {
		p.close("initial SetReadDeadline failure")
		return nil, fmt.Errorf("bridge: prepare connection: %w", err)
	}
	go p.pingLoop()
	return &KeyClient{peer: p}, nil
}

// KeyDown sends one event and returns the hub's preventDefault decision.
// ctx cancellation closes the connection, since the reply can no longer be
// paired with its request.
func (k *KeyClient) KeyDown(ctx context.Context, frame KeyDownFrame) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { k.peer.close("context done") })
	defer stop()

	if err := k.peer.writeJSON(frame); err != nil {
		return false, errors.Join(ErrClosed, err)
	}
	if err := k.peer.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		k.peer.close("SetReadDeadline failure")
		return false, errors.Join(ErrClosed, err)
	}
	msg, err := k.peer.readFrame()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		k.peer.close("read error")
		return false, errors.Join(ErrClosed, err)
	}
	var reply KeyDownReply
	if err := json.Unmarshal(msg, &reply); err != nil {
		return false, fmt.Errorf("bridge: decode keydown reply: %w", err)
	}
	if reply.Error != "" {
		return false, &RemoteError{Method: "keydown", Message: reply.Error}
	}
	return reply.PreventDefault, nil
}

// Close closes the connection.
func (k *KeyClient) Close() {
	k.peer.close("client close")
}
