package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hotkeys2/internal/hotkeys"
	"hotkeys2/internal/workerutil"
)

// ErrClosed is returned by calls made on, or pending when, the connection
// closes.
var ErrClosed = errors.New("bridge: connection closed")

// RemoteError is an error reported by the hub for one request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: %s: %s", e.Method, e.Message)
}

// Client is an /attach connection. It implements hotkeys.Registrar: targets
// registered through it are invoked when the hub reports a match.
type Client struct {
	peer   *peer
	nextID atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan Frame
	targets  map[string]hotkeys.Target // target id -> target
	byHandle map[int]string            // handle -> target id
	closed   bool
}

var _ hotkeys.Registrar = (*Client)(nil)

// Dial connects to a hub's /attach endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", url, err)
	}
	p := newPeer(conn)
	if err := p.prepareRead(); err != nil {
		p.close("initial SetReadDeadline failure")
		return nil, fmt.Errorf("bridge: prepare connection: %w", err)
	}

	c := &Client{
		peer:     p,
		pending:  make(map[uint64]chan Frame),
		targets:  make(map[string]hotkeys.Target),
		byHandle: make(map[int]string),
	}
	go c.readLoop()
	go p.pingLoop()
	return c, nil
}

// Attacher returns a hotkeys.AttachFunc that dials url.
func Attacher(url string) hotkeys.AttachFunc {
	return func(ctx context.Context) (hotkeys.Registrar, error) {
		c, err := Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Register implements hotkeys.Registrar.
func (c *Client) Register(
	ctx context.Context,
	target hotkeys.Target,
	mode hotkeys.Mode,
	modifiers hotkeys.Modifier,
	keyEntry string,
	exclude hotkeys.Exclude,
	excludeSelector string,
	disabled bool,
) (int, error) {
	id := uuid.NewString()
	c.mu.Lock()
	c.targets[id] = target
	c.mu.Unlock()

	var result RegisterResult
	err := c.call(ctx, MethodRegister, RegisterParams{
		Target:          id,
		Mode:            int(mode),
		Modifiers:       int(modifiers),
		KeyEntry:        keyEntry,
		Exclude:         int(exclude),
		ExcludeSelector: excludeSelector,
		IsDisabled:      disabled,
	}, &result, c.releaseLateHandle)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		delete(c.targets, id)
		return hotkeys.NoHandle, err
	}
	c.byHandle[result.Handle] = id
	return result.Handle, nil
}

// Update implements hotkeys.Registrar.
func (c *Client) Update(ctx context.Context, handle int, disabled bool) error {
	return c.call(ctx, MethodUpdate, UpdateParams{Handle: handle, IsDisabled: disabled}, nil, nil)
}

// Unregister implements hotkeys.Registrar. The target is forgotten before the
// request is sent so a late invoke for the handle is dropped. A written
// request is applied by the hub even if ctx ends first; the hub handles one
// connection's requests in order.
func (c *Client) Unregister(ctx context.Context, handle int) error {
	c.mu.Lock()
	if id, ok := c.byHandle[handle]; ok {
		delete(c.targets, id)
		delete(c.byHandle, handle)
	}
	c.mu.Unlock()
	return c.call(ctx, MethodUnregister, UnregisterParams{Handle: handle}, nil, nil)
}

// Dispose implements hotkeys.Registrar: it disposes the remote surface and
// closes the connection.
func (c *Client) Dispose(ctx context.Context) error {
	err := c.call(ctx, MethodDispose, struct{}{}, nil, nil)
	c.Close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() {
	c.peer.close("client close")
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.peer.done }

// TargetCount returns the number of targets awaiting invocation.
func (c *Client) TargetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.targets)
}

// call sends one request and waits for its response. A request already
// written when ctx ends is still applied by the hub; its pending slot is kept
// and settle, when non-nil, receives the late response so the caller can undo
// what the hub did.
func (c *Client) call(ctx context.Context, method string, params, out any, settle func(Frame)) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("bridge: encode %s params: %w", method, err)
	}

	id := c.nextID.Add(1)
	ch := make(chan Frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.peer.writeJSON(Frame{ID: id, Method: method, Params: rawParams}); err != nil {
		c.forget(id)
		return errors.Join(ErrClosed, err)
	}

	select {
	case resp, ok := <-ch:
		c.forget(id)
		if !ok {
			return ErrClosed
		}
		if resp.Error != "" {
			return &RemoteError{Method: method, Message: resp.Error}
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("bridge: decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		workerutil.Go("bridge-late-"+method, func() { c.awaitLate(id, method, ch, settle) })
		return ctx.Err()
	}
}

// awaitLate drains the response of a call whose caller gave up. A closed
// channel means the connection is gone and the hub disposed the surface.
func (c *Client) awaitLate(id uint64, method string, ch <-chan Frame, settle func(Frame)) {
	resp, ok := <-ch
	c.forget(id)
	if !ok {
		return
	}
	if resp.Error != "" {
		slog.Debug("[DEBUG-BRIDGE] late response reported an error", "method", method, "error", resp.Error)
		return
	}
	if settle != nil {
		settle(resp)
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// releaseLateHandle unregisters a handle the hub assigned after Register
// gave up, so no record the Context never learned about stays live.
func (c *Client) releaseLateHandle(resp Frame) {
	var result RegisterResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		slog.Warn("[DEBUG-BRIDGE] cannot decode late register result", "error", err)
		return
	}
	slog.Debug("[DEBUG-BRIDGE] releasing handle of timed-out register", "handle", result.Handle)
	err := c.call(context.Background(), MethodUnregister, UnregisterParams{Handle: result.Handle}, nil, nil)
	if err != nil && !errors.Is(err, ErrClosed) {
		slog.Warn("[DEBUG-BRIDGE] releasing late handle failed", "handle", result.Handle, "error", err)
	}
}

func (c *Client) readLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] bridge client readLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		c.peer.close("read loop exit")
		c.failPending()
	}()

	for {
		msg, err := c.peer.readFrame()
		if err != nil {
			if !isExpectedClose(err) {
				slog.Warn("[DEBUG-BRIDGE] client read error", "error", err)
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			slog.Debug("[DEBUG-BRIDGE] invalid JSON from hub", "error", err)
			continue
		}

		if frame.Method == MethodInvoke {
			c.invoke(frame.Params)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.ID]
		c.mu.Unlock()
		if !ok {
			slog.Debug("[DEBUG-BRIDGE] response without pending call", "id", frame.ID, "error", frame.Error)
			continue
		}
		ch <- frame
	}
}

func (c *Client) invoke(raw json.RawMessage) {
	params, err := decodeParams[InvokeParams](raw)
	if err != nil {
		slog.Debug("[DEBUG-BRIDGE] bad invoke notification", "error", err)
		return
	}
	c.mu.Lock()
	target := c.targets[params.Target]
	c.mu.Unlock()
	if target == nil {
		// Unregistered while the match was in flight.
		return
	}
	workerutil.Go("bridge-invoke", target.InvokeCallback)
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
