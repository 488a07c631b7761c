// Package bridge carries the registration protocol and key-down events across
// a process boundary over websocket.
//
// The Hub hosts the dispatch side: every /attach connection gets its own
// Surface on the hub's shared event source, and /keys feeds key-down events
// into that source. The Client is the application side: it implements
// hotkeys.Registrar over an /attach connection so a hotkeys.Context can drive
// a remote surface exactly as it drives an in-process one.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"hotkeys2/internal/dom"
	"hotkeys2/internal/hotkeys"
	"hotkeys2/internal/surface"
	"hotkeys2/internal/workerutil"
)

// HubOptions configures the websocket server.
type HubOptions struct {
	// Addr is the listen address. Use "127.0.0.1:0" for an OS-assigned port.
	Addr string
	// Source receives key-down events from /keys and feeds every attached
	// surface. A fresh Source is created when nil.
	Source *surface.Source
	// Delivery is the strategy of every surface attached by this hub.
	Delivery surface.Delivery
}

// Hub serves /attach and /keys.
//
// mu protects conns and stopped. Each peer serializes its own writes; mu is
// never held across a write.
type Hub struct {
	opts HubOptions

	mu      sync.Mutex
	conns   map[*peer]bool // true for /attach connections
	stopped bool

	listener net.Listener
	server   *http.Server
	url      string // "ws://127.0.0.1:<port>", set after Start
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// NewHub creates a Hub. It does not listen until Start is called.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.Source == nil {
		opts.Source = surface.NewSource()
	}
	return &Hub{
		opts:  opts,
		conns: make(map[*peer]bool),
	}
}

// Start listens on the configured address and serves connections in the
// background. ctx becomes the base context of every request; the server
// itself is stopped only by Stop.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return errors.New("bridge: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("bridge: listen: %w", err)
	}
	h.listener = ln

	port := ln.Addr().(*net.TCPAddr).Port
	h.url = fmt.Sprintf("ws://127.0.0.1:%d", port)

	mux := http.NewServeMux()
	mux.HandleFunc("/attach", h.handleAttach)
	mux.HandleFunc("/keys", h.handleKeys)

	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	server := h.server
	workerutil.RunWithPanicRecovery(ctx, "bridge-hub-serve", &h.wg, func(context.Context) {
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("[DEBUG-BRIDGE] server error", "error", serveErr)
		}
	}, workerutil.RecoveryOptions{MaxRetries: 1})

	slog.Info("[DEBUG-BRIDGE] hub started", "url", h.url, "delivery", h.opts.Delivery)
	return nil
}

// Stop closes every connection, which disposes their surfaces, and shuts
// the server down. Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		peers := make([]*peer, 0, len(h.conns))
		for p := range h.conns {
			peers = append(peers, p)
		}
		h.mu.Unlock()

		for _, p := range peers {
			p.close("hub stopped")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("bridge: shutdown: %w", err)
			}
		}
		h.wg.Wait()
		slog.Info("[DEBUG-BRIDGE] hub stopped")
	})
	return stopErr
}

// URL returns the hub's base URL (e.g. "ws://127.0.0.1:54321"), or "" before
// Start.
func (h *Hub) URL() string { return h.url }

// AttachURL returns the /attach endpoint URL.
func (h *Hub) AttachURL() string { return h.url + "/attach" }

// KeysURL returns the /keys endpoint URL.
func (h *Hub) KeysURL() string { return h.url + "/keys" }

// Source returns the shared event source.
func (h *Hub) Source() *surface.Source { return h.opts.Source }

// SessionCount returns the number of attached surfaces.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, attach := range h.conns {
		if attach {
			n++
		}
	}
	return n
}

// track registers p so Stop can close it. It reports false once stopped.
func (h *Hub) track(p *peer, attach bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.conns[p] = attach
	return true
}

func (h *Hub) untrack(p *peer) {
	h.mu.Lock()
	delete(h.conns, p)
	h.mu.Unlock()
}

// session is one attached surface and the connection that owns it.
type session struct {
	peer    *peer
	surface *surface.Surface
}

// remoteTarget forwards a match to the client as an invoke notification.
type remoteTarget struct {
	peer *peer
	id   string
}

func (t remoteTarget) InvokeCallback() {
	params, err := json.Marshal(InvokeParams{Target: t.id})
	if err != nil {
		slog.Debug("[DEBUG-BRIDGE] encode invoke params failed", "error", err)
		return
	}
	if err := t.peer.writeJSON(Frame{Method: MethodInvoke, Params: params}); err != nil {
		slog.Debug("[DEBUG-BRIDGE] invoke notification failed", "target", t.id, "error", err)
	}
}

// handleAttach upgrades the request and runs the request loop of one
// surface. Closing the connection disposes the surface.
func (h *Hub) handleAttach(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-BRIDGE] upgrade failed", "endpoint", "attach", "error", err)
		return
	}
	p := newPeer(conn)
	if err := p.prepareRead(); err != nil {
		slog.Warn("[DEBUG-BRIDGE] SetReadDeadline failed on new connection", "error", err)
		p.close("initial SetReadDeadline failure")
		return
	}

	if !h.track(p, true) {
		p.close("hub stopped")
		return
	}
	s := &session{peer: p, surface: surface.Attach(h.opts.Source, h.opts.Delivery)}
	slog.Info("[DEBUG-BRIDGE] surface attached", "remoteAddr", conn.RemoteAddr())

	go p.pingLoop()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] bridge handleAttach recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		h.untrack(p)
		s.surface.Dispose()
		p.close("read pump exit")
		slog.Info("[DEBUG-BRIDGE] surface detached", "remoteAddr", conn.RemoteAddr())
	}()

	for {
		msg, readErr := p.readFrame()
		if readErr != nil {
			if !isExpectedClose(readErr) {
				slog.Warn("[DEBUG-BRIDGE] read error", "endpoint", "attach", "error", readErr)
			}
			return
		}

		var req Frame
		if jsonErr := json.Unmarshal(msg, &req); jsonErr != nil {
			slog.Debug("[DEBUG-BRIDGE] invalid JSON from client", "error", jsonErr)
			if p.writeJSON(Frame{Error: fmt.Sprintf("invalid JSON: %s", jsonErr)}) != nil {
				return
			}
			continue
		}

		resp := s.handle(req)
		if req.ID == 0 {
			continue
		}
		if p.writeJSON(resp) != nil {
			return
		}
	}
}

// handle applies one request to the session's surface.
func (s *session) handle(req Frame) Frame {
	resp := Frame{ID: req.ID}
	var err error

	switch req.Method {
	case MethodRegister:
		var params RegisterParams
		if params, err = decodeParams[RegisterParams](req.Params); err == nil {
			err = params.validate()
		}
		if err != nil {
			break
		}
		handle := s.surface.Register(
			remoteTarget{peer: s.peer, id: params.Target},
			hotkeys.Mode(params.Mode),
			hotkeys.Modifier(params.Modifiers),
			params.KeyEntry,
			hotkeys.Exclude(params.Exclude),
			params.ExcludeSelector,
			params.IsDisabled,
		)
		resp.Result, err = json.Marshal(RegisterResult{Handle: handle})
	case MethodUpdate:
		var params UpdateParams
		if params, err = decodeParams[UpdateParams](req.Params); err == nil {
			s.surface.Update(params.Handle, params.IsDisabled)
		}
	case MethodUnregister:
		var params UnregisterParams
		if params, err = decodeParams[UnregisterParams](req.Params); err == nil {
			s.surface.Unregister(params.Handle)
		}
	case MethodDispose:
		s.surface.Dispose()
	default:
		err = fmt.Errorf("bridge: unknown method %q", req.Method)
	}

	if err != nil {
		slog.Debug("[DEBUG-BRIDGE] request failed", "method", req.Method, "id", req.ID, "error", err)
		resp.Result = nil
		resp.Error = err.Error()
	}
	return resp
}

// handleKeys upgrades the request and feeds each key-down frame into the
// shared source, answering with the preventDefault decision.
func (h *Hub) handleKeys(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-BRIDGE] upgrade failed", "endpoint", "keys", "error", err)
		return
	}
	p := newPeer(conn)
	if err := p.prepareRead(); err != nil {
		slog.Warn("[DEBUG-BRIDGE] SetReadDeadline failed on new connection", "error", err)
		p.close("initial SetReadDeadline failure")
		return
	}

	if !h.track(p, false) {
		p.close("hub stopped")
		return
	}

	go p.pingLoop()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] bridge handleKeys recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		h.untrack(p)
		p.close("read pump exit")
	}()

	for {
		msg, readErr := p.readFrame()
		if readErr != nil {
			if !isExpectedClose(readErr) {
				slog.Warn("[DEBUG-BRIDGE] read error", "endpoint", "keys", "error", readErr)
			}
			return
		}

		var frame KeyDownFrame
		if jsonErr := json.Unmarshal(msg, &frame); jsonErr != nil {
			if p.writeJSON(KeyDownReply{Error: fmt.Sprintf("invalid JSON: %s", jsonErr)}) != nil {
				return
			}
			continue
		}

		preventDefault := h.opts.Source.Emit(keyEvent(frame))
		if p.writeJSON(KeyDownReply{PreventDefault: preventDefault}) != nil {
			return
		}
	}
}

// keyEvent converts a wire frame. An unparsable target fragment leaves the
// target unknown, which never excludes.
func keyEvent(f KeyDownFrame) surface.KeyEvent {
	ev := surface.KeyEvent{
		Key:       f.Key,
		Code:      f.Code,
		ShiftKey:  f.ShiftKey,
		CtrlKey:   f.CtrlKey,
		AltKey:    f.AltKey,
		MetaKey:   f.MetaKey,
		Synthetic: f.Synthetic,
	}
	if f.Target != "" {
		el, err := dom.ParseElement(f.Target)
		if err != nil {
			slog.Debug("[DEBUG-BRIDGE] target fragment ignored", "error", err)
		} else {
			ev.Target = el
		}
	}
	return ev
}
