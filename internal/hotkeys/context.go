// Package hotkeys is the application-side registry of keyboard shortcuts.
//
// A Context holds the entries an application declared and keeps the registry
// of an attached dispatch surface consistent with them. The surface attaches
// asynchronously and may fail to attach at all; Add never blocks and never
// fails because of it. Entries whose registration cannot complete stay
// unregistered ("best effort and move on").
//
// Lifecycle of an entry on the Context side:
//
//	Pending -> Active    (surface assigned a handle)
//	Pending -> Abandoned (attach or register failed)
//	any     -> Removed   (Remove, owner disposal, Dispose)
//
// Removal of a Pending entry queues the unregister: the handle is released
// the moment it arrives.
package hotkeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"hotkeys2/internal/workerutil"
)

// Registrar is the attach reference: the operations of an attached dispatch
// surface, possibly across a process boundary.
type Registrar interface {
	Register(
		ctx context.Context,
		target Target,
		mode Mode,
		modifiers Modifier,
		keyEntry string,
		exclude Exclude,
		excludeSelector string,
		disabled bool,
	) (int, error)
	Update(ctx context.Context, handle int, disabled bool) error
	Unregister(ctx context.Context, handle int) error
	Dispose(ctx context.Context) error
}

// AttachFunc establishes a dispatch surface. It may block and may fail.
type AttachFunc func(ctx context.Context) (Registrar, error)

// attachTask is the pending result of an AttachFunc.
type attachTask struct {
	done chan struct{}
	ref  Registrar
	err  error
}

func startAttach(attach AttachFunc) *attachTask {
	t := &attachTask{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.ref, t.err = nil, fmt.Errorf("hotkeys: attach panicked: %v", r)
			}
		}()
		if attach == nil {
			t.err = errors.New("hotkeys: attach function is nil")
			return
		}
		t.ref, t.err = attach(context.Background())
		if t.err == nil && t.ref == nil {
			t.err = errors.New("hotkeys: attach returned no registrar")
		}
	}()
	return t
}

// wait blocks until the attach completes. The attach itself is never timed out.
func (t *attachTask) wait() (Registrar, error) {
	<-t.done
	return t.ref, t.err
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithCallTimeout bounds each Register/Update/Unregister/Dispose call made on
// an attached registrar. Zero (default) means no timeout.
func WithCallTimeout(d time.Duration) ContextOption {
	return func(c *Context) { c.callTimeout = d }
}

// Context is the set of currently declared hotkeys bound to one surface.
//
// mu guards entries and disposed only; it is never held across a call to the
// registrar.
type Context struct {
	attach      *attachTask
	callTimeout time.Duration

	mu       sync.Mutex
	entries  []*Entry
	disposed bool
}

// NewContext starts attach in the background and returns immediately.
func NewContext(attach AttachFunc, opts ...ContextOption) *Context {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	c.attach = startAttach(attach)
	return c
}

// WaitAttached blocks until the attach completes or ctx is done, and returns
// the attach error.
func (c *Context) WaitAttached(ctx context.Context) error {
	select {
	case <-c.attach.done:
		return c.attach.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddKey binds cb to the logical key value key (e.g. "s", "?", "Enter").
func (c *Context) AddKey(modifiers Modifier, key string, cb Callback, opts ...Option) *Context {
	c.add(ByKey, modifiers, key, cb, opts)
	return c
}

// AddCode binds cb to the physical key code (e.g. "KeyS", "Slash", "ShiftLeft").
func (c *Context) AddCode(modifiers Modifier, code string, cb Callback, opts ...Option) *Context {
	c.add(ByCode, modifiers, code, cb, opts)
	return c
}

// AddBinding binds cb to a parsed binding.
func (c *Context) AddBinding(b Binding, cb Callback, opts ...Option) *Context {
	c.add(b.Mode(), b.Modifiers(), b.Key(), cb, opts)
	return c
}

func (c *Context) add(mode Mode, modifiers Modifier, keyEntry string, cb Callback, opts []Option) {
	o := applyOptions(opts)
	e := newEntry(c, mode, modifiers, keyEntry, cb, o)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		slog.Warn("[DEBUG-HOTKEY] add on disposed context ignored", "binding", e.String())
		return
	}
	c.entries = append(c.entries, e)
	c.mu.Unlock()

	if o.owner != nil {
		c.bindOwner(e, o.owner)
	}
	go c.register(e)
}

// register is the asynchronous continuation of Add.
func (c *Context) register(e *Entry) {
	ref, err := c.attach.wait()
	if err != nil {
		slog.Debug("[DEBUG-HOTKEY] attach failed, entry stays unregistered",
			"binding", e.String(), "error", err)
		e.abandon()
		return
	}

	disabled, wanted := e.registrationDisabled()
	if !wanted {
		return
	}

	ctx, cancel := c.callContext()
	handle, err := ref.Register(ctx, e, e.mode, e.modifiers, e.keyEntry, e.exclude, e.excludeSelector, disabled)
	cancel()
	if err != nil {
		slog.Warn("[DEBUG-HOTKEY] register failed, entry stays unregistered",
			"binding", e.String(), "error", err)
		e.abandon()
		return
	}

	ok, resync := e.activate(handle, disabled)
	if !ok {
		// Removed while the round-trip was in flight: apply the queued unregister.
		c.unregister(ref, handle)
		return
	}
	if resync {
		c.syncDisabled(e)
	}
}

// bindOwner removes e when owner ends. A Lifecycle removes it before its
// Dispose returns; other owners are observed through Done.
func (c *Context) bindOwner(e *Entry, owner Owner) {
	remove := func() { c.removeWhere(func(x *Entry) bool { return x == e }) }
	if l, ok := owner.(*Lifecycle); ok {
		stop := l.onDispose(remove)
		go func() {
			<-e.removedCh
			stop()
		}()
		return
	}
	go func() {
		select {
		case <-owner.Done():
			remove()
		case <-e.removedCh:
		}
	}()
}

// RemoveKey removes every ByKey entry whose modifiers, key, description,
// exclusion and selector all equal the given criteria. Omitted options take
// the same defaults as AddKey.
func (c *Context) RemoveKey(modifiers Modifier, key string, opts ...Option) *Context {
	c.removeMatching(ByKey, modifiers, key, opts)
	return c
}

// RemoveCode is RemoveKey for ByCode entries.
func (c *Context) RemoveCode(modifiers Modifier, code string, opts ...Option) *Context {
	c.removeMatching(ByCode, modifiers, code, opts)
	return c
}

// RemoveBinding removes entries matching a parsed binding.
func (c *Context) RemoveBinding(b Binding, opts ...Option) *Context {
	c.removeMatching(b.Mode(), b.Modifiers(), b.Key(), opts)
	return c
}

// RemoveEntry removes one specific entry.
func (c *Context) RemoveEntry(e *Entry) *Context {
	c.removeWhere(func(x *Entry) bool { return x == e })
	return c
}

func (c *Context) removeMatching(mode Mode, modifiers Modifier, keyEntry string, opts []Option) {
	o := applyOptions(opts)
	c.removeWhere(func(e *Entry) bool {
		return e.equalsCriteria(mode, modifiers, keyEntry, o)
	})
}

func (c *Context) removeWhere(pred func(*Entry) bool) int {
	c.mu.Lock()
	var removed []*Entry
	c.entries = slices.DeleteFunc(c.entries, func(e *Entry) bool {
		if pred(e) {
			removed = append(removed, e)
			return true
		}
		return false
	})
	c.mu.Unlock()

	for _, e := range removed {
		c.release(e)
	}
	return len(removed)
}

// release moves e to Removed and unregisters its handle if it has one. A
// Pending entry is unregistered by its register continuation instead.
func (c *Context) release(e *Entry) {
	prev, handle, ok := e.markRemoved()
	if !ok || prev != StateActive {
		return
	}
	ref, err := c.attach.wait()
	if err != nil {
		return
	}
	c.unregister(ref, handle)
}

// unregister is fire-and-forget.
func (c *Context) unregister(ref Registrar, handle int) {
	workerutil.Go("hotkey-unregister", func() {
		ctx, cancel := c.callContext()
		defer cancel()
		if err := ref.Unregister(ctx, handle); err != nil {
			slog.Debug("[DEBUG-HOTKEY] unregister failed", "handle", handle, "error", err)
		}
	})
}

// syncDisabled pushes the entry's disabled flag to the surface. Concurrent
// changes coalesce into one in-flight Update followed by at most one more
// carrying the latest value.
func (c *Context) syncDisabled(e *Entry) {
	e.mu.Lock()
	if e.syncing {
		e.syncPending = true
		e.mu.Unlock()
		return
	}
	e.syncing = true
	e.mu.Unlock()

	ref, err := c.attach.wait()
	if err != nil {
		e.mu.Lock()
		e.syncing, e.syncPending = false, false
		e.mu.Unlock()
		return
	}

	workerutil.Go("hotkey-update", func() {
		for {
			e.mu.Lock()
			if e.state != StateActive {
				e.syncing, e.syncPending = false, false
				e.mu.Unlock()
				return
			}
			handle, disabled := e.handle, e.disabled
			e.syncPending = false
			e.mu.Unlock()

			ctx, cancel := c.callContext()
			if err := ref.Update(ctx, handle, disabled); err != nil {
				slog.Debug("[DEBUG-HOTKEY] update failed", "handle", handle, "error", err)
			}
			cancel()

			e.mu.Lock()
			if !e.syncPending {
				e.syncing = false
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
		}
	})
}

// Entries returns a snapshot of the entries in insertion order.
func (c *Context) Entries() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Len returns the number of entries.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Dispose removes every entry, unregisters what was registered and finally
// disposes the attached surface. It never blocks on the surface and is safe
// to call more than once, including when the attach never completed.
func (c *Context) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	for _, e := range entries {
		c.release(e)
	}

	workerutil.Go("hotkeys-dispose", func() {
		ref, err := c.attach.wait()
		if err != nil {
			return
		}
		ctx, cancel := c.callContext()
		defer cancel()
		if err := ref.Dispose(ctx); err != nil {
			slog.Debug("[DEBUG-HOTKEY] surface dispose failed", "error", err)
		}
	})
}

func (c *Context) callContext() (context.Context, context.CancelFunc) {
	if c.callTimeout > 0 {
		return context.WithTimeout(context.Background(), c.callTimeout)
	}
	return context.WithCancel(context.Background())
}
