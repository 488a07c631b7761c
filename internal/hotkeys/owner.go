package hotkeys

import "sync"

// Owner is the lifecycle of whatever created an entry's callback (typically
// a UI component). When Done is closed, entries added with WithOwner are
// removed through the same path as an explicit Remove.
type Owner interface {
	Done() <-chan struct{}
}

// Lifecycle is a minimal Owner with an explicit disposal signal. Entries
// owned by a Lifecycle are already removed when Dispose returns.
type Lifecycle struct {
	done chan struct{}

	mu       sync.Mutex
	disposed bool
	nextHook uint64
	hooks    map[uint64]func()
}

// NewLifecycle creates a live Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{done: make(chan struct{}), hooks: make(map[uint64]func())}
}

// Done implements Owner.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

// Dispose signals the end of the lifecycle and runs the disposal hooks in
// registration order before returning. Safe to call more than once.
func (l *Lifecycle) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	close(l.done)
	hooks, n := l.hooks, l.nextHook
	l.hooks = nil
	l.mu.Unlock()

	for id := range n {
		if fn, ok := hooks[id]; ok {
			fn()
		}
	}
}

// onDispose registers fn to run inside Dispose. On a disposed Lifecycle fn
// runs immediately. stop drops the hook.
func (l *Lifecycle) onDispose(fn func()) (stop func()) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		fn()
		return func() {}
	}
	id := l.nextHook
	l.nextHook++
	l.hooks[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.hooks, id)
		l.mu.Unlock()
	}
}
