package gatt

import (
	"sync"

	"github.com/corvidlabs/gattclient/att"

	gc "github.com/corvidlabs/gattclient"
)

// Transport owns one L2CAP channel and the ATT request pipeline built
// over it, shared by every concurrent operation and watcher of a
// GattService. It is reference-counted: the channel
// closes when the last Handle is released.
type Transport struct {
	Conn gc.Conn
	ATT  *att.Client

	mu   sync.Mutex
	refs int
	dead bool

	// dispatcherInstalled guards against double-registering the
	// value-change handler on repeat watcher registrations.
	dispatcherInstalled bool

	// onZero is the destroy hook that clears the owning GattService's
	// transport slot.
	onZero func()
}

// NewTransport wraps conn in a Transport and starts its ATT read loop.
// The returned Transport starts with zero references; the caller must
// Acquire a Handle for its own use.
func NewTransport(conn gc.Conn, log gc.Logger, onZero func()) *Transport {
	t := &Transport{Conn: conn, onZero: onZero}
	t.ATT = att.NewClient(conn, log)
	go t.ATT.Loop()
	return t
}

// Handle is a single scoped reference to a Transport. Release is
// idempotent; every acquisition path is expected to defer Release
// immediately so every exit releases exactly one.
type Handle struct {
	t        *Transport
	released sync.Once
}

// Acquire takes one reference on t.
func (t *Transport) Acquire() *Handle {
	t.mu.Lock()
	t.refs++
	t.mu.Unlock()
	return &Handle{t: t}
}

// Transport returns the underlying shared Transport.
func (h *Handle) Transport() *Transport { return h.t }

// Release drops this handle's reference. Closing the channel when the
// count reaches zero is the Transport's job, not the caller's.
func (h *Handle) Release() {
	h.released.Do(func() {
		h.t.release()
	})
}

func (t *Transport) release() {
	t.mu.Lock()
	t.refs--
	zero := t.refs <= 0 && !t.dead
	if zero {
		t.dead = true
	}
	t.mu.Unlock()
	if zero {
		t.destroy()
	}
}

func (t *Transport) destroy() {
	t.ATT.Close(gc.ErrRemoteDisconnected)
	t.Conn.Close()
	if t.onZero != nil {
		t.onZero()
	}
}

// Disconnect aborts every in-flight ATT request and discovery on this
// transport with a synthetic remote-disconnect failure, without
// releasing any reference.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	dead := t.dead
	t.mu.Unlock()
	if dead {
		return
	}
	t.ATT.Close(gc.ErrRemoteDisconnected)
}

// RefCount reports the current reference count, for tests verifying
// the invariant.
func (t *Transport) RefCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs
}
