package server

import (
	"context"
	"sync"
)

// Handle lets the tracker stop a live session.
type Handle struct {
	Cancel func()
}

// Tracker keeps every live session so shutdown can cancel and await them.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
	closed   bool
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*trackedSession),
	}
}

// Register adds a session and returns the function that removes it. The
// returned function is safe to call more than once. ok is false once Close
// or Wait was called; the session must not start then.
func (t *Tracker) Register(id string, h Handle) (unregister func(), ok bool) {
	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return func() {}, false
	}
	old := t.sessions[id]
	t.sessions[id] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(id, old)
	}
	return func() { t.unregister(id, entry) }, true
}

// Close stops accepting registrations. Sessions already registered are
// unaffected.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *Tracker) unregister(id string, entry *trackedSession) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[id] == entry {
			delete(t.sessions, id)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CancelAll cancels every registered session and returns how many there were.
func (t *Tracker) CancelAll() (canceled int) {
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait closes the tracker, then blocks until every session unregistered or
// ctx is done. It reports whether all sessions finished.
func (t *Tracker) Wait(ctx context.Context) bool {
	// wg.Add 不能与 wg.Wait 并发
	t.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
