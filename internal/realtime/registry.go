package realtime

import (
	"errors"
	"sync"
)

var (
	ErrObserverClosed = errors.New("observer closed")
	ErrQueueFull      = errors.New("observer send queue full")
)

// Observer is a live outbound channel to a display or peer.
type Observer interface {
	ID() string
	// Send enqueues a frame without blocking. Any error means the observer
	// can no longer be delivered to.
	Send(frame []byte) error
	// Close releases the underlying connection. Safe to call more than once.
	Close()
}

// Registry tracks connected observers.
type Registry struct {
	mu        sync.RWMutex
	observers map[string]Observer
}

func NewRegistry() *Registry {
	return &Registry{observers: make(map[string]Observer)}
}

func (r *Registry) Register(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[o.ID()] = o
}

// Unregister removes o. Removing an unknown observer is a no-op.
func (r *Registry) Unregister(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.observers[o.ID()]; ok && current == o {
		delete(r.observers, o.ID())
	}
}

// Snapshot returns a copy of the current observers.
func (r *Registry) Snapshot() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		out = append(out, o)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// CloseAll unregisters and closes every observer.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	observers := r.observers
	r.observers = make(map[string]Observer)
	r.mu.Unlock()

	for _, o := range observers {
		o.Close()
	}
}
