package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
)

// Listener is a queue the Manager can start on the shared channel
type Listener interface {
	Name() string
	Listen(ctx context.Context, ch Channel) error
}

// Registry maps queue names to their listeners. It is built at startup and
// handed to the Manager; a name can be registered only once.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]Listener
	order  []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[string]Listener),
	}
}

// Register adds a listener under its queue name
func (r *Registry) Register(l Listener) error {
	if l == nil {
		return fmt.Errorf("listener is nil")
	}

	name := l.Name()
	if name == "" {
		return fmt.Errorf("queue name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.queues[name]; exists {
		return fmt.Errorf("%w: %s", domain.ErrQueueAlreadyRegistered, name)
	}

	r.queues[name] = l
	r.order = append(r.order, name)
	return nil
}

// Get returns the listener registered under name
func (r *Registry) Get(name string) (Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.queues[name]
	return l, ok
}

// Names returns the registered queue names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Listeners returns the registered listeners in registration order
func (r *Registry) Listeners() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listeners := make([]Listener, 0, len(r.order))
	for _, name := range r.order {
		listeners = append(listeners, r.queues[name])
	}
	return listeners
}

// Len returns the number of registered queues
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
