// Package registry tracks the live UI surfaces that receive events. Each
// surface id has at most one live handle; registering the id again closes
// the previous handle.
package registry

import (
	"sort"
	"sync"

	"github.com/tazhate/worldcal/internal/events"
	appLog "github.com/tazhate/worldcal/internal/log"
)

const defaultBuffer = 32

// Handle is one live surface connection.
type Handle struct {
	ID     string
	events chan events.Event
	done   chan struct{}
	once   sync.Once
}

// Events delivers bus events to the surface.
func (h *Handle) Events() <-chan events.Event { return h.events }

// Done is closed when the handle is replaced or released.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) close() {
	h.once.Do(func() { close(h.done) })
}

type Registry struct {
	mx      sync.Mutex
	handles map[string]*Handle
	buffer  int
}

func New() *Registry {
	return &Registry{handles: make(map[string]*Handle), buffer: defaultBuffer}
}

// Register returns the live handle for id, closing any earlier one.
func (r *Registry) Register(id string) *Handle {
	h := &Handle{
		ID:     id,
		events: make(chan events.Event, r.buffer),
		done:   make(chan struct{}),
	}
	r.mx.Lock()
	old := r.handles[id]
	r.handles[id] = h
	r.mx.Unlock()
	if old != nil {
		appLog.Debug("surface replaced", "surface", id)
		old.close()
	}
	return h
}

// Release drops h if it is still the live handle for its id.
func (r *Registry) Release(h *Handle) {
	r.mx.Lock()
	if r.handles[h.ID] == h {
		delete(r.handles, h.ID)
	}
	r.mx.Unlock()
	h.close()
}

// Get returns the live handle for id.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// IDs lists the live surfaces.
func (r *Registry) IDs() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	out := make([]string, 0, len(r.handles))
	for id := range r.handles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Broadcast hands e to every live surface. Surfaces whose buffer is full
// miss the event rather than block the publisher.
func (r *Registry) Broadcast(e events.Event) {
	r.mx.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mx.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case h.events <- e:
		default:
			appLog.Warn("surface event dropped", "surface", h.ID, "kind", e.Kind)
		}
	}
}

// Attach forwards every bus event to the registered surfaces and returns
// the unsubscribe function.
func (r *Registry) Attach(b *events.Bus) func() {
	return b.Subscribe(r.Broadcast)
}
