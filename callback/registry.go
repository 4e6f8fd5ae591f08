// Package callback keeps the handlers a client registered for facade events.
package callback

import (
	"encoding/json"
	"sync"

	"sl4a-rpc/rpcerror"

	"github.com/nuclio/errors"
)

// Handler receives the data of one callback invocation
type Handler func(data json.RawMessage)

type entry struct {
	event   string
	handler Handler
}

// Registry maps callback ids to handlers. The id of a handler is its position in
// registration order; entries are never removed, so an id stays valid for the life of
// the registry.
type Registry struct {
	lock    sync.RWMutex
	entries []entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends handler and returns its id
func (r *Registry) Register(event string, handler Handler) (int, error) {
	if handler == nil {
		return 0, errors.New("Callback handler must not be nil")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.entries = append(r.entries, entry{event: event, handler: handler})
	return len(r.entries) - 1, nil
}

// Dispatch runs the handler registered under id with data, on the calling goroutine
func (r *Registry) Dispatch(id int, data json.RawMessage) error {
	r.lock.RLock()
	count := len(r.entries)
	if id < 0 || id >= count {
		r.lock.RUnlock()
		return &rpcerror.InvalidCallbackIDError{ID: id, Count: count}
	}
	handler := r.entries[id].handler
	r.lock.RUnlock()

	// handlers may register more callbacks
	handler(data)
	return nil
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.entries)
}

// Event returns the event name id was registered for
func (r *Registry) Event(id int) (string, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if id < 0 || id >= len(r.entries) {
		return "", false
	}

	return r.entries[id].event, true
}
