package bridge

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Client receives worker→page broadcasts. Send must not block; transports
// buffer or drop on their own.
type Client interface {
	ID() string
	Send(msg *Message)
}

// Registry tracks connected page clients. It is the worker's view of
// "open windows": claiming and broadcasting iterate over it.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	// claimed marks clients controlled by the current worker generation.
	claimed map[string]bool
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		claimed: make(map[string]bool),
	}
}

// NewClientID returns a fresh unique client id.
func NewClientID() string {
	return uuid.NewString()
}

// Register adds a client. Newly registered clients start unclaimed until
// the active worker claims them.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID()] = c
}

// Unregister removes a client.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
	delete(r.claimed, id)
}

// ClaimAll marks every connected client as controlled by the current
// worker. Returns the number of clients claimed.
func (r *Registry) ClaimAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.clients {
		r.claimed[id] = true
	}
	return len(r.clients)
}

// IsClaimed reports whether the client is controlled by the current worker.
func (r *Registry) IsClaimed(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.claimed[id]
}

// Broadcast delivers msg to every connected client. Each send is isolated
// so one faulty client cannot suppress delivery to the rest.
func (r *Registry) Broadcast(msg *Message) {
	r.mu.RLock()
	clients := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		func() {
			defer func() { _ = recover() }()
			c.Send(msg)
		}()
	}
}

// SendTo delivers msg to a single client. Reports whether it is connected.
func (r *Registry) SendTo(id string, msg *Message) bool {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	func() {
		defer func() { _ = recover() }()
		c.Send(msg)
	}()
	return true
}

// IDs returns the connected client ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
