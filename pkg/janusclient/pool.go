package janusclient

import "sync"

// Pool is the process-wide backend-id-to-client map (spec §5: "a single
// shared structure... single-writer lock; reads are lock-free in the
// common case"). sync.RWMutex gives us exactly that: writers (registry
// mutations on status online/offline) take the write lock; readers
// (every handler dispatching a request) take the read lock.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewPool constructs an empty client pool.
func NewPool() *Pool {
	return &Pool{clients: make(map[string]*Client)}
}

// Put installs (or replaces) the client for backendID, used on `status
// online` after session+handle creation succeeds (spec §4.7).
func (p *Pool) Put(backendID string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[backendID] = c
}

// Get returns the client for backendID, if the backend is currently
// online.
func (p *Pool) Get(backendID string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[backendID]
	return c, ok
}

// Remove deletes the client for backendID, used on `status offline` (spec
// §4.7). The caller is responsible for canceling that client's poller
// task before or after removal.
func (p *Pool) Remove(backendID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, backendID)
}

// All returns a snapshot of every currently registered client.
func (p *Pool) All() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c)
	}
	return out
}

// Len reports the number of online backends.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
