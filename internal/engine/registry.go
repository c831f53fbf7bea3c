package engine

import (
	"context"
	"sync"
)

// ConnectFunc builds a probed engine client. The registry calls it at most
// once per cache miss; concurrent callers for the same id share the outcome.
type ConnectFunc func(ctx context.Context) (*Client, error)

// Registry is the in-process cache of live engine handles, keyed by
// connection id. It owns the handles exclusively: callers borrow a *Client
// for the duration of one operation and never close it themselves.
type Registry struct {
	mu      sync.Mutex
	handles map[int64]*entry
}

type entry struct {
	ready  chan struct{}
	client *Client
	err    error
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[int64]*entry)}
}

// GetOrCreate returns the cached handle for id, or calls connect to build
// one. Creation is single-flight per id: the first caller connects, everyone
// else waits for the same result. Failed creations are not cached.
func (r *Registry) GetOrCreate(ctx context.Context, id int64, connect ConnectFunc) (*Client, error) {
	r.mu.Lock()
	if e, ok := r.handles[id]; ok {
		r.mu.Unlock()
		<-e.ready
		return e.client, e.err
	}

	e := &entry{ready: make(chan struct{})}
	r.handles[id] = e
	r.mu.Unlock()

	e.client, e.err = connect(ctx)
	if e.err != nil {
		r.mu.Lock()
		if r.handles[id] == e {
			delete(r.handles, id)
		}
		r.mu.Unlock()
	}
	close(e.ready)

	return e.client, e.err
}

// Get returns the cached handle for id if one is ready. A handle still being
// created does not count as cached.
func (r *Registry) Get(id int64) (*Client, bool) {
	r.mu.Lock()
	e, ok := r.handles[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case <-e.ready:
		if e.err != nil {
			return nil, false
		}
		return e.client, true
	default:
		return nil, false
	}
}

// Evict closes and removes the cached handle for id. It is an idempotent
// no-op when nothing is cached. An in-flight creation is waited for and then
// closed, so eviction during an update cannot leak a handle.
func (r *Registry) Evict(id int64) {
	r.mu.Lock()
	e, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	<-e.ready
	if e.client != nil {
		_ = e.client.Close()
	}
}

// Close evicts every cached handle. Called once at process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.handles
	r.handles = make(map[int64]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.client != nil {
			_ = e.client.Close()
		}
	}
}
