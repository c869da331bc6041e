package stream

import (
	"errors"
	"sync"
)

// ErrDuplicateToken is returned when a token is registered twice. Tokens
// are generated fresh per job, so this signals a programming error.
var ErrDuplicateToken = errors.New("stream: duplicate job token")

// Observer is notified after every registry mutation with the number of
// entries still pending.
type Observer interface {
	Registered(pending int)
	Attached(found bool, pending int)
	Forgotten(pending int)
}

// Registry maps job tokens to pending attach handles. An entry is inserted
// once when its job starts and removed once, either by the attach that
// consumes it or by the job giving up.
type Registry struct {
	mu      sync.Mutex
	handles map[Token]*AttachHandle
	obs     Observer
}

// NewRegistry creates an empty registry. obs may be nil.
func NewRegistry(obs Observer) *Registry {
	return &Registry{
		handles: make(map[Token]*AttachHandle),
		obs:     obs,
	}
}

// Register inserts handle under token. An existing entry is never
// overwritten.
func (r *Registry) Register(token Token, handle *AttachHandle) error {
	r.mu.Lock()
	if _, ok := r.handles[token]; ok {
		r.mu.Unlock()
		return ErrDuplicateToken
	}
	r.handles[token] = handle
	n := len(r.handles)
	r.mu.Unlock()

	if r.obs != nil {
		r.obs.Registered(n)
	}
	return nil
}

// TryAttach removes the entry for token and attaches to it. It reports
// false when no entry exists, whether the token was never registered,
// already attached or forgotten.
//
// The promise is fulfilled before the lock is released, so once Forget
// returns the producer either owns a Sender or will never get one.
func (r *Registry) TryAttach(token Token) (*Receiver, bool) {
	var rx *Receiver
	r.mu.Lock()
	handle, ok := r.handles[token]
	if ok {
		delete(r.handles, token)
		rx = handle.Attach()
	}
	n := len(r.handles)
	r.mu.Unlock()

	if r.obs != nil {
		r.obs.Attached(ok, n)
	}
	return rx, rx != nil
}

// Forget drops the entry for token without attaching.
func (r *Registry) Forget(token Token) {
	r.mu.Lock()
	_, ok := r.handles[token]
	delete(r.handles, token)
	n := len(r.handles)
	r.mu.Unlock()

	if ok && r.obs != nil {
		r.obs.Forgotten(n)
	}
}

// Len returns the number of jobs waiting for an attach.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
