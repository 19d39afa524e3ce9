package cart

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type registryEntry struct {
	store       *Store
	unsubscribe func()

	saveMu sync.Mutex // serializes saves and guards closed
	closed bool
}

// Registry owns one Store per signed-in user. Stores are rehydrated from the
// persister on first use and written back after every change.
type Registry struct {
	mu        sync.Mutex
	carts     map[uuid.UUID]*registryEntry
	persister Persister
	timeout   time.Duration
}

// NewRegistry creates a Registry. timeout bounds each persister call.
func NewRegistry(persister Persister, timeout time.Duration) *Registry {
	if persister == nil {
		persister = NopPersister{}
	}
	return &Registry{
		carts:     make(map[uuid.UUID]*registryEntry),
		persister: persister,
		timeout:   timeout,
	}
}

// Get returns the cart of userID, creating it when needed. A cart that
// cannot be loaded starts empty.
func (r *Registry) Get(ctx context.Context, userID uuid.UUID) *Store {
	r.mu.Lock()
	if e, ok := r.carts[userID]; ok {
		r.mu.Unlock()
		return e.store
	}
	r.mu.Unlock()

	store := New()
	loadCtx, cancel := context.WithTimeout(ctx, r.timeout)
	items, err := r.persister.Load(loadCtx, userID)
	cancel()
	if err != nil {
		log.Printf("ERROR: load cart for %s: %v", userID, err)
	} else if len(items) > 0 {
		store.Restore(items)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.carts[userID]; ok {
		return e.store
	}
	e := &registryEntry{store: store}
	e.unsubscribe = store.Subscribe(func(Snapshot) { r.save(userID, e) })
	r.carts[userID] = e
	return store
}

// save writes the current contents of the entry's store. Saves of one user
// run one at a time and each reads the store afresh, so the last save to
// finish always holds the latest contents.
func (r *Registry) save(userID uuid.UUID, e *registryEntry) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if e.closed {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.persister.Save(saveCtx, userID, e.store.Snapshot()); err != nil {
		log.Printf("ERROR: persist cart for %s: %v", userID, err)
	}
}

// Reset forgets the cart of userID and its persisted copy. Called on
// sign-out. A save still in flight finishes before the copy is deleted.
func (r *Registry) Reset(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	e, ok := r.carts[userID]
	if ok {
		e.unsubscribe()
		delete(r.carts, userID)
	}
	r.mu.Unlock()

	if ok {
		e.saveMu.Lock()
		e.closed = true
		e.saveMu.Unlock()
	}

	delCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.persister.Delete(delCtx, userID)
}

// Len returns the number of live carts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carts)
}
