// Package orders keeps the live order list shown on the driver and admin
// panels.
//
// Status changes are optimistic: the new status is visible immediately and
// reverted if the backend refuses it. Pushed changes from the realtime feed
// win over an in-flight change, so a rollback never overwrites a newer
// authoritative value.
package orders

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/apperr"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/enum"
)

// Errors returned by the board.
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrUpdateInProgress = errors.New("status update already in progress")
)

// Backend defines the remote calls the board needs.
// Satisfied by *backend.Client; narrow interface for testability.
type Backend interface {
	ListOrders(ctx context.Context, statuses []string) ([]backend.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status string) (backend.Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	ListOrderItemDetails(ctx context.Context, orderIDs []uuid.UUID) ([]backend.OrderItemDetail, error)
}

// Outcome is the state of one optimistic status change.
type Outcome int

const (
	Pending Outcome = iota
	Committed
	RolledBack
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return "unknown"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Mutation describes a status change and how it ended. Reason is set for
// RolledBack only.
type Mutation struct {
	OrderID uuid.UUID `json:"order_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Outcome Outcome   `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
}

type entry struct {
	order    backend.Order
	version  uint64
	updating bool
}

// Board is the in-memory order list. All methods are safe for concurrent
// use.
type Board struct {
	backend Backend
	timeout time.Duration

	mu      sync.Mutex
	entries []*entry // newest first
	details map[uuid.UUID][]backend.OrderItemDetail
	subs    map[int]func(Mutation)
	nextSub int

	// Bumped whenever cached details may be stale. A Details fetch that
	// overlaps a bump is returned but not cached.
	reloads uint64
	changes map[uuid.UUID]uint64
}

type detailsStamp struct {
	reload, change uint64
}

// NewBoard creates an empty Board. timeout bounds each remote call.
func NewBoard(b Backend, timeout time.Duration) *Board {
	return &Board{
		backend: b,
		timeout: timeout,
		details: make(map[uuid.UUID][]backend.OrderItemDetail),
		subs:    make(map[int]func(Mutation)),
		changes: make(map[uuid.UUID]uint64),
	}
}

// Subscribe registers fn to receive every Mutation. The returned function
// removes the subscription.
func (b *Board) Subscribe(fn func(Mutation)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Load replaces the board contents. orders are expected newest first. An
// order with a status change in flight keeps its in-flight marker, and the
// loaded value wins over that change's rollback.
func (b *Board) Load(orders []backend.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := make(map[uuid.UUID]*entry, len(b.entries))
	for _, e := range b.entries {
		prev[e.order.ID] = e
	}
	b.entries = make([]*entry, len(orders))
	for i, o := range orders {
		e := &entry{order: o}
		if old, ok := prev[o.ID]; ok {
			e.version = old.version + 1
			e.updating = old.updating
		}
		b.entries[i] = e
	}
	b.details = make(map[uuid.UUID][]backend.OrderItemDetail)
	b.changes = make(map[uuid.UUID]uint64)
	b.reloads++
}

// Refresh loads every order from the backend.
func (b *Board) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	orders, err := b.backend.ListOrders(ctx, nil)
	if err != nil {
		return apperr.Remote("list orders", err)
	}
	b.Load(orders)
	return nil
}

// List returns the orders matching a driver panel filter, newest first.
// FilterAll and unknown filters return every order.
func (b *Board) List(filter string) []backend.Order {
	statuses := enum.FilterStatuses[filter]

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.Order, 0, len(b.entries))
	for _, e := range b.entries {
		if len(statuses) == 0 || contains(statuses, e.order.Status) {
			out = append(out, e.order)
		}
	}
	return out
}

// Get returns one order as currently displayed.
func (b *Board) Get(id uuid.UUID) (backend.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := b.indexOf(id); i >= 0 {
		return b.entries[i].order, true
	}
	return backend.Order{}, false
}

// SetStatus changes the status of an order optimistically. The new status is
// visible before the backend answers; on failure the previous status is
// restored unless a pushed change arrived in the meantime.
//
// Errors: *apperr.ValidationError for an unknown status, ErrOrderNotFound,
// ErrUpdateInProgress, *apperr.ConcurrencyConflictError when the backend
// lacks stock for the transition, *apperr.RemoteWriteError otherwise.
func (b *Board) SetStatus(ctx context.Context, id uuid.UUID, status string) (Mutation, error) {
	if !enum.IsOrderStatus(status) {
		return Mutation{}, apperr.Invalid("status", "unknown order status")
	}

	b.mu.Lock()
	i := b.indexOf(id)
	if i < 0 {
		b.mu.Unlock()
		return Mutation{}, ErrOrderNotFound
	}
	e := b.entries[i]
	if e.updating {
		b.mu.Unlock()
		return Mutation{}, ErrUpdateInProgress
	}
	m := Mutation{OrderID: id, From: e.order.Status, To: status, Outcome: Pending}
	e.updating = true
	e.order.Status = status
	e.version++
	version := e.version
	b.mu.Unlock()

	b.emit(m)

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	updated, err := b.backend.UpdateOrderStatus(callCtx, id, status)
	cancel()

	b.mu.Lock()
	e = nil
	if i := b.indexOf(id); i >= 0 {
		e = b.entries[i]
		e.updating = false
	}
	if err != nil {
		if e != nil && e.version == version {
			e.order.Status = m.From
			e.version++
		}
		b.mu.Unlock()

		m.Outcome = RolledBack
		m.Reason = err.Error()
		b.emit(m)
		log.Printf("ERROR: set status of order %s to %s: %v", id, status, err)

		if errors.Is(err, backend.ErrInsufficientStock) {
			return m, &apperr.ConcurrencyConflictError{Op: "update order status", Err: err}
		}
		return m, apperr.Remote("update order status", err)
	}

	if e != nil && e.version == version {
		e.order = updated
	}
	b.mu.Unlock()

	m.Outcome = Committed
	b.emit(m)
	return m, nil
}

// Apply merges a pushed change: inserts are prepended, updates replace the
// displayed order, deletes remove it. The latest push wins.
func (b *Board) Apply(ev backend.OrderEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Type {
	case enum.EventInsert:
		if ev.New == nil {
			return
		}
		if i := b.indexOf(ev.New.ID); i >= 0 {
			b.entries[i].order = *ev.New
			b.entries[i].version++
			return
		}
		b.entries = append([]*entry{{order: *ev.New}}, b.entries...)

	case enum.EventUpdate:
		if ev.New == nil {
			return
		}
		if i := b.indexOf(ev.New.ID); i >= 0 {
			b.entries[i].order = *ev.New
			b.entries[i].version++
		}
		b.forgetDetails(ev.New.ID)

	case enum.EventDelete:
		id := ev.OrderID()
		if i := b.indexOf(id); i >= 0 {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
		}
		b.forgetDetails(id)
	}
}

// Delete removes an order from the backend, then from the board.
func (b *Board) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.backend.DeleteOrder(ctx, id); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			b.Apply(backend.OrderEvent{Type: enum.EventDelete, Old: &backend.Order{ID: id}})
			return ErrOrderNotFound
		}
		log.Printf("ERROR: delete order %s: %v", id, err)
		return apperr.Remote("delete order", err)
	}
	b.Apply(backend.OrderEvent{Type: enum.EventDelete, Old: &backend.Order{ID: id}})
	return nil
}

// Details returns the items of an order. Results are cached until the order
// is updated, deleted or the board is reloaded.
func (b *Board) Details(ctx context.Context, id uuid.UUID) ([]backend.OrderItemDetail, error) {
	b.mu.Lock()
	if d, ok := b.details[id]; ok {
		b.mu.Unlock()
		return d, nil
	}
	stamp := b.stamp(id)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	d, err := b.backend.ListOrderItemDetails(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, apperr.Remote("list order items", err)
	}
	if d == nil {
		d = []backend.OrderItemDetail{}
	}

	b.mu.Lock()
	if b.stamp(id) == stamp {
		b.details[id] = d
	}
	b.mu.Unlock()
	return d, nil
}

// --- internals ---

// forgetDetails drops the cached items of an order. Callers hold b.mu.
func (b *Board) forgetDetails(id uuid.UUID) {
	delete(b.details, id)
	b.changes[id]++
}

func (b *Board) stamp(id uuid.UUID) detailsStamp {
	return detailsStamp{reload: b.reloads, change: b.changes[id]}
}

func (b *Board) indexOf(id uuid.UUID) int {
	for i, e := range b.entries {
		if e.order.ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) emit(m Mutation) {
	b.mu.Lock()
	subs := make([]func(Mutation), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(m)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
