package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/apperr"
	"github.com/pizzeria-app/storefront/internal/backend"
)

// --- Mock backend ---

type mockBackend struct {
	listOrdersFn   func(ctx context.Context, statuses []string) ([]backend.Order, error)
	updateStatusFn func(ctx context.Context, id uuid.UUID, status string) (backend.Order, error)
	deleteOrderFn  func(ctx context.Context, id uuid.UUID) error
	listDetailsFn  func(ctx context.Context, orderIDs []uuid.UUID) ([]backend.OrderItemDetail, error)
}

func (m *mockBackend) ListOrders(ctx context.Context, statuses []string) ([]backend.Order, error) {
	return m.listOrdersFn(ctx, statuses)
}
func (m *mockBackend) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status string) (backend.Order, error) {
	return m.updateStatusFn(ctx, id, status)
}
func (m *mockBackend) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return m.deleteOrderFn(ctx, id)
}
func (m *mockBackend) ListOrderItemDetails(ctx context.Context, orderIDs []uuid.UUID) ([]backend.OrderItemDetail, error) {
	return m.listDetailsFn(ctx, orderIDs)
}

// --- Test helpers ---

func order(status string) backend.Order {
	return backend.Order{ID: uuid.New(), UserID: uuid.New(), Status: status, DeliveryAddress: "Via Roma 1"}
}

func newBoard(m *mockBackend, orders ...backend.Order) *Board {
	b := NewBoard(m, time.Second)
	b.Load(orders)
	return b
}

func mustStatus(t *testing.T, b *Board, id uuid.UUID) string {
	t.Helper()
	o, ok := b.Get(id)
	if !ok {
		t.Fatalf("order %s missing", id)
	}
	return o.Status
}

type mutationLog struct {
	mu  sync.Mutex
	got []Mutation
}

func (l *mutationLog) add(m Mutation) {
	l.mu.Lock()
	l.got = append(l.got, m)
	l.mu.Unlock()
}

func (l *mutationLog) outcomes() []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Outcome, len(l.got))
	for i, m := range l.got {
		out[i] = m.Outcome
	}
	return out
}

// --- SetStatus ---

func TestSetStatus_Committed(t *testing.T) {
	o := order("pending")
	m := &mockBackend{}
	var b *Board
	m.updateStatusFn = func(_ context.Context, id uuid.UUID, status string) (backend.Order, error) {
		if got := mustStatus(t, b, id); got != "accepted" {
			t.Errorf("optimistic status: got %q, want accepted", got)
		}
		updated := o
		updated.Status = status
		updated.UpdatedAt = time.Now()
		return updated, nil
	}
	b = newBoard(m, o)
	log := &mutationLog{}
	b.Subscribe(log.add)

	mut, err := b.SetStatus(context.Background(), o.ID, "accepted")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if mut.Outcome != Committed || mut.From != "pending" || mut.To != "accepted" {
		t.Errorf("mutation: got %+v", mut)
	}
	if got := mustStatus(t, b, o.ID); got != "accepted" {
		t.Errorf("status: got %q, want accepted", got)
	}
	if got := log.outcomes(); len(got) != 2 || got[0] != Pending || got[1] != Committed {
		t.Errorf("outcomes: got %v", got)
	}
}

func TestSetStatus_InsufficientStockRollsBack(t *testing.T) {
	o := order("pending")
	m := &mockBackend{}
	var b *Board
	m.updateStatusFn = func(_ context.Context, id uuid.UUID, _ string) (backend.Order, error) {
		if got := mustStatus(t, b, id); got != "completed" {
			t.Errorf("optimistic status: got %q, want completed", got)
		}
		return backend.Order{}, backend.ErrInsufficientStock
	}
	b = newBoard(m, o)
	log := &mutationLog{}
	b.Subscribe(log.add)

	mut, err := b.SetStatus(context.Background(), o.ID, "completed")

	var ce *apperr.ConcurrencyConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}
	if mut.Outcome != RolledBack || mut.Reason == "" {
		t.Errorf("mutation: got %+v", mut)
	}
	if got := mustStatus(t, b, o.ID); got != "pending" {
		t.Errorf("status after rollback: got %q, want pending", got)
	}
	if got := log.outcomes(); len(got) != 2 || got[0] != Pending || got[1] != RolledBack {
		t.Errorf("outcomes: got %v", got)
	}
}

func TestSetStatus_RemoteFailure(t *testing.T) {
	o := order("accepted")
	m := &mockBackend{
		updateStatusFn: func(context.Context, uuid.UUID, string) (backend.Order, error) {
			return backend.Order{}, errors.New("connection reset")
		},
	}
	b := newBoard(m, o)

	_, err := b.SetStatus(context.Background(), o.ID, "in_transit")

	var re *apperr.RemoteWriteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteWriteError, got %v", err)
	}
	if got := mustStatus(t, b, o.ID); got != "accepted" {
		t.Errorf("status: got %q, want accepted", got)
	}
}

func TestSetStatus_PushDuringFlightWins(t *testing.T) {
	o := order("pending")
	m := &mockBackend{}
	var b *Board
	m.updateStatusFn = func(context.Context, uuid.UUID, string) (backend.Order, error) {
		pushed := o
		pushed.Status = "cancelled"
		b.Apply(backend.OrderEvent{Type: "update", New: &pushed})
		return backend.Order{}, backend.ErrInsufficientStock
	}
	b = newBoard(m, o)

	if _, err := b.SetStatus(context.Background(), o.ID, "completed"); err == nil {
		t.Fatal("expected error")
	}
	if got := mustStatus(t, b, o.ID); got != "cancelled" {
		t.Errorf("status: got %q, want the pushed value cancelled", got)
	}
}

func TestSetStatus_PushDuringSuccessfulFlightWins(t *testing.T) {
	o := order("pending")
	m := &mockBackend{}
	var b *Board
	m.updateStatusFn = func(context.Context, uuid.UUID, string) (backend.Order, error) {
		pushed := o
		pushed.Status = "delivered"
		b.Apply(backend.OrderEvent{Type: "update", New: &pushed})
		committed := o
		committed.Status = "accepted"
		return committed, nil
	}
	b = newBoard(m, o)

	if _, err := b.SetStatus(context.Background(), o.ID, "accepted"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got := mustStatus(t, b, o.ID); got != "delivered" {
		t.Errorf("status: got %q, want delivered", got)
	}
}

func TestSetStatus_OrderDeletedDuringFlight(t *testing.T) {
	o := order("pending")
	m := &mockBackend{}
	var b *Board
	m.updateStatusFn = func(context.Context, uuid.UUID, string) (backend.Order, error) {
		b.Apply(backend.OrderEvent{Type: "delete", Old: &o})
		return backend.Order{}, errors.New("gone")
	}
	b = newBoard(m, o)

	if _, err := b.SetStatus(context.Background(), o.ID, "accepted"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := b.Get(o.ID); ok {
		t.Error("deleted order must not come back on rollback")
	}
}

func TestSetStatus_ReloadDuringFlightWins(t *testing.T) {
	o := order("pending")
	m := &mockBackend{}
	var (
		b         *Board
		secondErr error
	)
	m.updateStatusFn = func(ctx context.Context, _ uuid.UUID, _ string) (backend.Order, error) {
		reloaded := o
		reloaded.Status = "cancelled"
		b.Load([]backend.Order{reloaded})
		_, secondErr = b.SetStatus(ctx, o.ID, "accepted")
		return backend.Order{}, errors.New("timeout")
	}
	b = newBoard(m, o)

	if _, err := b.SetStatus(context.Background(), o.ID, "completed"); err == nil {
		t.Fatal("expected error")
	}
	if got := mustStatus(t, b, o.ID); got != "cancelled" {
		t.Errorf("status: got %q, want the reloaded value cancelled", got)
	}
	if !errors.Is(secondErr, ErrUpdateInProgress) {
		t.Errorf("change during flight: got %v, want ErrUpdateInProgress", secondErr)
	}
}

func TestSetStatus_UnknownStatus(t *testing.T) {
	o := order("pending")
	called := false
	m := &mockBackend{
		updateStatusFn: func(context.Context, uuid.UUID, string) (backend.Order, error) {
			called = true
			return backend.Order{}, nil
		},
	}
	b := newBoard(m, o)

	_, err := b.SetStatus(context.Background(), o.ID, "teleported")

	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Field != "status" {
		t.Fatalf("expected status ValidationError, got %v", err)
	}
	if called {
		t.Error("no remote call expected")
	}
	if got := mustStatus(t, b, o.ID); got != "pending" {
		t.Errorf("status: got %q", got)
	}
}

func TestSetStatus_UnknownOrder(t *testing.T) {
	b := newBoard(&mockBackend{})
	_, err := b.SetStatus(context.Background(), uuid.New(), "accepted")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestSetStatus_InProgress(t *testing.T) {
	o := order("pending")
	entered := make(chan struct{})
	release := make(chan struct{})
	m := &mockBackend{
		updateStatusFn: func(_ context.Context, _ uuid.UUID, status string) (backend.Order, error) {
			close(entered)
			<-release
			updated := o
			updated.Status = status
			return updated, nil
		},
	}
	b := newBoard(m, o)

	done := make(chan error, 1)
	go func() {
		_, err := b.SetStatus(context.Background(), o.ID, "accepted")
		done <- err
	}()
	<-entered

	if _, err := b.SetStatus(context.Background(), o.ID, "cancelled"); !errors.Is(err, ErrUpdateInProgress) {
		t.Errorf("expected ErrUpdateInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first update: %v", err)
	}
	if got := mustStatus(t, b, o.ID); got != "accepted" {
		t.Errorf("status: got %q, want accepted", got)
	}
}

// --- Apply ---

func TestApply_InsertUpdateDelete(t *testing.T) {
	first := order("pending")
	b := newBoard(&mockBackend{}, first)

	second := order("new")
	b.Apply(backend.OrderEvent{Type: "insert", New: &second})
	list := b.List("all")
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("insert must prepend, got %+v", list)
	}

	changed := first
	changed.Status = "accepted"
	b.Apply(backend.OrderEvent{Type: "update", New: &changed, Old: &first})
	if got := mustStatus(t, b, first.ID); got != "accepted" {
		t.Errorf("update: got %q, want accepted", got)
	}
	if list := b.List("all"); list[1].ID != first.ID {
		t.Error("update must keep position")
	}

	b.Apply(backend.OrderEvent{Type: "delete", Old: &second})
	if list := b.List("all"); len(list) != 1 || list[0].ID != first.ID {
		t.Errorf("delete: got %+v", list)
	}
}

func TestApply_UpdateForUnknownOrderIgnored(t *testing.T) {
	b := newBoard(&mockBackend{}, order("pending"))
	stray := order("accepted")
	b.Apply(backend.OrderEvent{Type: "update", New: &stray})
	if len(b.List("all")) != 1 {
		t.Error("update for an unknown order must not add it")
	}
}

func TestApply_RepeatedInsertReplaces(t *testing.T) {
	o := order("pending")
	b := newBoard(&mockBackend{})
	b.Apply(backend.OrderEvent{Type: "insert", New: &o})
	b.Apply(backend.OrderEvent{Type: "insert", New: &o})
	if len(b.List("all")) != 1 {
		t.Error("duplicate insert must not create a second entry")
	}
}

// --- List / Refresh ---

func TestList_Filters(t *testing.T) {
	pending := order("pending")
	fresh := order("new")
	accepted := order("accepted")
	transit := order("in_transit")
	delivered := order("delivered")
	b := newBoard(&mockBackend{}, pending, fresh, accepted, transit, delivered)

	tests := []struct {
		filter string
		want   int
	}{
		{"all", 5},
		{"", 5},
		{"bogus", 5},
		{"new", 2},
		{"accepted", 1},
		{"in_transit", 1},
		{"delivered", 1},
	}
	for _, tt := range tests {
		if got := len(b.List(tt.filter)); got != tt.want {
			t.Errorf("filter %q: got %d, want %d", tt.filter, got, tt.want)
		}
	}
}

func TestRefresh(t *testing.T) {
	o := order("pending")
	m := &mockBackend{
		listOrdersFn: func(_ context.Context, statuses []string) ([]backend.Order, error) {
			if len(statuses) != 0 {
				t.Errorf("statuses: got %v, want none", statuses)
			}
			return []backend.Order{o}, nil
		},
	}
	b := NewBoard(m, time.Second)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := b.Get(o.ID); !ok {
		t.Error("order missing after refresh")
	}
}

// --- Delete / Details ---

func TestDelete(t *testing.T) {
	o := order("pending")
	fail := true
	m := &mockBackend{
		deleteOrderFn: func(context.Context, uuid.UUID) error {
			if fail {
				return errors.New("permission denied")
			}
			return nil
		},
	}
	b := newBoard(m, o)

	var re *apperr.RemoteWriteError
	if err := b.Delete(context.Background(), o.ID); !errors.As(err, &re) {
		t.Fatalf("expected RemoteWriteError, got %v", err)
	}
	if _, ok := b.Get(o.ID); !ok {
		t.Fatal("order must be kept when the remote delete fails")
	}

	fail = false
	if err := b.Delete(context.Background(), o.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := b.Get(o.ID); ok {
		t.Error("order must be removed")
	}
}

func TestDetails_Cached(t *testing.T) {
	o := order("pending")
	calls := 0
	m := &mockBackend{
		listDetailsFn: func(_ context.Context, ids []uuid.UUID) ([]backend.OrderItemDetail, error) {
			calls++
			return []backend.OrderItemDetail{{ID: uuid.New(), OrderID: ids[0], ProductName: "Margherita", Quantity: 2}}, nil
		},
	}
	b := newBoard(m, o)

	for i := 0; i < 2; i++ {
		d, err := b.Details(context.Background(), o.ID)
		if err != nil {
			t.Fatalf("details: %v", err)
		}
		if len(d) != 1 || d[0].ProductName != "Margherita" {
			t.Errorf("details: got %+v", d)
		}
	}
	if calls != 1 {
		t.Errorf("backend calls: got %d, want 1", calls)
	}

	b.Apply(backend.OrderEvent{Type: "delete", Old: &o})
	if _, err := b.Details(context.Background(), o.ID); err != nil {
		t.Fatalf("details: %v", err)
	}
	if calls != 2 {
		t.Errorf("cache must be dropped on delete, calls: got %d", calls)
	}
}

func TestDetails_UpdateDuringFetchNotCached(t *testing.T) {
	o := order("pending")
	var b *Board
	calls := 0
	m := &mockBackend{
		listDetailsFn: func(_ context.Context, ids []uuid.UUID) ([]backend.OrderItemDetail, error) {
			calls++
			name := "Diavola"
			if calls == 1 {
				name = "Margherita"
				updated := o
				updated.Status = "accepted"
				b.Apply(backend.OrderEvent{Type: "update", New: &updated})
			}
			return []backend.OrderItemDetail{{ID: uuid.New(), OrderID: ids[0], ProductName: name, Quantity: 1}}, nil
		},
	}
	b = newBoard(m, o)

	if _, err := b.Details(context.Background(), o.ID); err != nil {
		t.Fatalf("details: %v", err)
	}
	d, err := b.Details(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if calls != 2 {
		t.Errorf("backend calls: got %d, want 2", calls)
	}
	if len(d) != 1 || d[0].ProductName != "Diavola" {
		t.Errorf("details: got %+v, want the post-update items", d)
	}
}

func TestDetails_ReloadDuringFetchNotCached(t *testing.T) {
	o := order("pending")
	var b *Board
	calls := 0
	m := &mockBackend{
		listDetailsFn: func(_ context.Context, ids []uuid.UUID) ([]backend.OrderItemDetail, error) {
			calls++
			if calls == 1 {
				b.Load([]backend.Order{o})
			}
			return []backend.OrderItemDetail{}, nil
		},
	}
	b = newBoard(m, o)

	for i := 0; i < 2; i++ {
		if _, err := b.Details(context.Background(), o.ID); err != nil {
			t.Fatalf("details: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("backend calls: got %d, want 2", calls)
	}
}

func TestOutcome_MarshalText(t *testing.T) {
	got, _ := RolledBack.MarshalText()
	if string(got) != "rolled_back" {
		t.Errorf("got %q", got)
	}
}
