// Package checkout turns a cart into a persisted order.
//
// Checkout validates the cart against live stock, then writes the order,
// each line item and its add-on associations in a fixed order. The backend
// offers no multi-table transaction, so progress is recorded in a per-user
// draft: a retry with an unchanged cart resumes after the last completed
// step instead of writing duplicate rows.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/apperr"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/cart"
)

// SuccessRedirect is where a client goes after a successful checkout.
const SuccessRedirect = "/orders"

// ErrCheckoutInProgress is returned when the same user starts a second
// checkout before the first one finished.
var ErrCheckoutInProgress = errors.New("checkout already in progress")

// State is the position of a user's checkout in the flow.
type State int

const (
	Idle State = iota
	AwaitingAddress
	Validating
	ConflictReported
	Committing
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingAddress:
		return "awaiting_address"
	case Validating:
		return "validating"
	case ConflictReported:
		return "conflict_reported"
	case Committing:
		return "committing"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Backend defines the remote calls checkout needs.
// Satisfied by *backend.Client; narrow interface for testability.
type Backend interface {
	FetchStock(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int32, error)
	CreateOrder(ctx context.Context, arg backend.CreateOrderParams) (backend.Order, error)
	DecrementStock(ctx context.Context, id uuid.UUID, qty int32) (int32, error)
	CreateOrderItem(ctx context.Context, arg backend.CreateOrderItemParams) (backend.OrderItem, error)
	CreateOrderItemAddons(ctx context.Context, args []backend.CreateOrderItemAddonParams) ([]backend.OrderItemAddon, error)
}

// Cart is the part of *cart.Store checkout uses.
type Cart interface {
	Snapshot() cart.Snapshot
	Deduct(items []cart.LineItem)
}

// Request is the checkout input. A zero UserID means no one is signed in.
type Request struct {
	UserID  uuid.UUID
	Address string
}

// Result is the created order with its items.
type Result struct {
	Order    backend.Order
	Items    []ItemResult
	Redirect string
}

// ItemResult is one created order item with its add-on rows.
type ItemResult struct {
	Item   backend.OrderItem
	Addons []backend.OrderItemAddon
}

// lineProgress tracks which writes of one cart line are done.
type lineProgress struct {
	stockTaken bool
	item       *backend.OrderItem
	addons     []backend.OrderItemAddon
	addonsDone bool
}

type draft struct {
	fingerprint string
	key         uuid.UUID
	order       *backend.Order
	lines       []lineProgress
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds the remote work of one Checkout call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithClock replaces time.Now for the order delivery time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithKeyGenerator replaces uuid.New for checkout keys.
func WithKeyGenerator(fn func() uuid.UUID) Option {
	return func(s *Service) { s.newKey = fn }
}

// WithTransitionHook registers fn to observe every state change.
func WithTransitionHook(fn func(userID uuid.UUID, from, to State)) Option {
	return func(s *Service) { s.hook = fn }
}

// Service runs checkouts. One Service is shared by all users.
type Service struct {
	backend Backend
	timeout time.Duration
	now     func() time.Time
	newKey  func() uuid.UUID
	hook    func(userID uuid.UUID, from, to State)

	mu       sync.Mutex
	inflight map[uuid.UUID]bool
	states   map[uuid.UUID]State
	drafts   map[uuid.UUID]*draft
}

// NewService creates a Service.
func NewService(b Backend, opts ...Option) *Service {
	s := &Service{
		backend:  b,
		timeout:  10 * time.Second,
		now:      time.Now,
		newKey:   uuid.New,
		inflight: make(map[uuid.UUID]bool),
		states:   make(map[uuid.UUID]State),
		drafts:   make(map[uuid.UUID]*draft),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current checkout state of a user.
func (s *Service) State(userID uuid.UUID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[userID]
}

// Checkout places an order for the contents of c.
//
// Errors: *apperr.AuthorizationError without a user, *apperr.ValidationError
// for an empty cart or blank address, *apperr.StockConflictError when a
// product has too little stock, *apperr.ConcurrencyConflictError when stock
// ran out during the commit, *apperr.RemoteWriteError for other backend
// failures, ErrCheckoutInProgress for a concurrent call. Only on success are
// the ordered lines taken out of the cart.
func (s *Service) Checkout(ctx context.Context, req Request, c Cart) (*Result, error) {
	if req.UserID == uuid.Nil {
		return nil, apperr.Unauthenticated()
	}
	if !s.begin(req.UserID) {
		return nil, ErrCheckoutInProgress
	}
	defer s.end(req.UserID)

	snap := c.Snapshot()
	if len(snap.Items) == 0 {
		s.transition(req.UserID, Idle)
		return nil, apperr.Invalid("items", "cart is empty")
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		s.transition(req.UserID, AwaitingAddress)
		return nil, apperr.Invalid("delivery_address", "delivery address is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fp := fingerprint(address, snap)
	s.transition(req.UserID, Validating)
	if err := s.validate(ctx, snap, s.heldStock(req.UserID, fp, snap)); err != nil {
		var sc *apperr.StockConflictError
		if errors.As(err, &sc) {
			s.transition(req.UserID, ConflictReported)
		} else {
			s.transition(req.UserID, Failed)
		}
		return nil, err
	}

	s.transition(req.UserID, Committing)
	res, err := s.commit(ctx, req.UserID, address, fp, snap)
	if err != nil {
		log.Printf("ERROR: checkout for %s: %v", req.UserID, err)
		s.transition(req.UserID, Failed)
		return nil, err
	}

	c.Deduct(snap.Items)
	s.mu.Lock()
	delete(s.drafts, req.UserID)
	s.mu.Unlock()
	s.transition(req.UserID, Success)
	return res, nil
}

// validate compares requested quantities with live stock. Lines sharing a
// product draw on one counter, so their quantities are summed. Stock in held
// was already taken by this cart's earlier attempt and counts as available.
// Products the backend no longer knows count as zero stock.
func (s *Service) validate(ctx context.Context, snap cart.Snapshot, held map[uuid.UUID]int) error {
	ids := snap.ProductIDs()
	stock, err := s.backend.FetchStock(ctx, ids)
	if err != nil {
		return apperr.Remote("fetch stock", err)
	}

	requested := make(map[uuid.UUID]int, len(ids))
	names := make(map[uuid.UUID]string, len(ids))
	for _, it := range snap.Items {
		requested[it.ProductID] += it.Quantity
		if _, ok := names[it.ProductID]; !ok {
			names[it.ProductID] = it.Name
		}
	}

	var conflicts []apperr.StockConflict
	for _, id := range ids {
		available := int(stock[id]) + held[id]
		if requested[id] > available {
			conflicts = append(conflicts, apperr.StockConflict{
				ProductID: id,
				Name:      names[id],
				Requested: requested[id],
				Available: available,
			})
		}
	}
	if len(conflicts) > 0 {
		return &apperr.StockConflictError{Conflicts: conflicts}
	}
	return nil
}

// commit writes the order, then each line in cart order: stock decrement,
// order item, add-on associations. Completed steps are recorded in the
// user's draft and skipped on retry.
func (s *Service) commit(ctx context.Context, userID uuid.UUID, address, fp string, snap cart.Snapshot) (*Result, error) {
	d := s.draftFor(userID, fp, len(snap.Items))

	if d.order == nil {
		key := d.key
		order, err := s.backend.CreateOrder(ctx, backend.CreateOrderParams{
			UserID:          userID,
			TotalPrice:      snap.TotalPrice,
			DeliveryAddress: address,
			DeliveryTime:    s.now(),
			CheckoutKey:     &key,
		})
		if err != nil {
			return nil, apperr.Remote("create order", err)
		}
		d.order = &order
	}

	res := &Result{
		Order:    *d.order,
		Items:    make([]ItemResult, 0, len(snap.Items)),
		Redirect: SuccessRedirect,
	}
	for i, it := range snap.Items {
		p := &d.lines[i]
		if err := s.commitLine(ctx, d.order.ID, it, p); err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, err)
		}
		res.Items = append(res.Items, ItemResult{Item: *p.item, Addons: p.addons})
	}
	return res, nil
}

func (s *Service) commitLine(ctx context.Context, orderID uuid.UUID, it cart.LineItem, p *lineProgress) error {
	if !p.stockTaken {
		if _, err := s.backend.DecrementStock(ctx, it.ProductID, int32(it.Quantity)); err != nil {
			if errors.Is(err, backend.ErrInsufficientStock) {
				return &apperr.ConcurrencyConflictError{Op: "decrement stock", Err: err}
			}
			return apperr.Remote("decrement stock", err)
		}
		p.stockTaken = true
	}

	if p.item == nil {
		item, err := s.backend.CreateOrderItem(ctx, backend.CreateOrderItemParams{
			OrderID:       orderID,
			ProductID:     it.ProductID,
			Quantity:      int32(it.Quantity),
			UnitPrice:     it.UnitPrice,
			StockReserved: true,
		})
		if err != nil {
			return apperr.Remote("create order item", err)
		}
		p.item = &item
	}

	if !p.addonsDone {
		if len(it.Addons) > 0 {
			args := make([]backend.CreateOrderItemAddonParams, len(it.Addons))
			for i, a := range it.Addons {
				args[i] = backend.CreateOrderItemAddonParams{OrderItemID: p.item.ID, AddonID: a.ID}
			}
			rows, err := s.backend.CreateOrderItemAddons(ctx, args)
			if err != nil {
				return apperr.Remote("create order item addons", err)
			}
			p.addons = rows
		}
		p.addonsDone = true
	}
	return nil
}

// heldStock sums, per product, the quantities whose stock the user's draft
// for this cart has already decremented. A draft made for other contents
// holds nothing.
func (s *Service) heldStock(userID uuid.UUID, fp string, snap cart.Snapshot) map[uuid.UUID]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := make(map[uuid.UUID]int)
	d, ok := s.drafts[userID]
	if !ok || d.fingerprint != fp {
		return held
	}
	for i, p := range d.lines {
		if p.stockTaken {
			held[snap.Items[i].ProductID] += snap.Items[i].Quantity
		}
	}
	return held
}

// draftFor returns the user's draft for this cart, replacing a draft made
// for different cart contents.
func (s *Service) draftFor(userID uuid.UUID, fp string, lines int) *draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.drafts[userID]; ok {
		if d.fingerprint == fp {
			return d
		}
		if d.order != nil {
			log.Printf("WARN: cart of %s changed after partial checkout; order %s left incomplete", userID, d.order.ID)
		}
	}
	d := &draft{
		fingerprint: fp,
		key:         s.newKey(),
		lines:       make([]lineProgress, lines),
	}
	s.drafts[userID] = d
	return d
}

func (s *Service) begin(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[userID] {
		return false
	}
	s.inflight[userID] = true
	return true
}

func (s *Service) end(userID uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, userID)
	s.mu.Unlock()
}

func (s *Service) transition(userID uuid.UUID, to State) {
	s.mu.Lock()
	from := s.states[userID]
	s.states[userID] = to
	hook := s.hook
	s.mu.Unlock()

	if hook != nil && from != to {
		hook(userID, from, to)
	}
}

// fingerprint identifies the cart contents and address a draft was made for.
func fingerprint(address string, snap cart.Snapshot) string {
	var b strings.Builder
	b.WriteString(address)
	for _, it := range snap.Items {
		ids := make([]string, len(it.Addons))
		for i, a := range it.Addons {
			ids[i] = a.ID.String()
		}
		sort.Strings(ids)
		fmt.Fprintf(&b, "\n%s|%s|%d|%s|%s", it.ID, it.ProductID, it.Quantity, it.UnitPrice.String(), strings.Join(ids, ","))
	}
	return b.String()
}
