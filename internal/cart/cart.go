// Package cart holds the order-in-progress of one shopping session.
//
// A Store keeps line items (product + selected add-ons + quantity) and
// derives totals on every read. Two line items never share the same product
// and add-on set: adding an identical combination bumps the existing line,
// and add-on edits that make two lines identical merge them.
package cart

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxQuantity is the largest quantity one line may hold. Order rows store
// quantities as 32-bit integers.
const MaxQuantity = math.MaxInt32

// Product is the display snapshot of a catalog product taken when it is
// added to the cart. It is not re-synced afterwards.
type Product struct {
	ID       uuid.UUID
	Name     string
	Price    decimal.Decimal
	ImageURL string
}

// Addon is an optional priced modifier attachable to a line item.
type Addon struct {
	ID    uuid.UUID       `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// LineItem is one entry in the cart.
type LineItem struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ImageURL  string          `json:"image_url,omitempty"`
	Quantity  int             `json:"quantity"`
	Addons    []Addon         `json:"addons"`
}

// AddonTotal is the sum of the price deltas of the selected add-ons.
func (li LineItem) AddonTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range li.Addons {
		sum = sum.Add(a.Price)
	}
	return sum
}

// Subtotal is (unit price + add-on deltas) * quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Add(li.AddonTotal()).Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Key identifies the (product, add-on set) combination of the line.
func (li LineItem) Key() string {
	return identity(li.ProductID, li.Addons)
}

func (li LineItem) clone() LineItem {
	out := li
	out.Addons = make([]Addon, len(li.Addons))
	copy(out.Addons, li.Addons)
	return out
}

// Snapshot is the derived view of a cart: items plus aggregates computed
// from them at the time of the call.
type Snapshot struct {
	Items      []LineItem      `json:"items"`
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// ProductIDs returns the distinct product ids referenced by the snapshot,
// in first-seen order.
func (s Snapshot) ProductIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(s.Items))
	var ids []uuid.UUID
	for _, it := range s.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces uuid.New for line item ids.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(s *Store) { s.newID = fn }
}

// Store is the cart state container. All methods are safe for concurrent
// use; every mutation is atomic and subscribers are notified after the
// store lock is released.
type Store struct {
	mu     sync.Mutex
	items  []LineItem
	newID  func() uuid.UUID
	subs   map[int]func(Snapshot)
	nextID int
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		newID: uuid.New,
		subs:  make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to receive a snapshot after every effective
// mutation. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// AddItem adds quantity units of p with the given add-ons. An existing line
// with the same product and add-on set absorbs the quantity; otherwise a new
// line is created. Quantities below 1, and additions that would take a line
// past MaxQuantity, are ignored and uuid.Nil is returned. The returned id is
// the line that now holds the units.
func (s *Store) AddItem(p Product, quantity int, addons ...Addon) uuid.UUID {
	if quantity < 1 || quantity > MaxQuantity {
		return uuid.Nil
	}
	addons = dedupeAddons(addons)
	key := identity(p.ID, addons)

	var id uuid.UUID
	s.mutate(func() bool {
		for i := range s.items {
			if s.items[i].Key() == key {
				if s.items[i].Quantity > MaxQuantity-quantity {
					return false
				}
				s.items[i].Quantity += quantity
				id = s.items[i].ID
				return true
			}
		}
		id = s.newID()
		s.items = append(s.items, LineItem{
			ID:        id,
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			ImageURL:  p.ImageURL,
			Quantity:  quantity,
			Addons:    addons,
		})
		s.merge()
		return true
	})
	return id
}

// UpdateQuantity sets the quantity of a line. A quantity <= 0 removes the
// line. Unknown ids and quantities above MaxQuantity are ignored.
func (s *Store) UpdateQuantity(id uuid.UUID, quantity int) {
	if quantity <= 0 {
		s.RemoveItem(id)
		return
	}
	if quantity > MaxQuantity {
		return
	}
	s.mutate(func() bool {
		i := s.indexOf(id)
		if i < 0 || s.items[i].Quantity == quantity {
			return false
		}
		s.items[i].Quantity = quantity
		return true
	})
}

// RemoveItem deletes a line. Removing an absent line is a no-op.
func (s *Store) RemoveItem(id uuid.UUID) {
	s.mutate(func() bool {
		i := s.indexOf(id)
		if i < 0 {
			return false
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		return true
	})
}

// ToggleAddon adds addon to the line if it is absent and removes it if it is
// present, then merges lines that became identical.
func (s *Store) ToggleAddon(id uuid.UUID, addon Addon) {
	s.mutate(func() bool {
		i := s.indexOf(id)
		if i < 0 {
			return false
		}
		it := &s.items[i]
		if j := addonIndex(it.Addons, addon.ID); j >= 0 {
			it.Addons = append(it.Addons[:j:j], it.Addons[j+1:]...)
		} else {
			it.Addons = append(it.Addons, addon)
		}
		s.merge()
		return true
	})
}

// SetAddons replaces the add-on set of a line, then merges lines that became
// identical.
func (s *Store) SetAddons(id uuid.UUID, addons []Addon) {
	addons = dedupeAddons(addons)
	s.mutate(func() bool {
		i := s.indexOf(id)
		if i < 0 {
			return false
		}
		s.items[i].Addons = addons
		s.merge()
		return true
	})
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mutate(func() bool {
		if len(s.items) == 0 {
			return false
		}
		s.items = nil
		return true
	})
}

// Deduct takes ordered items out of the cart. Each item lowers the line with
// the same product and add-on set by its quantity, and the line is removed
// once nothing is left. Lines added since items were read stay untouched.
func (s *Store) Deduct(items []LineItem) {
	s.mutate(func() bool {
		changed := false
		for _, it := range items {
			key := it.Key()
			for i := range s.items {
				if s.items[i].Key() != key {
					continue
				}
				if s.items[i].Quantity > it.Quantity {
					s.items[i].Quantity -= it.Quantity
				} else {
					s.items = append(s.items[:i], s.items[i+1:]...)
				}
				changed = true
				break
			}
		}
		return changed
	})
}

// Restore replaces the cart contents with previously persisted items. Lines
// with a non-positive quantity are dropped, duplicated add-ons are removed
// and identical lines are merged. Stored aggregates are never trusted.
func (s *Store) Restore(items []LineItem) {
	s.mutate(func() bool {
		s.items = s.items[:0]
		for _, it := range items {
			if it.Quantity <= 0 || it.Quantity > MaxQuantity {
				continue
			}
			it = it.clone()
			it.Addons = dedupeAddons(it.Addons)
			if it.ID == uuid.Nil {
				it.ID = s.newID()
			}
			s.items = append(s.items, it)
		}
		s.merge()
		return true
	})
}

// Get returns a copy of one line.
func (s *Store) Get(id uuid.UUID) (LineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return LineItem{}, false
	}
	return s.items[i].clone(), true
}

// Items returns a copy of the line items in cart order.
func (s *Store) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyItems()
}

// Len returns the number of line items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// TotalItems returns the sum of quantities.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalItems(s.items)
}

// TotalPrice returns the sum of line subtotals.
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalPrice(s.items)
}

// Snapshot returns the items with freshly computed aggregates.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// --- internals ---

// mutate runs fn under the lock and notifies subscribers when fn reports a
// change.
func (s *Store) mutate(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	var (
		snap Snapshot
		subs []func(Snapshot)
	)
	if changed {
		snap = s.snapshot()
		subs = make([]func(Snapshot), 0, len(s.subs))
		for _, sub := range s.subs {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

// merge collapses lines sharing (product, add-on set). The first line keeps
// its position and id; later duplicates add their quantity to it, capped at
// MaxQuantity.
func (s *Store) merge() {
	pos := make(map[string]int, len(s.items))
	merged := s.items[:0]
	for _, it := range s.items {
		k := it.Key()
		if i, ok := pos[k]; ok {
			merged[i].Quantity = min(merged[i].Quantity+it.Quantity, MaxQuantity)
			continue
		}
		pos[k] = len(merged)
		merged = append(merged, it)
	}
	// Clear the tail so dropped lines do not pin their add-on slices.
	for i := len(merged); i < len(s.items); i++ {
		s.items[i] = LineItem{}
	}
	s.items = merged
}

func (s *Store) indexOf(id uuid.UUID) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) copyItems() []LineItem {
	out := make([]LineItem, len(s.items))
	for i, it := range s.items {
		out[i] = it.clone()
	}
	return out
}

func (s *Store) snapshot() Snapshot {
	return Snapshot{
		Items:      s.copyItems(),
		TotalItems: totalItems(s.items),
		TotalPrice: totalPrice(s.items),
	}
}

func totalItems(items []LineItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

func totalPrice(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

func identity(productID uuid.UUID, addons []Addon) string {
	ids := make([]string, len(addons))
	for i, a := range addons {
		ids[i] = a.ID.String()
	}
	sort.Strings(ids)
	return productID.String() + "|" + strings.Join(ids, ",")
}

func addonIndex(addons []Addon, id uuid.UUID) int {
	for i, a := range addons {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func dedupeAddons(addons []Addon) []Addon {
	if len(addons) == 0 {
		return nil
	}
	out := make([]Addon, 0, len(addons))
	for _, a := range addons {
		if addonIndex(out, a.ID) < 0 {
			out = append(out, a)
		}
	}
	return out
}
