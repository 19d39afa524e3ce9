package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/apperr"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/cart"
)

// CartProvider returns the live cart of a user. Satisfied by *cart.Registry.
type CartProvider interface {
	Get(ctx context.Context, userID uuid.UUID) *cart.Store
}

// CatalogLookup resolves the products and add-ons a cart refers to. Prices
// always come from here, never from the request.
// Satisfied by *backend.Client; narrow interface for testability.
type CatalogLookup interface {
	GetProduct(ctx context.Context, id uuid.UUID) (backend.Product, error)
	GetAddons(ctx context.Context, ids []uuid.UUID) ([]backend.Addon, error)
}

var errQuantityTooLarge = apperr.Invalid("quantity", "quantity exceeds the per-line maximum")

// CartHandler exposes the signed-in user's cart.
type CartHandler struct {
	carts   CartProvider
	catalog CatalogLookup
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(carts CartProvider, catalog CatalogLookup) *CartHandler {
	return &CartHandler{carts: carts, catalog: catalog}
}

// RegisterRoutes registers cart endpoints. Every route answers with the
// resulting cart snapshot.
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Clear)
		r.Post("/items", h.AddItem)
		r.Patch("/items/{id}", h.UpdateQuantity)
		r.Delete("/items/{id}", h.RemoveItem)
		r.Put("/items/{id}/addons", h.SetAddons)
		r.Post("/items/{id}/addons/{addonId}", h.ToggleAddon)
	})
}

// --- Request types ---

type addItemRequest struct {
	ProductID string   `json:"product_id"`
	Quantity  int      `json:"quantity"`
	AddonIDs  []string `json:"addon_ids"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type setAddonsRequest struct {
	AddonIDs []string `json:"addon_ids"`
}

// --- Handlers ---

func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	store, ok := h.cart(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	store, ok := h.cart(w, r)
	if !ok {
		return
	}
	store.Clear()
	writeJSON(w, http.StatusOK, store.Snapshot())
}

// AddItem adds a product with add-ons. Identical product and add-on
// combinations land on the same line.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.cart(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product_id", "field": "product_id"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be at least 1", "field": "quantity"})
		return
	}
	if req.Quantity > cart.MaxQuantity {
		writeError(w, errQuantityTooLarge)
		return
	}

	p, err := h.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: get product %s: %v", productID, err)
		writeError(w, apperr.Remote("get product", err))
		return
	}

	addons, ok := h.addons(w, r, req.AddonIDs)
	if !ok {
		return
	}

	item := cart.Product{ID: p.ID, Name: p.Name, Price: p.Price}
	if p.ImageURL != nil {
		item.ImageURL = *p.ImageURL
	}
	if store.AddItem(item, req.Quantity, addons...) == uuid.Nil {
		writeError(w, errQuantityTooLarge)
		return
	}
	writeJSON(w, http.StatusCreated, store.Snapshot())
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.line(w, r)
	if !ok {
		return
	}
	var req updateQuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity > cart.MaxQuantity {
		writeError(w, errQuantityTooLarge)
		return
	}
	store.UpdateQuantity(id, req.Quantity)
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.line(w, r)
	if !ok {
		return
	}
	store.RemoveItem(id)
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (h *CartHandler) ToggleAddon(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.line(w, r)
	if !ok {
		return
	}
	addons, ok := h.addons(w, r, []string{chi.URLParam(r, "addonId")})
	if !ok {
		return
	}
	store.ToggleAddon(id, addons[0])
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (h *CartHandler) SetAddons(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.line(w, r)
	if !ok {
		return
	}
	var req setAddonsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addons, ok := h.addons(w, r, req.AddonIDs)
	if !ok {
		return
	}
	store.SetAddons(id, addons)
	writeJSON(w, http.StatusOK, store.Snapshot())
}

// --- Helpers ---

func (h *CartHandler) cart(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	return h.carts.Get(r.Context(), userID), true
}

// line resolves the cart and the {id} line item, writing a 404 for an
// unknown line.
func (h *CartHandler) line(w http.ResponseWriter, r *http.Request) (*cart.Store, uuid.UUID, bool) {
	store, ok := h.cart(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return nil, uuid.Nil, false
	}
	if _, found := store.Get(id); !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cart item not found"})
		return nil, uuid.Nil, false
	}
	return store, id, true
}

// addons resolves add-on ids to catalog add-ons. Every id must exist.
func (h *CartHandler) addons(w http.ResponseWriter, r *http.Request, raw []string) ([]cart.Addon, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	ids, err := parseUUIDs(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid addon id", "field": "addon_ids"})
		return nil, false
	}

	found, err := h.catalog.GetAddons(r.Context(), ids)
	if err != nil {
		log.Printf("ERROR: get addons: %v", err)
		writeError(w, apperr.Remote("get addons", err))
		return nil, false
	}
	byID := make(map[uuid.UUID]backend.Addon, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}

	out := make([]cart.Addon, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown addon " + id.String(), "field": "addon_ids"})
			return nil, false
		}
		out = append(out, cart.Addon{ID: a.ID, Name: a.Name, Price: a.Price})
	}
	return out, true
}
