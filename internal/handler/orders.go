package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/enum"
	"github.com/pizzeria-app/storefront/internal/orders"
)

// OrderHistoryStore defines the queries behind a customer's order history.
// Satisfied by *backend.Client; narrow interface for testability.
type OrderHistoryStore interface {
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]backend.Order, error)
	ListOrderItemDetails(ctx context.Context, orderIDs []uuid.UUID) ([]backend.OrderItemDetail, error)
}

// OrderBoard is the live order list of the staff panels.
// Satisfied by *orders.Board.
type OrderBoard interface {
	List(filter string) []backend.Order
	Details(ctx context.Context, id uuid.UUID) ([]backend.OrderItemDetail, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) (orders.Mutation, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// OrderHandler serves order history and the driver and admin panels.
type OrderHandler struct {
	history OrderHistoryStore
	board   OrderBoard
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(history OrderHistoryStore, board OrderBoard) *OrderHandler {
	return &OrderHandler{history: history, board: board}
}

// RegisterRoutes registers the customer order history endpoint.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders", h.History)
}

// RegisterDriverRoutes registers the driver panel. Admins use it too.
func (h *OrderHandler) RegisterDriverRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{id}/items", h.Items)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
}

// RegisterAdminRoutes registers the admin order endpoints.
func (h *OrderHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{id}/items", h.Items)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
	r.Delete("/orders/{id}", h.Delete)
}

// --- Request / Response types ---

type historyOrderResponse struct {
	backend.Order
	Items []backend.OrderItemDetail `json:"items"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// --- Handlers ---

// History returns the caller's orders newest first, each with its items.
func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.history.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR: list orders for %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]historyOrderResponse, len(list))
	if len(list) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ids := make([]uuid.UUID, len(list))
	for i, o := range list {
		ids[i] = o.ID
	}
	details, err := h.history.ListOrderItemDetails(r.Context(), ids)
	if err != nil {
		log.Printf("ERROR: list order items for %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	byOrder := make(map[uuid.UUID][]backend.OrderItemDetail, len(list))
	for _, d := range details {
		byOrder[d.OrderID] = append(byOrder[d.OrderID], d)
	}

	for i, o := range list {
		items := byOrder[o.ID]
		if items == nil {
			items = []backend.OrderItemDetail{}
		}
		resp[i] = historyOrderResponse{Order: o, Items: items}
	}
	writeJSON(w, http.StatusOK, resp)
}

// List returns the board filtered by ?filter=. Unknown filters return all.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = enum.FilterAll
	}
	writeJSON(w, http.StatusOK, h.board.List(filter))
}

func (h *OrderHandler) Items(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.board.Details(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// UpdateStatus applies a status change and reports how it ended.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m, err := h.board.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.board.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
