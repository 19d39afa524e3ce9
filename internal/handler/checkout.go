package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/checkout"
)

// CheckoutService turns a cart into an order. Satisfied by *checkout.Service.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request, c checkout.Cart) (*checkout.Result, error)
}

// CheckoutHandler places orders from the signed-in user's cart.
type CheckoutHandler struct {
	service CheckoutService
	carts   CartProvider
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(service CheckoutService, carts CartProvider) *CheckoutHandler {
	return &CheckoutHandler{service: service, carts: carts}
}

// RegisterRoutes registers the checkout endpoint.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout", h.Checkout)
}

type checkoutRequest struct {
	DeliveryAddress string `json:"delivery_address"`
}

type checkoutItemResponse struct {
	backend.OrderItem
	Addons []backend.OrderItemAddon `json:"addons"`
}

type checkoutResponse struct {
	Order    backend.Order          `json:"order"`
	Items    []checkoutItemResponse `json:"items"`
	Redirect string                 `json:"redirect"`
}

// Checkout validates stock and writes the order. Stock conflicts answer 409
// with the per-product shortfall so the client can fix the cart.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	store := h.carts.Get(r.Context(), userID)
	res, err := h.service.Checkout(r.Context(), checkout.Request{
		UserID:  userID,
		Address: req.DeliveryAddress,
	}, store)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := checkoutResponse{
		Order:    res.Order,
		Items:    make([]checkoutItemResponse, len(res.Items)),
		Redirect: res.Redirect,
	}
	for i, it := range res.Items {
		addons := it.Addons
		if addons == nil {
			addons = []backend.OrderItemAddon{}
		}
		resp.Items[i] = checkoutItemResponse{OrderItem: it.Item, Addons: addons}
	}
	writeJSON(w, http.StatusCreated, resp)
}
