package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/catalog"
	"github.com/shopspring/decimal"
)

// ProductStore defines the read-only catalog queries.
// Satisfied by *backend.Client; narrow interface for testability.
type ProductStore interface {
	ListProducts(ctx context.Context) ([]backend.Product, error)
	ListAddons(ctx context.Context) ([]backend.Addon, error)
}

// ProductAdmin applies catalog edits. Satisfied by *catalog.Service.
type ProductAdmin interface {
	Create(ctx context.Context, in catalog.ProductInput) (backend.Product, error)
	Update(ctx context.Context, id uuid.UUID, in catalog.ProductInput) (backend.Product, error)
	SetStock(ctx context.Context, id uuid.UUID, stock int32) (backend.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ProductHandler serves the menu and the admin catalog editor.
type ProductHandler struct {
	store ProductStore
	admin ProductAdmin
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(store ProductStore, admin ProductAdmin) *ProductHandler {
	return &ProductHandler{store: store, admin: admin}
}

// RegisterRoutes registers the public menu endpoints.
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Get("/products", h.List)
	r.Get("/addons", h.ListAddons)
}

// RegisterAdminRoutes registers the catalog editor endpoints. The caller is
// responsible for restricting them to admins.
func (h *ProductHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/products", h.Create)
	r.Put("/products/{id}", h.Update)
	r.Patch("/products/{id}/stock", h.SetStock)
	r.Delete("/products/{id}", h.Delete)
}

// --- Request types ---

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	ImageURL    string `json:"image_url"`
	Stock       int32  `json:"stock"`
}

type stockRequest struct {
	Stock *int32 `json:"stock"`
}

func (req productRequest) input(w http.ResponseWriter) (catalog.ProductInput, bool) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "price must be a decimal number", "field": "price"})
		return catalog.ProductInput{}, false
	}
	return catalog.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       price,
		ImageURL:    req.ImageURL,
		Stock:       req.Stock,
	}, true
}

// --- Handlers ---

// List returns every product ordered by name.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context())
	if err != nil {
		log.Printf("ERROR: list products: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if products == nil {
		products = []backend.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// ListAddons returns every add-on.
func (h *ProductHandler) ListAddons(w http.ResponseWriter, r *http.Request) {
	addons, err := h.store.ListAddons(r.Context())
	if err != nil {
		log.Printf("ERROR: list addons: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if addons == nil {
		addons = []backend.Addon{}
	}
	writeJSON(w, http.StatusOK, addons)
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, ok := req.input(w)
	if !ok {
		return
	}

	p, err := h.admin.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req productRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, ok := req.input(w)
	if !ok {
		return
	}

	p, err := h.admin.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetStock overwrites the stock counter of a product.
func (h *ProductHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req stockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Stock == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "stock is required", "field": "stock"})
		return
	}

	p, err := h.admin.SetStock(r.Context(), id, *req.Stock)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.admin.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
