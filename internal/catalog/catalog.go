// Package catalog implements the admin edits of the product catalog.
package catalog

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/apperr"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned for an unknown product id.
var ErrProductNotFound = errors.New("product not found")

// Store defines the backend calls catalog edits need.
// Satisfied by *backend.Client; narrow interface for testability.
type Store interface {
	CreateProduct(ctx context.Context, arg backend.ProductParams) (backend.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, arg backend.ProductParams) (backend.Product, error)
	UpdateProductStock(ctx context.Context, id uuid.UUID, stock int32) (backend.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
}

// ProductInput is an unvalidated product form.
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	ImageURL    string
	Stock       int32
}

// Service validates and applies catalog edits.
type Service struct {
	store   Store
	timeout time.Duration
}

// NewService creates a Service. timeout bounds each remote call.
func NewService(store Store, timeout time.Duration) *Service {
	return &Service{store: store, timeout: timeout}
}

// Validate checks a product form and returns the cleaned parameters.
func Validate(in ProductInput) (backend.ProductParams, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return backend.ProductParams{}, apperr.Invalid("name", "name is required")
	}
	if in.Price.IsNegative() {
		return backend.ProductParams{}, apperr.Invalid("price", "price must be >= 0")
	}
	if in.Stock < 0 {
		return backend.ProductParams{}, apperr.Invalid("stock", "stock must be >= 0")
	}

	p := backend.ProductParams{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		Stock:       in.Stock,
	}
	if url := strings.TrimSpace(in.ImageURL); url != "" {
		p.ImageURL = &url
	}
	return p, nil
}

func (s *Service) Create(ctx context.Context, in ProductInput) (backend.Product, error) {
	params, err := Validate(in)
	if err != nil {
		return backend.Product{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.store.CreateProduct(ctx, params)
	if err != nil {
		log.Printf("ERROR: create product %q: %v", params.Name, err)
		return backend.Product{}, apperr.Remote("create product", err)
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in ProductInput) (backend.Product, error) {
	params, err := Validate(in)
	if err != nil {
		return backend.Product{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.store.UpdateProduct(ctx, id, params)
	if err != nil {
		return backend.Product{}, s.remoteErr("update product", id, err)
	}
	return p, nil
}

// SetStock overwrites the stock count of a product.
func (s *Service) SetStock(ctx context.Context, id uuid.UUID, stock int32) (backend.Product, error) {
	if stock < 0 {
		return backend.Product{}, apperr.Invalid("stock", "stock must be >= 0")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.store.UpdateProductStock(ctx, id, stock)
	if err != nil {
		return backend.Product{}, s.remoteErr("update stock", id, err)
	}
	return p, nil
}

// Delete removes a product. Products that appear on orders cannot be
// deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.store.DeleteProduct(ctx, id)
	if errors.Is(err, backend.ErrReferenced) {
		return apperr.Invalid("id", "product appears on existing orders")
	}
	if err != nil {
		return s.remoteErr("delete product", id, err)
	}
	return nil
}

func (s *Service) remoteErr(op string, id uuid.UUID, err error) error {
	if errors.Is(err, backend.ErrNotFound) {
		return ErrProductNotFound
	}
	log.Printf("ERROR: %s %s: %v", op, id, err)
	return apperr.Remote(op, err)
}
