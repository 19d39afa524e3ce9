package backend

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Profile struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	Role           string    `json:"role"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

type Product struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    *string         `json:"image_url"`
	Stock       int32           `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Addon struct {
	ID    uuid.UUID       `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Order mirrors the orders table. The JSON tags match the column names so the
// same type decodes rows sent through the change feed.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	DeliveryAddress string          `json:"delivery_address"`
	DeliveryTime    time.Time       `json:"delivery_time"`
	Status          string          `json:"status"`
	CheckoutKey     *uuid.UUID      `json:"checkout_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	ProductID     uuid.UUID       `json:"product_id"`
	Quantity      int32           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StockReserved bool            `json:"stock_reserved"`
}

type OrderItemAddon struct {
	ID          uuid.UUID `json:"id"`
	OrderItemID uuid.UUID `json:"order_item_id"`
	AddonID     uuid.UUID `json:"addon_id"`
}

// OrderItemDetail is an order item joined with its product name and add-ons.
type OrderItemDetail struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Addons      []Addon         `json:"addons"`
}

// OrderEvent is one change notification from the orders feed. New is nil for
// deletes and Old is nil for inserts.
type OrderEvent struct {
	Type string `json:"type"`
	New  *Order `json:"new"`
	Old  *Order `json:"old"`
}

// OrderID returns the id of the affected order.
func (e OrderEvent) OrderID() uuid.UUID {
	if e.New != nil {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return uuid.Nil
}

// --- Params ---

type CreateProfileParams struct {
	Email          string
	FullName       string
	Role           string
	HashedPassword string
}

type ProductParams struct {
	Name        string
	Description string
	Price       decimal.Decimal
	ImageURL    *string
	Stock       int32
}

type CreateOrderParams struct {
	UserID          uuid.UUID
	TotalPrice      decimal.Decimal
	DeliveryAddress string
	DeliveryTime    time.Time
	CheckoutKey     *uuid.UUID
}

type CreateOrderItemParams struct {
	OrderID       uuid.UUID
	ProductID     uuid.UUID
	Quantity      int32
	UnitPrice     decimal.Decimal
	StockReserved bool
}

type CreateOrderItemAddonParams struct {
	OrderItemID uuid.UUID
	AddonID     uuid.UUID
}
