package enum

// ── Order lifecycle (CHECK constrained in DB) ──

const (
	OrderStatusPending        = "pending"
	OrderStatusNew            = "new"
	OrderStatusAccepted       = "accepted"
	OrderStatusPreparing      = "preparing"
	OrderStatusInTransit      = "in_transit"
	OrderStatusOutForDelivery = "out_for_delivery"
	OrderStatusDelivered      = "delivered"
	OrderStatusCompleted      = "completed"
	OrderStatusCancelled      = "cancelled"
)

// IsOrderStatus reports whether s is a recognized order status.
func IsOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusNew, OrderStatusAccepted,
		OrderStatusPreparing, OrderStatusInTransit, OrderStatusOutForDelivery,
		OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// ── Profile roles (CHECK constrained in DB) ──

const (
	RoleCustomer = "customer"
	RoleDriver   = "driver"
	RoleAdmin    = "admin"
)

// IsRole reports whether s is a recognized profile role.
func IsRole(s string) bool {
	switch s {
	case RoleCustomer, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// ── Driver panel filters ──

const (
	FilterAll       = "all"
	FilterNew       = "new"
	FilterAccepted  = "accepted"
	FilterInTransit = "in_transit"
	FilterDelivered = "delivered"
)

// FilterStatuses maps a driver panel filter to the statuses it shows.
// FilterAll (and any unknown filter) maps to nil, meaning no restriction.
var FilterStatuses = map[string][]string{
	FilterNew:       {OrderStatusPending, OrderStatusNew},
	FilterAccepted:  {OrderStatusAccepted},
	FilterInTransit: {OrderStatusInTransit},
	FilterDelivered: {OrderStatusDelivered},
}

// ── Realtime change feed ──

const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

const TopicOrders = "orders"
