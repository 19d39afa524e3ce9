package backend

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, user_id, total_price, delivery_address, delivery_time, status, checkout_key, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o     Order
		total pgtype.Numeric
	)
	err := row.Scan(&o.ID, &o.UserID, &total, &o.DeliveryAddress, &o.DeliveryTime, &o.Status, &o.CheckoutKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, mapError(err)
	}
	o.TotalPrice = numericToDecimal(total)
	return o, nil
}

func (c *Client) queryOrders(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOrder inserts an order. When arg.CheckoutKey is set and an order with
// that key already exists, the existing order is returned instead.
func (c *Client) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	const q = `
		INSERT INTO orders (user_id, total_price, delivery_address, delivery_time, checkout_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (checkout_key) DO UPDATE SET checkout_key = EXCLUDED.checkout_key
		RETURNING ` + orderColumns
	return scanOrder(c.db.QueryRow(ctx, q,
		arg.UserID, decimalToNumeric(arg.TotalPrice), arg.DeliveryAddress, arg.DeliveryTime, arg.CheckoutKey,
	))
}

func (c *Client) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	const q = `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, stock_reserved)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, order_id, product_id, quantity, unit_price, stock_reserved`
	var (
		it    OrderItem
		price pgtype.Numeric
	)
	err := c.db.QueryRow(ctx, q, arg.OrderID, arg.ProductID, arg.Quantity, decimalToNumeric(arg.UnitPrice), arg.StockReserved).
		Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price, &it.StockReserved)
	if err != nil {
		return OrderItem{}, mapError(err)
	}
	it.UnitPrice = numericToDecimal(price)
	return it, nil
}

// CreateOrderItemAddons writes all add-on associations in one statement.
// Associations that already exist are skipped.
func (c *Client) CreateOrderItemAddons(ctx context.Context, args []CreateOrderItemAddonParams) ([]OrderItemAddon, error) {
	if len(args) == 0 {
		return nil, nil
	}
	itemIDs := make([]uuid.UUID, len(args))
	addonIDs := make([]uuid.UUID, len(args))
	for i, a := range args {
		itemIDs[i] = a.OrderItemID
		addonIDs[i] = a.AddonID
	}

	const q = `
		INSERT INTO order_item_addons (order_item_id, addon_id)
		SELECT * FROM unnest($1::uuid[], $2::uuid[])
		ON CONFLICT (order_item_id, addon_id) DO NOTHING
		RETURNING id, order_item_id, addon_id`
	rows, err := c.db.Query(ctx, q, itemIDs, addonIDs)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []OrderItemAddon
	for rows.Next() {
		var a OrderItemAddon
		if err := rows.Scan(&a.ID, &a.OrderItemID, &a.AddonID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

// UpdateOrderStatus moves an order to status through set_order_status, which
// applies the completion stock rules. A stock shortfall fails with
// ErrInsufficientStock and leaves the order unchanged.
func (c *Client) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status string) (Order, error) {
	return scanOrder(c.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM set_order_status($1, $2)`, id, status))
}

func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(c.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// ListOrdersByUser returns the orders of one user, newest first.
func (c *Client) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return c.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListOrders returns orders in any of the given statuses, newest first. An
// empty list means every status.
func (c *Client) ListOrders(ctx context.Context, statuses []string) ([]Order, error) {
	if statuses == nil {
		statuses = []string{}
	}
	return c.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		ORDER BY created_at DESC`, statuses)
}

func (c *Client) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	tag, err := c.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrderItemDetails returns the items of the given orders with product
// names and selected add-ons.
func (c *Client) ListOrderItemDetails(ctx context.Context, orderIDs []uuid.UUID) ([]OrderItemDetail, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	rows, err := c.db.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.id`, orderIDs)
	if err != nil {
		return nil, err
	}
	var (
		out   []OrderItemDetail
		index = make(map[uuid.UUID]int)
	)
	for rows.Next() {
		var (
			d     OrderItemDetail
			price pgtype.Numeric
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &d.ProductID, &d.ProductName, &d.Quantity, &price); err != nil {
			rows.Close()
			return nil, err
		}
		d.UnitPrice = numericToDecimal(price)
		d.Addons = []Addon{}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	rows, err = c.db.Query(ctx, `
		SELECT oia.order_item_id, a.id, a.name, a.price
		FROM order_item_addons oia
		JOIN order_items oi ON oi.id = oia.order_item_id
		JOIN addons a ON a.id = oia.addon_id
		WHERE oi.order_id = ANY($1)
		ORDER BY a.name`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			itemID uuid.UUID
			a      Addon
			price  pgtype.Numeric
		)
		if err := rows.Scan(&itemID, &a.ID, &a.Name, &price); err != nil {
			return nil, err
		}
		a.Price = numericToDecimal(price)
		if i, ok := index[itemID]; ok {
			out[i].Addons = append(out[i].Addons, a)
		}
	}
	return out, rows.Err()
}
