package backend

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const productColumns = `id, name, description, price, image_url, stock, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price pgtype.Numeric
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.ImageURL, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, mapError(err)
	}
	p.Price = numericToDecimal(price)
	return p, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := c.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Client) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(c.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// FetchStock returns the current stock of each requested product. Ids with no
// matching product are absent from the map.
func (c *Client) FetchStock(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int32, error) {
	stock := make(map[uuid.UUID]int32, len(ids))
	if len(ids) == 0 {
		return stock, nil
	}
	rows, err := c.db.Query(ctx, `SELECT id, stock FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id uuid.UUID
			n  int32
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		stock[id] = n
	}
	return stock, rows.Err()
}

func (c *Client) CreateProduct(ctx context.Context, arg ProductParams) (Product, error) {
	const q = `
		INSERT INTO products (name, description, price, image_url, stock)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + productColumns
	return scanProduct(c.db.QueryRow(ctx, q, arg.Name, arg.Description, decimalToNumeric(arg.Price), arg.ImageURL, arg.Stock))
}

func (c *Client) UpdateProduct(ctx context.Context, id uuid.UUID, arg ProductParams) (Product, error) {
	const q = `
		UPDATE products
		SET name = $2, description = $3, price = $4, image_url = $5, stock = $6, updated_at = now()
		WHERE id = $1
		RETURNING ` + productColumns
	return scanProduct(c.db.QueryRow(ctx, q, id, arg.Name, arg.Description, decimalToNumeric(arg.Price), arg.ImageURL, arg.Stock))
}

// UpdateProductStock overwrites the stock count. A negative value is refused
// with ErrInsufficientStock.
func (c *Client) UpdateProductStock(ctx context.Context, id uuid.UUID, stock int32) (Product, error) {
	const q = `
		UPDATE products SET stock = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + productColumns
	return scanProduct(c.db.QueryRow(ctx, q, id, stock))
}

// DecrementStock atomically takes qty units from a product and returns what
// is left. It fails with ErrInsufficientStock when fewer than qty remain.
func (c *Client) DecrementStock(ctx context.Context, id uuid.UUID, qty int32) (int32, error) {
	var remaining int32
	err := c.db.QueryRow(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 RETURNING stock`,
		id, qty,
	).Scan(&remaining)
	if err != nil {
		return 0, mapError(err)
	}
	return remaining, nil
}

// DeleteProduct removes a product. Products referenced by order items fail
// with ErrReferenced.
func (c *Client) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := c.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) ListAddons(ctx context.Context) ([]Addon, error) {
	return c.queryAddons(ctx, `SELECT id, name, price FROM addons ORDER BY name`)
}

// GetAddons returns the add-ons with the given ids, ignoring unknown ids.
func (c *Client) GetAddons(ctx context.Context, ids []uuid.UUID) ([]Addon, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.queryAddons(ctx, `SELECT id, name, price FROM addons WHERE id = ANY($1) ORDER BY name`, ids)
}

func (c *Client) queryAddons(ctx context.Context, sql string, args ...any) ([]Addon, error) {
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Addon
	for rows.Next() {
		var (
			a     Addon
			price pgtype.Numeric
		)
		if err := rows.Scan(&a.ID, &a.Name, &price); err != nil {
			return nil, err
		}
		a.Price = numericToDecimal(price)
		out = append(out, a)
	}
	return out, rows.Err()
}
