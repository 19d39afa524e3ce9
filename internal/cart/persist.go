package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Persister stores carts between sessions.
type Persister interface {
	// Load returns the stored line items of a user, or nil when nothing is
	// stored.
	Load(ctx context.Context, userID uuid.UUID) ([]LineItem, error)
	Save(ctx context.Context, userID uuid.UUID, snap Snapshot) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// NopPersister keeps nothing.
type NopPersister struct{}

func (NopPersister) Load(context.Context, uuid.UUID) ([]LineItem, error) { return nil, nil }
func (NopPersister) Save(context.Context, uuid.UUID, Snapshot) error     { return nil }
func (NopPersister) Delete(context.Context, uuid.UUID) error             { return nil }

const recordVersion = 2

// record is the stored document. The totals are informational only: older
// versions stored running totals that drifted from the items, so Load never
// reads them back.
type record struct {
	Version    int             `json:"version"`
	Items      []LineItem      `json:"items"`
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	SavedAt    time.Time       `json:"saved_at"`
}

// RedisOption configures a RedisPersister.
type RedisOption func(*RedisPersister)

// WithKeyPrefix sets the key prefix (default "cart").
func WithKeyPrefix(prefix string) RedisOption {
	return func(p *RedisPersister) { p.keyPrefix = prefix }
}

// WithTTL sets how long an untouched cart survives (default 7 days).
func WithTTL(ttl time.Duration) RedisOption {
	return func(p *RedisPersister) { p.ttl = ttl }
}

// RedisPersister stores one JSON document per user.
type RedisPersister struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisPersister creates a RedisPersister on an existing client.
func NewRedisPersister(client *redis.Client, opts ...RedisOption) *RedisPersister {
	p := &RedisPersister{
		client:    client,
		keyPrefix: "cart",
		ttl:       7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisPersister) key(userID uuid.UUID) string {
	return p.keyPrefix + ":" + userID.String()
}

func (p *RedisPersister) Load(ctx context.Context, userID uuid.UUID) ([]LineItem, error) {
	data, err := p.client.Get(ctx, p.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return rec.Items, nil
}

func (p *RedisPersister) Save(ctx context.Context, userID uuid.UUID, snap Snapshot) error {
	if len(snap.Items) == 0 {
		return p.Delete(ctx, userID)
	}

	data, err := json.Marshal(record{
		Version:    recordVersion,
		Items:      snap.Items,
		TotalItems: snap.TotalItems,
		TotalPrice: snap.TotalPrice,
		SavedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := p.client.Set(ctx, p.key(userID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (p *RedisPersister) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := p.client.Del(ctx, p.key(userID)).Err(); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
