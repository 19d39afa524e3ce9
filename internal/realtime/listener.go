package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/enum"
)

// Channel is the notification channel written by the orders trigger.
const Channel = "order_changes"

// Sink receives decoded order events.
type Sink func(backend.OrderEvent)

// Notifier is the part of *pgx.Conn the listener uses.
type Notifier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ConnectFunc opens a dedicated connection for LISTEN.
type ConnectFunc func(ctx context.Context) (Notifier, error)

// PgxConnect returns a ConnectFunc dialing connString with pgx.
func PgxConnect(connString string) ConnectFunc {
	return func(ctx context.Context) (Notifier, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Listener consumes the order change feed and hands each event to its sinks
// in arrival order.
type Listener struct {
	connect   ConnectFunc
	backoff   time.Duration
	sinks     []Sink
	onConnect []func(ctx context.Context) error
}

// NewListener creates a Listener. Sinks are called synchronously, one event
// at a time.
func NewListener(connect ConnectFunc, backoff time.Duration, sinks ...Sink) *Listener {
	return &Listener{connect: connect, backoff: backoff, sinks: sinks}
}

// OnConnect registers fn to run each time the listener starts listening,
// before any notification of that connection is delivered. Changes missed
// while disconnected are not replayed, so fn is where subscribers resync.
// Errors are logged and do not drop the connection. Call before Run.
func (l *Listener) OnConnect(fn func(ctx context.Context) error) {
	l.onConnect = append(l.onConnect, fn)
}

// Run listens until ctx is done, reconnecting after connection failures.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("ERROR: order feed: %v; reconnecting in %s", err, l.backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Printf("Listening on %s", Channel)

	for _, fn := range l.onConnect {
		if err := fn(ctx); err != nil {
			log.Printf("ERROR: order feed resync: %v", err)
		}
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		ev, err := DecodeEvent([]byte(n.Payload))
		if err != nil {
			log.Printf("WARN: skipping order notification: %v", err)
			continue
		}
		for _, sink := range l.sinks {
			sink(ev)
		}
	}
}

// DecodeEvent parses a notification payload.
func DecodeEvent(payload []byte) (backend.OrderEvent, error) {
	var ev backend.OrderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return backend.OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	switch ev.Type {
	case enum.EventInsert, enum.EventUpdate:
		if ev.New == nil {
			return backend.OrderEvent{}, fmt.Errorf("%s event without new row", ev.Type)
		}
	case enum.EventDelete:
		if ev.Old == nil {
			return backend.OrderEvent{}, fmt.Errorf("delete event without old row")
		}
	default:
		return backend.OrderEvent{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// HubSink forwards events to the orders room of hub as "order.<type>".
func HubSink(hub *Hub) Sink {
	return func(ev backend.OrderEvent) {
		if err := hub.Publish(enum.TopicOrders, "order."+ev.Type, ev); err != nil {
			log.Printf("ERROR: publish order event: %v", err)
		}
	}
}
