package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/cart"
	"github.com/pizzeria-app/storefront/internal/checkout"
	"github.com/pizzeria-app/storefront/internal/config"
	"github.com/pizzeria-app/storefront/internal/enum"
	"github.com/pizzeria-app/storefront/internal/orders"
	"github.com/pizzeria-app/storefront/internal/realtime"
	"github.com/pizzeria-app/storefront/internal/router"
)

const listenerBackoff = 2 * time.Second

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Carts still work in memory; they just won't survive a restart.
		log.Printf("WARN: redis unavailable, carts will not be persisted: %v", err)
	}

	db := backend.New(pool)
	carts := cart.NewRegistry(cart.NewRedisPersister(rdb, cart.WithTTL(cfg.CartTTL)), cfg.RemoteTimeout)
	checkoutSvc := checkout.NewService(db,
		checkout.WithTimeout(cfg.RemoteTimeout),
		checkout.WithTransitionHook(func(userID uuid.UUID, from, to checkout.State) {
			log.Printf("checkout %s: %s -> %s", userID, from, to)
		}),
	)

	board := orders.NewBoard(db, cfg.RemoteTimeout)
	if err := board.Refresh(ctx); err != nil {
		log.Printf("ERROR: initial order load: %v", err)
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)

	board.Subscribe(func(m orders.Mutation) {
		if err := hub.Publish(enum.TopicOrders, "status."+m.Outcome.String(), m); err != nil {
			log.Printf("ERROR: publish status change: %v", err)
		}
	})

	listener := realtime.NewListener(realtime.PgxConnect(cfg.DatabaseURL), listenerBackoff,
		board.Apply,
		realtime.HubSink(hub),
	)
	listener.OnConnect(board.Refresh)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ERROR: order listener stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Port),
		Handler: router.New(cfg, router.Deps{
			DB:       db,
			Carts:    carts,
			Checkout: checkoutSvc,
			Board:    board,
			Hub:      hub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: shutdown: %v", err)
	}
}
