package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/cart"
	"github.com/pizzeria-app/storefront/internal/catalog"
	"github.com/pizzeria-app/storefront/internal/checkout"
	"github.com/pizzeria-app/storefront/internal/config"
	"github.com/pizzeria-app/storefront/internal/enum"
	"github.com/pizzeria-app/storefront/internal/handler"
	mw "github.com/pizzeria-app/storefront/internal/middleware"
	"github.com/pizzeria-app/storefront/internal/orders"
	"github.com/pizzeria-app/storefront/internal/realtime"
)

// Deps are the long-lived services the routes are built on.
type Deps struct {
	DB       *backend.Client
	Carts    *cart.Registry
	Checkout *checkout.Service
	Board    *orders.Board
	Hub      *realtime.Hub
}

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(cfg *config.Config, deps Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/orders", func(w http.ResponseWriter, r *http.Request) {
		realtime.ServeWS(deps.Hub, cfg.JWTSecret, w, r)
	})

	authHandler := handler.NewAuthHandler(deps.DB, deps.Carts, cfg.JWTSecret)
	productHandler := handler.NewProductHandler(deps.DB, catalog.NewService(deps.DB, cfg.RemoteTimeout))
	cartHandler := handler.NewCartHandler(deps.Carts, deps.DB)
	checkoutHandler := handler.NewCheckoutHandler(deps.Checkout, deps.Carts)
	orderHandler := handler.NewOrderHandler(deps.DB, deps.Board)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RemoteTimeout))
		authHandler.RegisterRoutes(r)
		productHandler.RegisterRoutes(r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))
		r.Use(middleware.Timeout(cfg.RemoteTimeout))

		r.Post("/auth/logout", authHandler.Logout)
		cartHandler.RegisterRoutes(r)
		checkoutHandler.RegisterRoutes(r)
		orderHandler.RegisterRoutes(r)

		r.Route("/driver", func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleDriver, enum.RoleAdmin))
			orderHandler.RegisterDriverRoutes(r)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleAdmin))
			orderHandler.RegisterAdminRoutes(r)
			productHandler.RegisterAdminRoutes(r)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
