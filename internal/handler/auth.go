package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/auth"
	"github.com/pizzeria-app/storefront/internal/backend"
	"github.com/pizzeria-app/storefront/internal/enum"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// AuthStore defines the database methods needed by auth handlers.
// Satisfied by *backend.Client; narrow interface for testability.
type AuthStore interface {
	CreateProfile(ctx context.Context, arg backend.CreateProfileParams) (backend.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (backend.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (backend.Profile, error)
}

// CartResetter drops a user's cart on sign-out. Satisfied by *cart.Registry.
type CartResetter interface {
	Reset(ctx context.Context, userID uuid.UUID) error
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store     AuthStore
	carts     CartResetter
	jwtSecret string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(store AuthStore, carts CartResetter, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: store, carts: carts, jwtSecret: jwtSecret}
}

// RegisterRoutes registers the public auth endpoints on the given Chi router.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/signup", h.Signup)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
}

// --- Request / Response types ---

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

// --- Handlers ---

// Signup creates a customer profile and signs it in. Staff roles are only
// assigned through the seed command.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "a valid email is required", "field": "email"})
		return
	}
	if len(req.Password) < minPasswordLength {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 6 characters", "field": "password"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("ERROR: hash password: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	profile, err := h.store.CreateProfile(r.Context(), backend.CreateProfileParams{
		Email:          email,
		FullName:       strings.TrimSpace(req.FullName),
		Role:           enum.RoleCustomer,
		HashedPassword: string(hashed),
	})
	if err != nil {
		if errors.Is(err, backend.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered", "field": "email"})
			return
		}
		log.Printf("ERROR: create profile: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.respondWithTokens(w, http.StatusCreated, profile)
}

// Login handles email + password authentication.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	profile, err := h.store.GetProfileByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		log.Printf("ERROR: get profile by email: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(profile.HashedPassword), []byte(req.Password)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	h.respondWithTokens(w, http.StatusOK, profile)
}

// Refresh exchanges a valid refresh token for a new access + refresh token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "refresh_token is required"})
		return
	}

	userID, err := auth.ValidateRefreshToken(h.jwtSecret, req.RefreshToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}

	profile, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
			return
		}
		log.Printf("ERROR: get profile: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.respondWithTokens(w, http.StatusOK, profile)
}

// Logout drops the caller's cart. Tokens are stateless and simply discarded
// by the client.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.carts.Reset(r.Context(), userID); err != nil {
		log.Printf("ERROR: reset cart for %s: %v", userID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (h *AuthHandler) respondWithTokens(w http.ResponseWriter, status int, p backend.Profile) {
	accessToken, err := auth.GenerateToken(h.jwtSecret, p.ID, p.Role)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	refreshToken, err := auth.GenerateRefreshToken(h.jwtSecret, p.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, status, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User: userResponse{
			ID:       p.ID,
			FullName: p.FullName,
			Email:    p.Email,
			Role:     p.Role,
		},
	})
}
