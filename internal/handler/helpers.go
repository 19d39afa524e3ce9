package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/apperr"
	"github.com/pizzeria-app/storefront/internal/catalog"
	"github.com/pizzeria-app/storefront/internal/checkout"
	"github.com/pizzeria-app/storefront/internal/middleware"
	"github.com/pizzeria-app/storefront/internal/orders"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// writeError maps the storefront error categories to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve *apperr.ValidationError
		se *apperr.StockConflictError
		ce *apperr.ConcurrencyConflictError
		ae *apperr.AuthorizationError
		re *apperr.RemoteWriteError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Message, "field": ve.Field})
	case errors.As(err, &se):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "insufficient stock",
			"conflicts": se.Conflicts,
		})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "stock changed, please review your order"})
	case errors.As(err, &ae):
		status := http.StatusForbidden
		if ae.Redirect == "/login" {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]string{"error": ae.Reason, "redirect": ae.Redirect})
	case errors.Is(err, checkout.ErrCheckoutInProgress), errors.Is(err, orders.ErrUpdateInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, catalog.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &re):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "backend request failed"})
	default:
		log.Printf("ERROR: unhandled error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// requireUser returns the signed-in user id or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, apperr.Unauthenticated())
		return uuid.Nil, false
	}
	return claims.UserID, true
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
