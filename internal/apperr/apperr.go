// Package apperr defines the user-facing error categories of the storefront.
//
// Remote failures are converted into one of these types at the call site so
// the HTTP layer can map them to a status code without inspecting driver
// errors.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidationError is a local precondition failure. No remote call was made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid is shorthand for a ValidationError on field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StockConflict records one product whose requested quantity exceeds the
// available stock.
type StockConflict struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// StockConflictError blocks checkout until the user adjusts quantities.
type StockConflictError struct {
	Conflicts []StockConflict
}

func (e *StockConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", c.ProductID, c.Requested, c.Available))
	}
	return "insufficient stock (" + strings.Join(parts, "; ") + ")"
}

// RemoteWriteError is a failed backend write. Already completed steps of a
// multi-step sequence are not rolled back.
type RemoteWriteError struct {
	Op  string
	Err error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// ConcurrencyConflictError means the backend rejected a write because the
// authoritative stock changed underneath us (a concurrent buyer or a
// completion/restock transition).
type ConcurrencyConflictError struct {
	Op  string
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// AuthorizationError is resolved by sending the caller to Redirect
// ("/login" when unauthenticated, "/" when the role is wrong).
type AuthorizationError struct {
	Redirect string
	Reason   string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}

// Unauthenticated returns the error for a missing identity.
func Unauthenticated() *AuthorizationError {
	return &AuthorizationError{Redirect: "/login", Reason: "not authenticated"}
}

// Forbidden returns the error for an identity lacking the required role.
func Forbidden() *AuthorizationError {
	return &AuthorizationError{Redirect: "/", Reason: "insufficient permissions"}
}

// Remote wraps err as a RemoteWriteError unless it already carries one of the
// categories above.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		se *StockConflictError
		re *RemoteWriteError
		ce *ConcurrencyConflictError
		ae *AuthorizationError
	)
	if errors.As(err, &ve) || errors.As(err, &se) || errors.As(err, &re) ||
		errors.As(err, &ce) || errors.As(err, &ae) {
		return err
	}
	return &RemoteWriteError{Op: op, Err: err}
}
