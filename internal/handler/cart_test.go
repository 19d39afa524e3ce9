package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pizzeria-app/storefront/internal/cart"
	"github.com/pizzeria-app/storefront/internal/enum"
	"github.com/pizzeria-app/storefront/internal/handler"
	"github.com/shopspring/decimal"
)

// --- Helpers ---

type cartFixture struct {
	router  http.Handler
	carts   *cart.Registry
	catalog *mockCatalog
	userID  uuid.UUID
	token   string
}

func setupCart(t *testing.T) *cartFixture {
	t.Helper()
	f := &cartFixture{
		carts:   cart.NewRegistry(nil, time.Second),
		catalog: newMockCatalog(),
		userID:  uuid.New(),
	}
	f.token = tokenFor(t, f.userID, enum.RoleCustomer)
	f.router = authed(handler.NewCartHandler(f.carts, f.catalog).RegisterRoutes)
	return f
}

func (f *cartFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, f.router, method, path, f.token, body)
}

func decodeSnapshot(t *testing.T, rr *httptest.ResponseRecorder) cart.Snapshot {
	t.Helper()
	var snap cart.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

// --- Tests ---

func TestCart_RequiresSignIn(t *testing.T) {
	f := setupCart(t)

	rr := doJSON(t, f.router, http.MethodGet, "/cart", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCart_GetEmpty(t *testing.T) {
	f := setupCart(t)

	rr := f.do(t, http.MethodGet, "/cart", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	snap := decodeSnapshot(t, rr)
	if snap.TotalItems != 0 || !snap.TotalPrice.IsZero() {
		t.Errorf("got %+v", snap)
	}
}

func TestCart_AddItemUsesCatalogPrices(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)
	cheese := f.catalog.addAddon("Extra cheese", "1.50")

	rr := f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{
		"product_id": p.ID.String(),
		"quantity":   2,
		"addon_ids":  []string{cheese.ID.String()},
		"price":      "0.01",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	snap := decodeSnapshot(t, rr)
	if len(snap.Items) != 1 || snap.TotalItems != 2 {
		t.Fatalf("got %+v", snap)
	}
	if want := decimal.RequireFromString("23"); !snap.TotalPrice.Equal(want) {
		t.Errorf("total: got %s, want %s", snap.TotalPrice, want)
	}
}

func TestCart_AddSameCombinationMerges(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)

	f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String(), "quantity": 1})
	rr := f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()})

	snap := decodeSnapshot(t, rr)
	if len(snap.Items) != 1 || snap.Items[0].Quantity != 2 {
		t.Errorf("got %+v", snap.Items)
	}
}

func TestCart_AddItemValidation(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)

	tests := []struct {
		name string
		body map[string]interface{}
		code int
	}{
		{"bad product id", map[string]interface{}{"product_id": "nope"}, http.StatusBadRequest},
		{"unknown product", map[string]interface{}{"product_id": uuid.New().String()}, http.StatusNotFound},
		{"negative quantity", map[string]interface{}{"product_id": p.ID.String(), "quantity": -1}, http.StatusBadRequest},
		{"quantity above maximum", map[string]interface{}{"product_id": p.ID.String(), "quantity": cart.MaxQuantity + 1}, http.StatusBadRequest},
		{"unknown addon", map[string]interface{}{"product_id": p.ID.String(), "addon_ids": []string{uuid.New().String()}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/cart/items", tt.body)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
		})
	}

	if n := f.carts.Get(t.Context(), f.userID).Len(); n != 0 {
		t.Errorf("cart has %d lines after rejected adds", n)
	}
}

func TestCart_QuantityCannotPassMaximum(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)

	rr := f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String(), "quantity": cart.MaxQuantity})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	lineID := decodeSnapshot(t, rr).Items[0].ID.String()

	rr = f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String(), "quantity": 2})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("second add: expected 400, got %d", rr.Code)
	}
	if body := decodeResponse(t, rr); body["field"] != "quantity" {
		t.Errorf("field: got %q, want quantity", body["field"])
	}

	rr = f.do(t, http.MethodPatch, "/cart/items/"+lineID, map[string]int{"quantity": cart.MaxQuantity + 1})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("update: expected 400, got %d", rr.Code)
	}

	snap := decodeSnapshot(t, f.do(t, http.MethodGet, "/cart", nil))
	if len(snap.Items) != 1 || snap.Items[0].Quantity != cart.MaxQuantity {
		t.Errorf("got %+v", snap.Items)
	}
	if snap.TotalPrice.IsNegative() {
		t.Errorf("total price must stay positive, got %s", snap.TotalPrice)
	}
}

func TestCart_CatalogFailureIsBadGateway(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)
	snap := decodeSnapshot(t, f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()}))
	f.catalog.failWith = errors.New("connection refused")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"add item", http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()}},
		{"set addons", http.MethodPut, "/cart/items/" + snap.Items[0].ID.String() + "/addons", map[string]interface{}{"addon_ids": []string{uuid.New().String()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, tt.method, tt.path, tt.body)
			if rr.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCart_UpdateAndRemove(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)
	snap := decodeSnapshot(t, f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()}))
	lineID := snap.Items[0].ID.String()

	snap = decodeSnapshot(t, f.do(t, http.MethodPatch, "/cart/items/"+lineID, map[string]int{"quantity": 4}))
	if snap.TotalItems != 4 {
		t.Errorf("after update: got %d items", snap.TotalItems)
	}

	snap = decodeSnapshot(t, f.do(t, http.MethodDelete, "/cart/items/"+lineID, nil))
	if len(snap.Items) != 0 {
		t.Errorf("after remove: got %+v", snap.Items)
	}

	rr := f.do(t, http.MethodDelete, "/cart/items/"+lineID, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("removed line: expected 404, got %d", rr.Code)
	}
}

func TestCart_UpdateQuantityZeroRemoves(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)
	snap := decodeSnapshot(t, f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()}))

	snap = decodeSnapshot(t, f.do(t, http.MethodPatch, "/cart/items/"+snap.Items[0].ID.String(), map[string]int{"quantity": 0}))
	if len(snap.Items) != 0 {
		t.Errorf("got %+v", snap.Items)
	}
}

func TestCart_ToggleAddonMergesLines(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)
	cheese := f.catalog.addAddon("Extra cheese", "1.50")

	f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{
		"product_id": p.ID.String(),
		"addon_ids":  []string{cheese.ID.String()},
	})
	snap := decodeSnapshot(t, f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()}))
	if len(snap.Items) != 2 {
		t.Fatalf("setup: got %d lines", len(snap.Items))
	}

	var plain uuid.UUID
	for _, it := range snap.Items {
		if len(it.Addons) == 0 {
			plain = it.ID
		}
	}
	rr := f.do(t, http.MethodPost, "/cart/items/"+plain.String()+"/addons/"+cheese.ID.String(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	snap = decodeSnapshot(t, rr)
	if len(snap.Items) != 1 || snap.Items[0].Quantity != 2 {
		t.Errorf("lines did not merge: %+v", snap.Items)
	}
}

func TestCart_SetAddons(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)
	cheese := f.catalog.addAddon("Extra cheese", "1.50")
	basil := f.catalog.addAddon("Basil", "0.50")
	snap := decodeSnapshot(t, f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()}))

	snap = decodeSnapshot(t, f.do(t, http.MethodPut, "/cart/items/"+snap.Items[0].ID.String()+"/addons", map[string]interface{}{
		"addon_ids": []string{cheese.ID.String(), basil.ID.String()},
	}))
	if want := decimal.RequireFromString("12"); !snap.TotalPrice.Equal(want) {
		t.Errorf("total: got %s, want %s", snap.TotalPrice, want)
	}
}

func TestCart_Clear(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)
	f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()})

	snap := decodeSnapshot(t, f.do(t, http.MethodDelete, "/cart", nil))
	if len(snap.Items) != 0 {
		t.Errorf("got %+v", snap.Items)
	}
}

func TestCart_IsolatedPerUser(t *testing.T) {
	f := setupCart(t)
	p := f.catalog.addProduct("Margherita", "10.00", 10)
	f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": p.ID.String()})

	other := tokenFor(t, uuid.New(), enum.RoleCustomer)
	snap := decodeSnapshot(t, doJSON(t, f.router, http.MethodGet, "/cart", other, nil))
	if len(snap.Items) != 0 {
		t.Errorf("other user sees %+v", snap.Items)
	}
}
