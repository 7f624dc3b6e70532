package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"stockroom/internal/auth"
	"stockroom/internal/inventory"
	"stockroom/internal/maintenance"
	"stockroom/internal/observability"
	"stockroom/internal/purchase"
)

type fakeAuthStore struct {
	mu          sync.Mutex
	usersByName map[string]auth.User
	tokensByRaw map[string]string
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		usersByName: make(map[string]auth.User),
		tokensByRaw: make(map[string]string),
	}
}

func (f *fakeAuthStore) CreateUser(ctx context.Context, user auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.usersByName[user.Username]; exists {
		return auth.ErrUsernameTaken
	}
	f.usersByName[user.Username] = user
	return nil
}

func (f *fakeAuthStore) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.usersByName[username]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeAuthStore) GetUserByID(ctx context.Context, id string) (auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.usersByName {
		if user.ID == id {
			return user, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (f *fakeAuthStore) UpsertAdmin(ctx context.Context, user auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.Role = auth.RoleAdmin
	f.usersByName[user.Username] = user
	return nil
}

func (f *fakeAuthStore) CreateRefreshToken(ctx context.Context, userID, rawToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokensByRaw[rawToken] = userID
	return nil
}

func (f *fakeAuthStore) RefreshTokenExists(ctx context.Context, userID, rawToken string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokensByRaw[rawToken] == userID, nil
}

func (f *fakeAuthStore) DeleteRefreshToken(ctx context.Context, rawToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokensByRaw, rawToken)
	return nil
}

// fakeShopStore backs both the inventory handler and the purchase service so
// purchases are visible through the inventory routes.
type fakeShopStore struct {
	mu        sync.Mutex
	items     map[string]inventory.Item
	purchases []purchase.Record
}

func newFakeShopStore() *fakeShopStore {
	return &fakeShopStore{items: make(map[string]inventory.Item)}
}

func (f *fakeShopStore) List(ctx context.Context, limit int) ([]inventory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]inventory.Item, 0, len(f.items))
	for _, item := range f.items {
		if limit > 0 && len(items) == limit {
			break
		}
		items = append(items, item)
	}
	return items, nil
}

func (f *fakeShopStore) Get(ctx context.Context, id string) (inventory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrNotFound
	}
	return item, nil
}

func (f *fakeShopStore) Create(ctx context.Context, item inventory.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.items[item.ID]; exists {
		return inventory.ErrItemExists
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeShopStore) Update(ctx context.Context, id string, in inventory.UpdateInput) (inventory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrNotFound
	}
	item.Name = in.Name
	item.Stock = in.Stock
	if in.Price != nil {
		item.Price = *in.Price
	}
	f.items[id] = item
	return item, nil
}

func (f *fakeShopStore) Delete(ctx context.Context, id string) (inventory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrNotFound
	}
	delete(f.items, id)
	return item, nil
}

func (f *fakeShopStore) CreatePurchase(ctx context.Context, rec purchase.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[rec.ItemID]
	if !ok || item.Stock < rec.Quantity {
		return purchase.ErrStockConflict
	}
	item.Stock -= rec.Quantity
	f.items[rec.ItemID] = item
	f.purchases = append(f.purchases, rec)
	return nil
}

func (f *fakeShopStore) ItemExists(ctx context.Context, itemID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[itemID]
	return ok, nil
}

func (f *fakeShopStore) DeleteExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	return 0, nil
}

func newTestServer(t *testing.T) (*http.ServeMux, *auth.Service, *fakeShopStore) {
	t.Helper()

	logger := observability.NewLogger()
	shop := newFakeShopStore()

	authService := auth.NewService(newFakeAuthStore(), "scenario-secret")
	authHandler := auth.NewHandler(authService)
	itemHandler := inventory.NewHandler(shop)
	purchaseHandler := purchase.NewHandler(purchase.NewService(shop))
	cleanupHandler := maintenance.NewCleanupHandler(shop, logger, "", 500)

	health := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}

	return NewMux(authService, authHandler, itemHandler, purchaseHandler, cleanupHandler, health), authService, shop
}

func request(t *testing.T, mux *http.ServeMux, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		payload = encoded
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPurchaseScenario(t *testing.T) {
	mux, authService, shop := newTestServer(t)

	// Signup and login as a regular user.
	signup := request(t, mux, http.MethodPost, "/signup", "", map[string]string{
		"username": "alice", "password": "pw1",
	})
	if signup.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", signup.Code, signup.Body.String())
	}
	aliceID, _ := decodeBody(t, signup)["id"].(string)

	login := request(t, mux, http.MethodPost, "/login", "", map[string]string{
		"username": "alice", "password": "pw1",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", login.Code)
	}
	loginBody := decodeBody(t, login)
	userToken, _ := loginBody["accessToken"].(string)
	refreshToken, _ := loginBody["refreshToken"].(string)
	if userToken == "" || refreshToken == "" {
		t.Fatal("login did not return both tokens")
	}
	if role := loginBody["role"]; role != auth.RoleUser {
		t.Fatalf("expected role %q, got %v", auth.RoleUser, role)
	}

	// Admin is provisioned out-of-band, never through signup.
	if err := authService.BootstrapAdmin(context.Background(), "root", "rootpw"); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	adminLogin := request(t, mux, http.MethodPost, "/login", "", map[string]string{
		"username": "root", "password": "rootpw",
	})
	if adminLogin.Code != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d", adminLogin.Code)
	}
	adminToken, _ := decodeBody(t, adminLogin)["accessToken"].(string)

	// Inventory requires a token; mutations require the admin role.
	if rec := request(t, mux, http.MethodGet, "/inventory", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list: expected 401, got %d", rec.Code)
	}
	itemBody := map[string]any{"id": "sku-1", "name": "widget", "stock": 5, "price": 2.5}
	if rec := request(t, mux, http.MethodPost, "/inventory", userToken, itemBody); rec.Code != http.StatusForbidden {
		t.Errorf("user create item: expected 403, got %d", rec.Code)
	}
	if rec := request(t, mux, http.MethodPost, "/inventory", adminToken, itemBody); rec.Code != http.StatusCreated {
		t.Fatalf("admin create item: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Purchases are for non-admin principals with a positive quantity.
	if rec := request(t, mux, http.MethodPost, "/inventory/purchase/sku-1", adminToken, map[string]any{"quantity": 1}); rec.Code != http.StatusForbidden {
		t.Errorf("admin purchase: expected 403, got %d", rec.Code)
	}
	if rec := request(t, mux, http.MethodPost, "/inventory/purchase/sku-1", userToken, map[string]any{"quantity": 0}); rec.Code != http.StatusBadRequest {
		t.Errorf("zero quantity: expected 400, got %d", rec.Code)
	}
	if rec := request(t, mux, http.MethodPost, "/inventory/purchase/sku-1", userToken, map[string]any{"quantity": 10}); rec.Code != http.StatusBadRequest {
		t.Errorf("over stock: expected 400, got %d", rec.Code)
	}
	if rec := request(t, mux, http.MethodPost, "/inventory/purchase/ghost", userToken, map[string]any{"quantity": 1}); rec.Code != http.StatusNotFound {
		t.Errorf("missing item: expected 404, got %d", rec.Code)
	}

	buy := request(t, mux, http.MethodPost, "/inventory/purchase/sku-1", userToken, map[string]any{"quantity": 2})
	if buy.Code != http.StatusOK {
		t.Fatalf("purchase: expected 200, got %d: %s", buy.Code, buy.Body.String())
	}

	get := request(t, mux, http.MethodGet, "/inventory/sku-1", userToken, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get item: expected 200, got %d", get.Code)
	}
	var item inventory.Item
	if err := json.Unmarshal(get.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if item.Stock != 3 {
		t.Errorf("expected stock 3 after purchase, got %d", item.Stock)
	}
	if len(shop.purchases) != 1 {
		t.Fatalf("expected one purchase record, got %d", len(shop.purchases))
	}
	if rec := shop.purchases[0]; rec.UserID != aliceID || rec.Quantity != 2 || rec.ItemID != "sku-1" {
		t.Errorf("unexpected purchase record: %+v", rec)
	}

	// Refresh works until the session is revoked.
	refresh := request(t, mux, http.MethodPost, "/refresh", "", map[string]string{"token": refreshToken})
	if refresh.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", refresh.Code)
	}
	if access, _ := decodeBody(t, refresh)["accessToken"].(string); access == "" {
		t.Error("refresh did not return an access token")
	}
	if rec := request(t, mux, http.MethodPost, "/logout", "", map[string]string{"token": refreshToken}); rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	if rec := request(t, mux, http.MethodPost, "/refresh", "", map[string]string{"token": refreshToken}); rec.Code != http.StatusForbidden {
		t.Errorf("refresh after logout: expected 403, got %d", rec.Code)
	}
	if rec := request(t, mux, http.MethodPost, "/logout", "", map[string]string{"token": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("logout without token: expected 400, got %d", rec.Code)
	}
}
