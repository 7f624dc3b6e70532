package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

// Store is the ledger persistence consumed by the handler. The SQL
// implementation is Repository; tests substitute in-memory fakes.
type Store interface {
	List(ctx context.Context, limit int) ([]Item, error)
	Get(ctx context.Context, id string) (Item, error)
	Create(ctx context.Context, item Item) error
	Update(ctx context.Context, id string, in UpdateInput) (Item, error)
	Delete(ctx context.Context, id string) (Item, error)
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

type createRequest struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Stock *int64   `json:"stock"`
	Price *float64 `json:"price"`
}

type updateRequest struct {
	Name  string   `json:"name"`
	Stock *int64   `json:"stock"`
	Price *float64 `json:"price"`
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	items, err := h.store.List(r.Context(), limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "item id is required")
		return
	}

	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get item")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body createRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.ID = strings.TrimSpace(body.ID)
	body.Name = strings.TrimSpace(body.Name)
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if !validName(body.Name) {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if body.Stock == nil || *body.Stock < 0 {
		writeError(w, http.StatusBadRequest, "stock must be a non-negative integer")
		return
	}
	price := 0.0
	if body.Price != nil {
		if *body.Price < 0 {
			writeError(w, http.StatusBadRequest, "price must be >= 0")
			return
		}
		price = *body.Price
	}

	item := Item{ID: body.ID, Name: body.Name, Stock: *body.Stock, Price: price}
	if err := h.store.Create(r.Context(), item); err != nil {
		if errors.Is(err, ErrItemExists) {
			writeError(w, http.StatusBadRequest, "item already exists")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "item id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body updateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	if !validName(body.Name) {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if body.Stock == nil || *body.Stock < 0 {
		writeError(w, http.StatusBadRequest, "stock must be a non-negative integer")
		return
	}
	if body.Price != nil && *body.Price < 0 {
		writeError(w, http.StatusBadRequest, "price must be >= 0")
		return
	}

	item, err := h.store.Update(r.Context(), id, UpdateInput{
		Name:  body.Name,
		Stock: *body.Stock,
		Price: body.Price,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update item")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "item id is required")
		return
	}

	item, err := h.store.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}

	writeJSON(w, http.StatusOK, map[string]Item{"item": item})
}

func validName(name string) bool {
	return name != "" && utf8.ValidString(name) && len(name) <= 150
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
