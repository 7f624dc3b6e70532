package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"stockroom/internal/auth"
)

const (
	maxJSONBodyBytes = 1 << 20

	// Bound on the purchase transaction, which spans only the decrement and
	// the record insert; a timed-out attempt leaves no partial state.
	purchaseTimeout = 5 * time.Second
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type purchaseRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	itemID := strings.TrimSpace(r.PathValue("id"))
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "item id is required")
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body purchaseRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), purchaseTimeout)
	defer cancel()

	rec, err := h.service.Purchase(ctx, itemID, body.Quantity, principal.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidQuantity):
			writeError(w, http.StatusBadRequest, "quantity must be a positive integer")
		case errors.Is(err, ErrItemNotFound):
			writeError(w, http.StatusNotFound, "item not found")
		case errors.Is(err, ErrInsufficientStock):
			writeError(w, http.StatusBadRequest, "insufficient stock")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to complete purchase")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "purchase completed",
		"purchase": rec,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
