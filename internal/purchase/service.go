package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrItemNotFound      = errors.New("item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Store is the persistence consumed by the service. The SQL implementation
// is Repository; tests substitute in-memory fakes.
type Store interface {
	CreatePurchase(ctx context.Context, rec Record) error
	ItemExists(ctx context.Context, itemID string) (bool, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Purchase executes one purchase as an atomic unit: the stock decrement and
// the record append either both happen or neither does. A failed purchase
// leaves no partial state, so callers may safely retry.
func (s *Service) Purchase(ctx context.Context, itemID string, quantity int64, userID string) (Record, error) {
	if quantity <= 0 {
		return Record{}, ErrInvalidQuantity
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("generate purchase id: %w", err)
	}

	rec := Record{
		ID:        id.String(),
		ItemID:    itemID,
		UserID:    userID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreatePurchase(ctx, rec); err != nil {
		if errors.Is(err, ErrStockConflict) {
			exists, existsErr := s.store.ItemExists(ctx, itemID)
			if existsErr != nil {
				return Record{}, existsErr
			}
			if !exists {
				return Record{}, ErrItemNotFound
			}
			return Record{}, ErrInsufficientStock
		}
		return Record{}, err
	}

	return rec, nil
}
