package purchase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrStockConflict means the conditional decrement matched no row: the item
// is missing or its stock is below the requested quantity. The service
// decides which.
var ErrStockConflict = errors.New("stock conflict")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreatePurchase applies the decrement and appends the purchase record as one
// transaction. The decrement is a single conditional update, so concurrent
// purchases of the same item serialize at the storage layer and stock never
// goes negative. Any failure after the decrement rolls it back.
func (r *Repository) CreatePurchase(ctx context.Context, rec Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purchase tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, rec.ItemID, rec.Quantity)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStockConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (id, item_id, user_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.ItemID, rec.UserID, rec.Quantity, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert purchase record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchase tx: %w", err)
	}

	return nil
}

func (r *Repository) ItemExists(ctx context.Context, itemID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM inventory_items WHERE id = $1)
	`, itemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query item existence: %w", err)
	}

	return exists, nil
}
