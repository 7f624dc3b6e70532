package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("item not found")
	ErrItemExists = errors.New("item already exists")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, limit int) ([]Item, error) {
	query := `
		SELECT id, name, stock, price
		FROM inventory_items
		ORDER BY id ASC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Stock, &item.Price); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Item, error) {
	var item Item
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, stock, price
		FROM inventory_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Stock, &item.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("query item: %w", err)
	}

	return item, nil
}

// Create reports ErrItemExists for a duplicate id, determined by the conflict
// clause's affected-row count rather than driver error codes.
func (r *Repository) Create(ctx context.Context, item Item) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, name, stock, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Name, item.Stock, item.Price)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert item rows affected: %w", err)
	}
	if affected == 0 {
		return ErrItemExists
	}

	return nil
}

// Update replaces name and stock, and price only when one was supplied.
func (r *Repository) Update(ctx context.Context, id string, in UpdateInput) (Item, error) {
	var price any
	if in.Price != nil {
		price = *in.Price
	}

	var item Item
	err := r.db.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET name = $2, stock = $3, price = COALESCE($4, price)
		WHERE id = $1
		RETURNING id, name, stock, price
	`, id, in.Name, in.Stock, price).Scan(&item.ID, &item.Name, &item.Stock, &item.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("update item: %w", err)
	}

	return item, nil
}

// Delete removes the row and returns its pre-delete snapshot.
func (r *Repository) Delete(ctx context.Context, id string) (Item, error) {
	var item Item
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM inventory_items
		WHERE id = $1
		RETURNING id, name, stock, price
	`, id).Scan(&item.ID, &item.Name, &item.Stock, &item.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("delete item: %w", err)
	}

	return item, nil
}
