package purchase

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stockroom/internal/db"
)

func getPostgresDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := database.Ping(); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return database
}

func seedItem(t *testing.T, database *sql.DB, stock int64) string {
	t.Helper()

	itemID := "test-item-" + uuid.NewString()
	_, err := database.ExecContext(context.Background(), `
		INSERT INTO inventory_items (id, name, stock, price)
		VALUES ($1, 'integration test item', $2, 1)
	`, itemID, stock)
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	t.Cleanup(func() {
		database.ExecContext(context.Background(), `DELETE FROM purchases WHERE item_id = $1`, itemID)
		database.ExecContext(context.Background(), `DELETE FROM inventory_items WHERE id = $1`, itemID)
	})

	return itemID
}

func itemStock(t *testing.T, database *sql.DB, itemID string) int64 {
	t.Helper()

	var stock int64
	err := database.QueryRowContext(context.Background(), `
		SELECT stock FROM inventory_items WHERE id = $1
	`, itemID).Scan(&stock)
	if err != nil {
		t.Fatalf("query stock: %v", err)
	}
	return stock
}

func newRecord(itemID, userID string, quantity int64) Record {
	id, _ := uuid.NewV7()
	return Record{
		ID:        id.String(),
		ItemID:    itemID,
		UserID:    userID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreatePurchase_Postgres(t *testing.T) {
	database := getPostgresDB(t)
	defer database.Close()

	repo := NewRepository(database)
	ctx := context.Background()
	itemID := seedItem(t, database, 5)

	if err := repo.CreatePurchase(ctx, newRecord(itemID, "test-user", 3)); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if got := itemStock(t, database, itemID); got != 2 {
		t.Errorf("expected stock 2, got %d", got)
	}

	var count int
	if err := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM purchases WHERE item_id = $1`, itemID).Scan(&count); err != nil {
		t.Fatalf("count purchases: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 purchase record, got %d", count)
	}

	// The remaining 2 units cannot cover another purchase of 3; nothing may
	// change.
	if err := repo.CreatePurchase(ctx, newRecord(itemID, "test-user", 3)); !errors.Is(err, ErrStockConflict) {
		t.Errorf("expected ErrStockConflict, got: %v", err)
	}
	if got := itemStock(t, database, itemID); got != 2 {
		t.Errorf("expected stock unchanged at 2, got %d", got)
	}
}

func TestCreatePurchase_PostgresConcurrent(t *testing.T) {
	database := getPostgresDB(t)
	defer database.Close()

	repo := NewRepository(database)
	itemID := seedItem(t, database, 10)

	const totalRequests = 25

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.CreatePurchase(context.Background(), newRecord(itemID, "test-user", 1))
			if err == nil {
				successCount.Add(1)
			} else if !errors.Is(err, ErrStockConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 10 {
		t.Errorf("expected 10 successes, got %d", successCount.Load())
	}
	if got := itemStock(t, database, itemID); got != 0 {
		t.Errorf("expected stock 0, got %d", got)
	}
}

func TestItemExists_Postgres(t *testing.T) {
	database := getPostgresDB(t)
	defer database.Close()

	repo := NewRepository(database)
	ctx := context.Background()
	itemID := seedItem(t, database, 1)

	exists, err := repo.ItemExists(ctx, itemID)
	if err != nil {
		t.Fatalf("item exists: %v", err)
	}
	if !exists {
		t.Error("expected seeded item to exist")
	}

	exists, err = repo.ItemExists(ctx, "no-such-item-"+uuid.NewString())
	if err != nil {
		t.Fatalf("item exists: %v", err)
	}
	if exists {
		t.Error("expected missing item to not exist")
	}
}
