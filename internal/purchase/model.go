package purchase

import "time"

// Record is append-only: exactly one row per successful purchase, written in
// the same transaction as the stock decrement.
type Record struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	UserID    string    `json:"userId"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
}
