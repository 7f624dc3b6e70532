package inventory

// Item ids are assigned by the caller at creation time, not generated here.
type Item struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Stock int64   `json:"stock"`
	Price float64 `json:"price"`
}

// UpdateInput replaces an item's fields. A nil Price leaves the stored price
// unchanged.
type UpdateInput struct {
	Name  string
	Stock int64
	Price *float64
}
