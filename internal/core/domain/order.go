package domain

import "time"

// OrderRecord is the last completed order kept in local storage.
type OrderRecord struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CartID      string    `json:"cart_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
