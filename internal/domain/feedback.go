package domain

type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// FeedbackEvent signals a per-item quantity change between two deliveries.
type FeedbackEvent struct {
	SessionID   string    `json:"session_id"`
	ItemID      string    `json:"item_id"`
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	OldQuantity int       `json:"old_quantity"`
	NewQuantity int       `json:"new_quantity"`
}
