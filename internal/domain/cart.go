package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RemoteCartItem is one entry of the server-of-record cart. Backends that store one
// record per physical item leave Quantity nil.
type RemoteCartItem struct {
	ItemID    string  `json:"item_id,omitempty" bson:"item_id,omitempty"`
	ProductID string  `json:"product_id,omitempty" bson:"product_id,omitempty"`
	Name      string  `json:"name" bson:"name"`
	UnitPrice float64 `json:"unit_price" bson:"unit_price"`
	Quantity  *int    `json:"quantity,omitempty" bson:"quantity,omitempty"`
}

// Key is the product identity used for grouping and diffing.
func (i RemoteCartItem) Key() string {
	if i.ProductID != "" {
		return i.ProductID
	}
	return i.ItemID
}

// RemoteCartSnapshot represents the full remote cart state at one delivery.
type RemoteCartSnapshot struct {
	SessionID string           `json:"session_id" bson:"session_id"`
	Seq       uint64           `json:"seq,omitempty" bson:"seq,omitempty"`
	Items     []RemoteCartItem `json:"items" bson:"items"`
	Total     float64          `json:"total" bson:"total"`
	UpdatedAt time.Time        `json:"updated_at" bson:"updated_at"`
}

type LocalCartItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	LineTotal float64 `json:"line_total"`
}

// LocalCart is the UI-facing projection of the latest snapshot.
type LocalCart struct {
	SessionID   string          `json:"session_id"`
	Items       []LocalCartItem `json:"items"`
	Subtotal    float64         `json:"subtotal"`
	Tax         float64         `json:"tax"`
	Total       float64         `json:"total"`
	RemoteTotal float64         `json:"remote_total"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (c LocalCart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Quantities returns item id -> quantity.
func (c LocalCart) Quantities() map[string]int {
	q := make(map[string]int, len(c.Items))
	for _, item := range c.Items {
		q[item.ID] = item.Quantity
	}
	return q
}

// NewLocalCart computes line totals, subtotal, tax and total for the given items.
func NewLocalCart(sessionID string, items []LocalCartItem, taxRate decimal.Decimal) LocalCart {
	subtotal := decimal.Zero
	for i := range items {
		line := decimal.NewFromFloat(items[i].UnitPrice).Mul(decimal.NewFromInt(int64(items[i].Quantity)))
		items[i].LineTotal = line.Round(2).InexactFloat64()
		subtotal = subtotal.Add(line)
	}
	subtotal = subtotal.Round(2)
	total := TaxInclusiveTotal(subtotal, taxRate)

	if items == nil {
		items = []LocalCartItem{}
	}
	return LocalCart{
		SessionID: sessionID,
		Items:     items,
		Subtotal:  subtotal.InexactFloat64(),
		Tax:       total.Sub(subtotal).InexactFloat64(),
		Total:     total.InexactFloat64(),
		UpdatedAt: time.Now(),
	}
}
