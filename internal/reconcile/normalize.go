package reconcile

import (
	"github.com/fjod/scancart/internal/domain"
)

// Normalize turns remote items into local items. Items carrying a quantity are
// taken as they are; per-physical-item records without one are grouped by
// product identity in first-seen order and counted. Non-positive quantities are
// dropped.
func Normalize(remote []domain.RemoteCartItem) []domain.LocalCartItem {
	items := make([]domain.LocalCartItem, 0, len(remote))
	index := make(map[string]int, len(remote))

	for _, r := range remote {
		key := r.Key()
		if key == "" {
			continue
		}

		qty := 1
		if r.Quantity != nil {
			qty = *r.Quantity
			if qty <= 0 {
				continue
			}
		}

		if i, ok := index[key]; ok {
			items[i].Quantity += qty
			continue
		}
		index[key] = len(items)
		items = append(items, domain.LocalCartItem{
			ID:        key,
			Name:      r.Name,
			UnitPrice: r.UnitPrice,
			Quantity:  qty,
		})
	}
	return items
}

// Diff emits one event per item present in both deliveries whose quantity changed.
func Diff(sessionID string, prev map[string]int, next []domain.LocalCartItem) []domain.FeedbackEvent {
	var events []domain.FeedbackEvent
	for _, item := range next {
		old, ok := prev[item.ID]
		if !ok || old == item.Quantity {
			continue
		}
		dir := domain.DirectionIncrease
		if item.Quantity < old {
			dir = domain.DirectionDecrease
		}
		events = append(events, domain.FeedbackEvent{
			SessionID:   sessionID,
			ItemID:      item.ID,
			Name:        item.Name,
			Direction:   dir,
			OldQuantity: old,
			NewQuantity: item.Quantity,
		})
	}
	return events
}
