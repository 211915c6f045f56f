// Package feedback delivers per-item quantity change cues to whatever plays them.
package feedback

import (
	"log"

	"github.com/fjod/scancart/internal/domain"
)

type Emitter interface {
	Emit(event domain.FeedbackEvent)
}

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(event domain.FeedbackEvent)

func (f EmitterFunc) Emit(event domain.FeedbackEvent) {
	f(event)
}

// LogEmitter writes events to the standard logger.
type LogEmitter struct{}

func (LogEmitter) Emit(event domain.FeedbackEvent) {
	log.Printf("cart feedback for session %s: %s %s (%d -> %d)",
		event.SessionID, event.Direction, event.ItemID, event.OldQuantity, event.NewQuantity)
}

// Multi fans an event out to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(event domain.FeedbackEvent) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
