package reconcile

import (
	"context"
	"sync"

	"github.com/fjod/scancart/internal/domain"
	"github.com/fjod/scancart/internal/feed"
)

type mockFeed struct {
	mu        sync.Mutex
	handlers  map[string]feed.Handler
	released  map[string]int
	subscribe error
}

func newMockFeed() *mockFeed {
	return &mockFeed{
		handlers: map[string]feed.Handler{},
		released: map[string]int{},
	}
}

func (m *mockFeed) Subscribe(_ context.Context, sessionID string, handler feed.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribe != nil {
		return nil, m.subscribe
	}
	m.handlers[sessionID] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.released[sessionID]++
	}, nil
}

// push delivers snap through the handler captured at subscribe time, even after release.
func (m *mockFeed) push(snap domain.RemoteCartSnapshot) {
	m.mu.Lock()
	h := m.handlers[snap.SessionID]
	m.mu.Unlock()
	if h != nil {
		h(snap)
	}
}

func (m *mockFeed) releases(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released[sessionID]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.FeedbackEvent
}

func (r *eventRecorder) Emit(ev domain.FeedbackEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []domain.FeedbackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.FeedbackEvent(nil), r.events...)
}

type cartRecorder struct {
	mu    sync.Mutex
	carts []domain.LocalCart
}

func (r *cartRecorder) update(c domain.LocalCart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts = append(r.carts, c)
}

func (r *cartRecorder) all() []domain.LocalCart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LocalCart(nil), r.carts...)
}

func qty(n int) *int { return &n }

func snapshot(sessionID string, items ...domain.RemoteCartItem) domain.RemoteCartSnapshot {
	return domain.RemoteCartSnapshot{SessionID: sessionID, Items: items}
}

func item(id string, n int) domain.RemoteCartItem {
	return domain.RemoteCartItem{ProductID: id, Name: id, UnitPrice: 1.5, Quantity: qty(n)}
}
