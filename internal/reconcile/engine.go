// Package reconcile turns remote cart deliveries into the local cart and
// per-item feedback events.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/fjod/scancart/internal/domain"
	"github.com/fjod/scancart/internal/feed"
	"github.com/fjod/scancart/internal/feedback"
	"github.com/shopspring/decimal"
)

type UpdateFunc func(cart domain.LocalCart)

type Engine struct {
	feed    feed.Feed
	emitter feedback.Emitter
	taxRate decimal.Decimal

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	sessionID string
	onUpdate  UpdateFunc
	closed    atomic.Bool

	mu      sync.Mutex
	prev    map[string]int
	lastSeq uint64

	releaseMu sync.Mutex
	release   func()
	stopped   bool
}

func (s *subscription) setRelease(release func()) {
	s.releaseMu.Lock()
	if s.stopped {
		s.releaseMu.Unlock()
		release()
		return
	}
	s.release = release
	s.releaseMu.Unlock()
}

// stop marks the subscription closed and releases the feed. It never waits for
// a delivery in progress, so it is safe to call from inside onUpdate.
func (s *subscription) stop() {
	s.closed.Store(true)
	s.releaseMu.Lock()
	s.stopped = true
	release := s.release
	s.release = nil
	s.releaseMu.Unlock()
	if release != nil {
		release()
	}
}

func NewEngine(f feed.Feed, emitter feedback.Emitter, taxRate decimal.Decimal) *Engine {
	if emitter == nil {
		emitter = feedback.LogEmitter{}
	}
	return &Engine{
		feed:    f,
		emitter: emitter,
		taxRate: taxRate,
		subs:    make(map[string]*subscription),
	}
}

// Subscribe follows the remote cart of sessionID. An existing subscription for
// the same session is released first. ctx bounds the underlying feed.
func (e *Engine) Subscribe(ctx context.Context, sessionID string, onUpdate UpdateFunc) (func(), error) {
	if sessionID == "" {
		return nil, fmt.Errorf("subscribe cart: %w", domain.ErrSessionMissing)
	}
	if onUpdate == nil {
		onUpdate = func(domain.LocalCart) {}
	}

	sub := &subscription{
		sessionID: sessionID,
		onUpdate:  onUpdate,
		prev:      map[string]int{},
	}

	e.mu.Lock()
	old := e.subs[sessionID]
	e.subs[sessionID] = sub
	e.mu.Unlock()
	if old != nil {
		old.stop()
	}

	release, err := e.feed.Subscribe(ctx, sessionID, func(snap domain.RemoteCartSnapshot) {
		e.deliver(sub, snap)
	})
	if err != nil {
		sub.stop()
		e.forget(sub)
		return nil, fmt.Errorf("subscribe cart %s: %w", sessionID, err)
	}
	sub.setRelease(release)

	return func() {
		sub.stop()
		e.forget(sub)
	}, nil
}

// Unsubscribe releases the subscription for sessionID, if any.
func (e *Engine) Unsubscribe(sessionID string) {
	e.mu.Lock()
	sub := e.subs[sessionID]
	delete(e.subs, sessionID)
	e.mu.Unlock()
	if sub != nil {
		sub.stop()
	}
}

// Subscribed reports whether sessionID has a live subscription.
func (e *Engine) Subscribed(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subs[sessionID]
	return ok
}

func (e *Engine) forget(sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs[sub.sessionID] == sub {
		delete(e.subs, sub.sessionID)
	}
}

func (e *Engine) deliver(sub *subscription, snap domain.RemoteCartSnapshot) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed.Load() {
		return
	}
	if snap.Seq != 0 && snap.Seq <= sub.lastSeq {
		log.Printf("ignoring stale cart delivery for session %s (seq %d <= %d)", sub.sessionID, snap.Seq, sub.lastSeq)
		return
	}

	items := Normalize(snap.Items)
	events := Diff(sub.sessionID, sub.prev, items)

	next := make(map[string]int, len(items))
	for _, item := range items {
		next[item.ID] = item.Quantity
	}
	sub.prev = next
	if snap.Seq != 0 {
		sub.lastSeq = snap.Seq
	}

	cart := domain.NewLocalCart(sub.sessionID, items, e.taxRate)
	cart.RemoteTotal = snap.Total
	if !snap.UpdatedAt.IsZero() {
		cart.UpdatedAt = snap.UpdatedAt
	}

	for _, ev := range events {
		e.emitter.Emit(ev)
	}
	sub.onUpdate(cart)
}
