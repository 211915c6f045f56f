// Package session ties pairing, capture, cart reconciliation and payment to the
// one session this device is bound to.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fjod/scancart/internal/domain"
	"github.com/fjod/scancart/internal/payment"
	"github.com/fjod/scancart/internal/reconcile"
	"github.com/shopspring/decimal"
)

const (
	hintTimeout = 5 * time.Second

	DefaultPollInterval = 2 * time.Second
	DefaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

type Pairing interface {
	CreateSession(ctx context.Context) (*domain.PairingTicket, error)
	SubmitScan(ctx context.Context, code string) (domain.ScanClaim, error)
}

type Capture interface {
	Start(ctx context.Context, sessionID string) error
	StopSession(sessionID string)
}

type CartEngine interface {
	Subscribe(ctx context.Context, sessionID string, onUpdate reconcile.UpdateFunc) (func(), error)
}

type Payer interface {
	Pay(ctx context.Context, sessionID string, cart domain.LocalCart) (*payment.Result, error)
}

// CaptureHinter tells the backend that frames are about to arrive.
type CaptureHinter interface {
	StartCapture(ctx context.Context, sessionID string) error
}

// PairingStatusSource lets the kiosk learn that a phone claimed its session.
type PairingStatusSource interface {
	PairingStatus(ctx context.Context, sessionID string) (domain.PairingStatus, error)
}

// Inventory writes local cart edits through to the remote cart record so the
// first delivery after pairing already carries them.
type Inventory interface {
	AddItem(ctx context.Context, sessionID string, item domain.LocalCartItem) error
	SetItemQuantity(ctx context.Context, sessionID, itemID string, qty int) error
	RemoveItem(ctx context.Context, sessionID, itemID string) error
}

// Listener observes session and cart changes. A nil session means none is bound.
type Listener interface {
	SessionChanged(session *domain.Session)
	CartUpdated(cart domain.LocalCart)
}

type Deps struct {
	Pairing   Pairing
	Capture   Capture
	Engine    CartEngine
	Payer     Payer
	Hinter    CaptureHinter
	Status    PairingStatusSource
	Inventory Inventory
	TaxRate   decimal.Decimal

	// PollInterval paces pairing status checks after CreateSession.
	PollInterval time.Duration
	// RetryBackoff is the first delay before re-following a cart whose
	// subscription failed. It doubles up to 30s.
	RetryBackoff time.Duration
}

type Manager struct {
	root context.Context
	deps Deps

	// serializes local cart edits so remote writes and local state stay in order
	editMu sync.Mutex

	mu          sync.Mutex
	session     *domain.Session
	cart        domain.LocalCart
	unsubscribe func()
	following   bool
	// cancels the pairing watch or follow retry of the bound session
	stopPending context.CancelFunc
	listeners   []Listener
}

// NewManager builds a manager whose subscriptions and capture loops live as
// long as root.
func NewManager(root context.Context, deps Deps) *Manager {
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	if deps.RetryBackoff <= 0 {
		deps.RetryBackoff = DefaultRetryBackoff
	}
	return &Manager{root: root, deps: deps}
}

func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// CreateSession is the kiosk role: allocate a session and hold its pairing payload.
func (m *Manager) CreateSession(ctx context.Context) (*domain.PairingTicket, error) {
	ticket, err := m.deps.Pairing.CreateSession(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	m.mu.Lock()
	m.releaseLocked()
	m.session = &domain.Session{
		ID:             ticket.SessionID,
		CartID:         ticket.CartID,
		State:          domain.SessionUnpaired,
		PairingPayload: ticket.Payload,
		TokenExpiresAt: ticket.TokenExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.cart = emptyCart(ticket.SessionID)
	var watch context.Context
	if m.deps.Status != nil {
		watch = m.pendingLocked()
	}
	m.mu.Unlock()

	m.notifySession()
	if watch != nil {
		go m.watchPairing(watch, ticket.SessionID)
	}
	return ticket, nil
}

// watchPairing polls the backend until a phone claims sessionID, then binds it.
func (m *Manager) watchPairing(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(m.deps.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := m.deps.Status.PairingStatus(ctx, sessionID)
		switch {
		case errors.Is(err, domain.ErrSessionMissing):
			log.Printf("session %s vanished while waiting for pairing", sessionID)
			return
		case err != nil:
			log.Printf("pairing status for session %s: %v", sessionID, err)
			continue
		case status.Paired:
			if err := m.bind(sessionID); err != nil {
				log.Printf("bind paired session %s: %v", sessionID, err)
			}
			return
		case !status.TokenValid:
			log.Printf("pairing token of session %s expired", sessionID)
			return
		}
	}
}

// SubmitScan is the phone role: claim the scanned code and, once paired, start
// following the cart and capturing frames.
func (m *Manager) SubmitScan(ctx context.Context, code string) (domain.ScanClaim, error) {
	claim, err := m.deps.Pairing.SubmitScan(ctx, code)
	if err != nil || claim.Outcome != domain.ScanPaired {
		return claim, err
	}
	return claim, m.bind(claim.SessionID)
}

func (m *Manager) bind(sessionID string) error {
	now := time.Now()
	m.mu.Lock()
	if s := m.session; s != nil && s.ID == sessionID && s.State == domain.SessionActive {
		m.mu.Unlock()
		return nil
	}
	if m.session == nil || m.session.ID != sessionID {
		m.releaseLocked()
		m.session = &domain.Session{ID: sessionID, CreatedAt: now}
		m.cart = emptyCart(sessionID)
	} else {
		m.releaseLocked()
	}
	m.session.State = domain.SessionPaired
	m.session.PairingPayload = ""
	m.session.UpdatedAt = now
	m.mu.Unlock()
	m.notifySession()

	log.Printf("session %s paired", sessionID)

	err := m.follow(sessionID)
	if errors.Is(err, domain.ErrServiceUnavailable) {
		m.retryFollow(sessionID)
	}
	return err
}

// Resume re-follows a paired session whose cart subscription never came up.
func (m *Manager) Resume() error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return fmt.Errorf("resume: %w", domain.ErrSessionMissing)
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	err := m.follow(sessionID)
	if errors.Is(err, domain.ErrServiceUnavailable) {
		m.retryFollow(sessionID)
	}
	return err
}

// follow subscribes to the cart of a paired session and starts capture.
func (m *Manager) follow(sessionID string) error {
	m.mu.Lock()
	if m.session == nil || m.session.ID != sessionID {
		m.mu.Unlock()
		return fmt.Errorf("follow session %s: %w", sessionID, domain.ErrSessionMissing)
	}
	if m.session.State != domain.SessionPaired || m.following {
		m.mu.Unlock()
		return nil
	}
	m.following = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.following = false
		m.mu.Unlock()
	}()

	unsubscribe, err := m.deps.Engine.Subscribe(m.root, sessionID, func(cart domain.LocalCart) {
		m.cartUpdated(sessionID, cart)
	})
	if err != nil {
		return fmt.Errorf("follow cart of session %s: %w: %v", sessionID, domain.ErrServiceUnavailable, err)
	}
	if !m.adopt(sessionID, unsubscribe) {
		unsubscribe()
		return fmt.Errorf("bind session %s: %w", sessionID, domain.ErrSessionMissing)
	}

	if m.deps.Hinter != nil {
		go func() {
			ctx, cancel := context.WithTimeout(m.root, hintTimeout)
			defer cancel()
			if err := m.deps.Hinter.StartCapture(ctx, sessionID); err != nil {
				log.Printf("capture start hint for session %s: %v", sessionID, err)
			}
		}()
	}

	if err := m.deps.Capture.Start(m.root, sessionID); err != nil {
		return fmt.Errorf("start capture for session %s: %w", sessionID, err)
	}

	m.mu.Lock()
	if m.session == nil || m.session.ID != sessionID {
		m.mu.Unlock()
		m.deps.Capture.StopSession(sessionID)
		return fmt.Errorf("bind session %s: %w", sessionID, domain.ErrSessionMissing)
	}
	m.session.State = domain.SessionActive
	m.session.UpdatedAt = time.Now()
	m.mu.Unlock()
	m.notifySession()
	return nil
}

// retryFollow keeps re-following sessionID with doubling backoff until it
// succeeds, the session changes or root ends.
func (m *Manager) retryFollow(sessionID string) {
	m.mu.Lock()
	if m.session == nil || m.session.ID != sessionID {
		m.mu.Unlock()
		return
	}
	ctx := m.pendingLocked()
	m.mu.Unlock()

	go func() {
		backoff := m.deps.RetryBackoff
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			err := m.follow(sessionID)
			if err == nil {
				return
			}
			if !errors.Is(err, domain.ErrServiceUnavailable) {
				log.Printf("giving up on session %s: %v", sessionID, err)
				return
			}
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			log.Printf("retrying cart of session %s in %v: %v", sessionID, backoff, err)
		}
	}()
}

// pendingLocked replaces the background work context of the bound session.
func (m *Manager) pendingLocked() context.Context {
	if m.stopPending != nil {
		m.stopPending()
	}
	ctx, cancel := context.WithCancel(m.root)
	m.stopPending = cancel
	return ctx
}

// adopt stores the cart subscription if sessionID is still the bound session.
func (m *Manager) adopt(sessionID string, unsubscribe func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.ID != sessionID {
		return false
	}
	m.unsubscribe = unsubscribe
	return true
}

func (m *Manager) cartUpdated(sessionID string, cart domain.LocalCart) {
	m.mu.Lock()
	if m.session == nil || m.session.ID != sessionID {
		m.mu.Unlock()
		return
	}
	m.cart = cart
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.CartUpdated(cart)
	}
}

// AddItem puts item into the cart of an unpaired session. Quantity 0 means one.
// An item already in the cart has its quantity increased.
func (m *Manager) AddItem(ctx context.Context, item domain.LocalCartItem) (domain.LocalCart, error) {
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.ID == "" || item.Quantity < 0 || item.UnitPrice < 0 {
		return domain.LocalCart{}, fmt.Errorf("add item %q: %w", item.ID, domain.ErrInvalidItem)
	}

	m.editMu.Lock()
	defer m.editMu.Unlock()

	sessionID, cart, err := m.editable()
	if err != nil {
		return domain.LocalCart{}, err
	}

	items := append([]domain.LocalCartItem(nil), cart.Items...)
	idx := indexOf(items, item.ID)
	if idx < 0 {
		if err := m.writeAdd(ctx, sessionID, item); err != nil {
			return domain.LocalCart{}, err
		}
		items = append(items, item)
	} else {
		qty := items[idx].Quantity + item.Quantity
		if err := m.writeQuantity(ctx, sessionID, item.ID, qty); err != nil {
			return domain.LocalCart{}, err
		}
		items[idx].Quantity = qty
	}
	return m.applyEdit(sessionID, items)
}

// SetQuantity overwrites the quantity of an item of an unpaired session's
// cart. Zero removes the item.
func (m *Manager) SetQuantity(ctx context.Context, itemID string, qty int) (domain.LocalCart, error) {
	if qty < 0 {
		return domain.LocalCart{}, fmt.Errorf("set quantity of %q to %d: %w", itemID, qty, domain.ErrInvalidItem)
	}
	if qty == 0 {
		return m.RemoveItem(ctx, itemID)
	}

	m.editMu.Lock()
	defer m.editMu.Unlock()

	sessionID, cart, err := m.editable()
	if err != nil {
		return domain.LocalCart{}, err
	}
	items := append([]domain.LocalCartItem(nil), cart.Items...)
	idx := indexOf(items, itemID)
	if idx < 0 {
		return domain.LocalCart{}, fmt.Errorf("set quantity of %q: %w", itemID, domain.ErrInvalidItem)
	}
	if err := m.writeQuantity(ctx, sessionID, itemID, qty); err != nil {
		return domain.LocalCart{}, err
	}
	items[idx].Quantity = qty
	return m.applyEdit(sessionID, items)
}

// RemoveItem drops an item from an unpaired session's cart.
func (m *Manager) RemoveItem(ctx context.Context, itemID string) (domain.LocalCart, error) {
	m.editMu.Lock()
	defer m.editMu.Unlock()

	sessionID, cart, err := m.editable()
	if err != nil {
		return domain.LocalCart{}, err
	}
	items := append([]domain.LocalCartItem(nil), cart.Items...)
	idx := indexOf(items, itemID)
	if idx < 0 {
		return domain.LocalCart{}, fmt.Errorf("remove item %q: %w", itemID, domain.ErrInvalidItem)
	}
	if m.deps.Inventory != nil {
		if err := m.deps.Inventory.RemoveItem(ctx, sessionID, itemID); err != nil {
			return domain.LocalCart{}, err
		}
	}
	items = append(items[:idx], items[idx+1:]...)
	return m.applyEdit(sessionID, items)
}

// editable returns the bound session if its cart is still local.
func (m *Manager) editable() (string, domain.LocalCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return "", domain.LocalCart{}, fmt.Errorf("edit cart: %w", domain.ErrSessionMissing)
	}
	if m.session.State != domain.SessionUnpaired {
		return "", domain.LocalCart{}, fmt.Errorf("edit cart of %s session %s: %w", m.session.State, m.session.ID, domain.ErrCartLocked)
	}
	return m.session.ID, m.cart, nil
}

func (m *Manager) writeAdd(ctx context.Context, sessionID string, item domain.LocalCartItem) error {
	if m.deps.Inventory == nil {
		return nil
	}
	if err := m.deps.Inventory.AddItem(ctx, sessionID, item); err != nil {
		return err
	}
	if item.Quantity == 1 {
		return nil
	}
	return m.deps.Inventory.SetItemQuantity(ctx, sessionID, item.ID, item.Quantity)
}

func (m *Manager) writeQuantity(ctx context.Context, sessionID, itemID string, qty int) error {
	if m.deps.Inventory == nil {
		return nil
	}
	return m.deps.Inventory.SetItemQuantity(ctx, sessionID, itemID, qty)
}

// applyEdit stores items as the local cart unless pairing won the race.
func (m *Manager) applyEdit(sessionID string, items []domain.LocalCartItem) (domain.LocalCart, error) {
	cart := domain.NewLocalCart(sessionID, items, m.deps.TaxRate)

	m.mu.Lock()
	if m.session == nil || m.session.ID != sessionID {
		m.mu.Unlock()
		return domain.LocalCart{}, fmt.Errorf("edit cart: %w", domain.ErrSessionMissing)
	}
	if m.session.State != domain.SessionUnpaired {
		m.mu.Unlock()
		return domain.LocalCart{}, fmt.Errorf("edit cart of session %s: %w", sessionID, domain.ErrCartLocked)
	}
	m.cart = cart
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.CartUpdated(cart)
	}
	return cart, nil
}

func indexOf(items []domain.LocalCartItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// Session returns a copy of the bound session.
func (m *Manager) Session() (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.Session{}, domain.ErrSessionMissing
	}
	return *m.session, nil
}

func (m *Manager) Cart() (domain.LocalCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.LocalCart{}, domain.ErrSessionMissing
	}
	return m.cart, nil
}

// Checkout pays for the current cart. On success the session is finalized and
// released; on failure or cancel nothing changes so the user can retry.
func (m *Manager) Checkout(ctx context.Context) (*payment.Result, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("checkout: %w", domain.ErrSessionMissing)
	}
	sessionID := m.session.ID
	cart := m.cart
	m.mu.Unlock()

	res, err := m.deps.Payer.Pay(ctx, sessionID, cart)
	if err != nil {
		return nil, err
	}
	if !res.ClearCart {
		return res, nil
	}

	m.mu.Lock()
	if m.session == nil || m.session.ID != sessionID {
		m.mu.Unlock()
		return res, nil
	}
	m.session.State = domain.SessionCheckedOut
	m.session.UpdatedAt = time.Now()
	done := *m.session
	m.releaseLocked()
	m.session = nil
	m.cart = domain.LocalCart{}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	log.Printf("session %s checked out", sessionID)
	for _, l := range listeners {
		l.SessionChanged(&done)
		l.CartUpdated(emptyCart(sessionID))
	}
	return res, nil
}

// StopCapture stops the scheduler if it is running for sessionID.
func (m *Manager) StopCapture(sessionID string) {
	m.deps.Capture.StopSession(sessionID)
}

// Teardown drops the bound session without paying.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	sessionID := m.session.ID
	m.releaseLocked()
	m.session = nil
	m.cart = domain.LocalCart{}
	m.mu.Unlock()

	log.Printf("session %s torn down", sessionID)
	m.notifySession()
}

// releaseLocked stops capture, the cart subscription and any pending background
// work of the bound session.
func (m *Manager) releaseLocked() {
	if m.stopPending != nil {
		m.stopPending()
		m.stopPending = nil
	}
	if m.session == nil {
		return
	}
	m.deps.Capture.StopSession(m.session.ID)
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Manager) notifySession() {
	m.mu.Lock()
	var snapshot *domain.Session
	if m.session != nil {
		s := *m.session
		snapshot = &s
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.SessionChanged(snapshot)
	}
}

func emptyCart(sessionID string) domain.LocalCart {
	return domain.LocalCart{SessionID: sessionID, Items: []domain.LocalCartItem{}, UpdatedAt: time.Now()}
}
