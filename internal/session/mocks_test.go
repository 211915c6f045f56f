package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/scancart/internal/domain"
	"github.com/fjod/scancart/internal/payment"
	"github.com/fjod/scancart/internal/reconcile"
)

type MockPairing struct {
	Ticket    *domain.PairingTicket
	CreateErr error
	Claim     domain.ScanClaim
	ScanErr   error
}

func (m *MockPairing) CreateSession(_ context.Context) (*domain.PairingTicket, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	t := *m.Ticket
	return &t, nil
}

func (m *MockPairing) SubmitScan(_ context.Context, code string) (domain.ScanClaim, error) {
	claim := m.Claim
	claim.Code = code
	return claim, m.ScanErr
}

type MockCapture struct {
	mu       sync.Mutex
	Started  []string
	Stopped  []string
	StartErr error
}

func (m *MockCapture) Start(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, sessionID)
	return m.StartErr
}

func (m *MockCapture) started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Started...)
}

func (m *MockCapture) StopSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stopped = append(m.Stopped, sessionID)
}

type MockEngine struct {
	mu           sync.Mutex
	Err          error
	Updates      map[string]reconcile.UpdateFunc
	Unsubscribed map[string]int
}

func NewMockEngine() *MockEngine {
	return &MockEngine{Updates: map[string]reconcile.UpdateFunc{}, Unsubscribed: map[string]int{}}
}

func (m *MockEngine) Subscribe(_ context.Context, sessionID string, onUpdate reconcile.UpdateFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Updates[sessionID] = onUpdate
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Unsubscribed[sessionID]++
	}, nil
}

func (m *MockEngine) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func (m *MockEngine) subscribed(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Updates[sessionID]
	return ok
}

func (m *MockEngine) push(cart domain.LocalCart) {
	m.mu.Lock()
	f := m.Updates[cart.SessionID]
	m.mu.Unlock()
	f(cart)
}

func (m *MockEngine) unsubscribed(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Unsubscribed[sessionID]
}

type MockStatus struct {
	mu       sync.Mutex
	Statuses []domain.PairingStatus
	Err      error
	calls    int
}

// PairingStatus replays Statuses in order and repeats the last one.
func (m *MockStatus) PairingStatus(_ context.Context, sessionID string) (domain.PairingStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return domain.PairingStatus{}, m.Err
	}
	i := m.calls - 1
	if i >= len(m.Statuses) {
		i = len(m.Statuses) - 1
	}
	st := m.Statuses[i]
	st.SessionID = sessionID
	return st, nil
}

func (m *MockStatus) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type MockInventory struct {
	mu    sync.Mutex
	Err   error
	Calls []string
}

func (m *MockInventory) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
	return m.Err
}

func (m *MockInventory) AddItem(_ context.Context, sessionID string, item domain.LocalCartItem) error {
	return m.record(fmt.Sprintf("add %s %s", sessionID, item.ID))
}

func (m *MockInventory) SetItemQuantity(_ context.Context, sessionID, itemID string, qty int) error {
	return m.record(fmt.Sprintf("set %s %s %d", sessionID, itemID, qty))
}

func (m *MockInventory) RemoveItem(_ context.Context, sessionID, itemID string) error {
	return m.record(fmt.Sprintf("remove %s %s", sessionID, itemID))
}

type MockPayer struct {
	Result *payment.Result
	Err    error
	Carts  []domain.LocalCart
}

func (m *MockPayer) Pay(_ context.Context, sessionID string, cart domain.LocalCart) (*payment.Result, error) {
	m.Carts = append(m.Carts, cart)
	if m.Err != nil {
		return nil, m.Err
	}
	res := *m.Result
	res.SessionID = sessionID
	return &res, nil
}

type MockHinter struct {
	calls chan string
}

func (m *MockHinter) StartCapture(_ context.Context, sessionID string) error {
	m.calls <- sessionID
	return nil
}

type recordingListener struct {
	mu       sync.Mutex
	sessions []*domain.Session
	carts    []domain.LocalCart
}

func (l *recordingListener) SessionChanged(s *domain.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
}

func (l *recordingListener) CartUpdated(c domain.LocalCart) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.carts = append(l.carts, c)
}

func (l *recordingListener) states() []domain.SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.SessionState
	for _, s := range l.sessions {
		if s == nil {
			out = append(out, "")
			continue
		}
		out = append(out, s.State)
	}
	return out
}
