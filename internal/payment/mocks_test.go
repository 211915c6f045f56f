package payment

import (
	"context"
	"sync"

	"github.com/fjod/scancart/internal/domain"
)

// MockGateway implements Gateway for testing
type MockGateway struct {
	mu           sync.Mutex
	CreateErr    error
	Outcome      domain.ConfirmOutcome
	Message      string
	ConfirmErr   error
	ConfirmBlock chan struct{}
	Requests     []domain.IntentRequest
	ConfirmCalls int
}

func (m *MockGateway) CreateIntent(_ context.Context, req domain.IntentRequest) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return &domain.PaymentIntent{
		ID:             "pi_1",
		SessionID:      req.SessionID,
		IdempotencyKey: req.IdempotencyKey,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Status:         domain.IntentCreated,
	}, nil
}

func (m *MockGateway) Confirm(ctx context.Context, _ *domain.PaymentIntent) (domain.ConfirmOutcome, string, error) {
	m.mu.Lock()
	m.ConfirmCalls++
	block := m.ConfirmBlock
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", "", domain.ErrServiceUnavailable
		}
	}
	return m.Outcome, m.Message, m.ConfirmErr
}

func (m *MockGateway) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests), m.ConfirmCalls
}

// MockFinalizer implements Finalizer for testing
type MockFinalizer struct {
	mu       sync.Mutex
	Err      error
	Sessions []string
	OnCall   func()
}

func (m *MockFinalizer) Finalize(_ context.Context, sessionID string) error {
	if m.OnCall != nil {
		m.OnCall()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions = append(m.Sessions, sessionID)
	return m.Err
}

// MockCapture implements CaptureStopper for testing
type MockCapture struct {
	Stopped []string
}

func (m *MockCapture) StopSession(sessionID string) {
	m.Stopped = append(m.Stopped, sessionID)
}

// MockLedger implements Ledger for testing
type MockLedger struct {
	mu       sync.Mutex
	Recorded []domain.PaymentIntent
	Statuses []domain.IntentStatus
	Err      error
}

func (m *MockLedger) Record(_ context.Context, intent *domain.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Recorded = append(m.Recorded, *intent)
	return m.Err
}

func (m *MockLedger) UpdateStatus(_ context.Context, _ string, status domain.IntentStatus, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses = append(m.Statuses, status)
	return m.Err
}
