// Package payment drives one payment attempt at a time through the gateway:
// idle -> creating_intent -> confirming -> {succeeded, failed, canceled} -> idle.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fjod/scancart/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultTimeout  = 2 * time.Minute
	finalizeTimeout = 10 * time.Second
)

type Gateway interface {
	CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.PaymentIntent, error)
	Confirm(ctx context.Context, intent *domain.PaymentIntent) (domain.ConfirmOutcome, string, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, sessionID string) error
}

type CaptureStopper interface {
	StopSession(sessionID string)
}

// Ledger keeps an audit trail of every attempt, keyed by idempotency key.
type Ledger interface {
	Record(ctx context.Context, intent *domain.PaymentIntent) error
	UpdateStatus(ctx context.Context, idempotencyKey string, status domain.IntentStatus, failure string) error
}

type StateListener func(sessionID string, state domain.PaymentState)

// Result describes how an attempt ended. Err is set for failed attempts only.
type Result struct {
	SessionID   string                `json:"session_id"`
	State       domain.PaymentState   `json:"state"`
	AmountMinor int64                 `json:"amount"`
	Currency    string                `json:"currency"`
	Intent      *domain.PaymentIntent `json:"intent,omitempty"`
	Message     string                `json:"message,omitempty"`
	ClearCart   bool                  `json:"clear_cart"`
	Finalized   bool                  `json:"finalized"`
	Err         error                 `json:"-"`
}

type Config struct {
	TaxRate  decimal.Decimal
	Currency string
	Timeout  time.Duration
}

type Orchestrator struct {
	gateway   Gateway
	finalizer Finalizer
	capture   CaptureStopper
	ledger    Ledger
	cfg       Config
	onState   StateListener
	newKey    func() string

	mu    sync.Mutex
	state domain.PaymentState
}

func NewOrchestrator(gateway Gateway, finalizer Finalizer, capture CaptureStopper, ledger Ledger, cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "cad"
	}
	return &Orchestrator{
		gateway:   gateway,
		finalizer: finalizer,
		capture:   capture,
		ledger:    ledger,
		cfg:       cfg,
		newKey:    uuid.NewString,
		state:     domain.PaymentIdle,
	}
}

// OnStateChange registers a listener for every transition. Call before Pay.
func (o *Orchestrator) OnStateChange(l StateListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onState = l
}

func (o *Orchestrator) State() domain.PaymentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// AmountMinor is the tax-inclusive total of cart in minor currency units.
func (o *Orchestrator) AmountMinor(cart domain.LocalCart) int64 {
	subtotal := decimal.NewFromFloat(cart.Subtotal).Round(2)
	return domain.MinorUnits(domain.TaxInclusiveTotal(subtotal, o.cfg.TaxRate))
}

// Pay runs one attempt for cart. Rejections that happen before any transition
// are returned as errors; every attempt that started ends in a Result.
func (o *Orchestrator) Pay(ctx context.Context, sessionID string, cart domain.LocalCart) (*Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("pay: %w", domain.ErrSessionMissing)
	}
	if cart.IsEmpty() {
		return nil, fmt.Errorf("pay: %w", domain.ErrEmptyCart)
	}
	amount := o.AmountMinor(cart)
	if amount <= 0 {
		return nil, fmt.Errorf("pay: amount %d: %w", amount, domain.ErrEmptyCart)
	}

	if err := o.begin(sessionID); err != nil {
		return nil, err
	}
	defer o.transition(sessionID, domain.PaymentIdle)

	res := &Result{SessionID: sessionID, AmountMinor: amount, Currency: o.cfg.Currency}

	payCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	key := o.newKey()
	intent, err := o.gateway.CreateIntent(payCtx, domain.IntentRequest{
		SessionID:      sessionID,
		IdempotencyKey: key,
		AmountMinor:    amount,
		Currency:       o.cfg.Currency,
	})
	if err != nil {
		o.record(ctx, &domain.PaymentIntent{
			SessionID:      sessionID,
			IdempotencyKey: key,
			AmountMinor:    amount,
			Currency:       o.cfg.Currency,
			Status:         domain.IntentFailed,
			FailureMessage: gatewayMessage(err),
		})
		return o.fail(sessionID, res, gatewayMessage(err), classify(err)), nil
	}
	res.Intent = intent
	o.record(ctx, intent)

	if err := o.transition(sessionID, domain.PaymentConfirming); err != nil {
		return nil, err
	}

	outcome, message, err := o.gateway.Confirm(payCtx, intent)
	switch {
	case err != nil:
		o.updateStatus(ctx, intent, domain.IntentFailed, gatewayMessage(err))
		return o.fail(sessionID, res, gatewayMessage(err), classify(err)), nil
	case outcome == domain.ConfirmCanceled:
		o.updateStatus(ctx, intent, domain.IntentCanceled, "")
		res.State = domain.PaymentCanceled
		res.Message = "payment canceled"
		_ = o.transition(sessionID, domain.PaymentCanceled)
		return res, nil
	case outcome != domain.ConfirmSucceeded:
		if message == "" {
			message = "payment failed"
		}
		o.updateStatus(ctx, intent, domain.IntentFailed, message)
		return o.fail(sessionID, res, message, fmt.Errorf("confirm payment %s: %w: %s", intent.ID, domain.ErrPaymentDeclined, message)), nil
	}

	o.updateStatus(ctx, intent, domain.IntentConfirmed, "")
	_ = o.transition(sessionID, domain.PaymentSucceeded)
	res.State = domain.PaymentSucceeded
	res.ClearCart = true
	if o.capture != nil {
		o.capture.StopSession(sessionID)
	}
	res.Finalized = o.finalize(ctx, sessionID)
	return res, nil
}

func (o *Orchestrator) begin(sessionID string) error {
	o.mu.Lock()
	if o.state != domain.PaymentIdle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("pay in state %s: %w", state, domain.ErrPaymentInProgress)
	}
	o.state = domain.PaymentCreatingIntent
	listener := o.onState
	o.mu.Unlock()

	if listener != nil {
		listener(sessionID, domain.PaymentCreatingIntent)
	}
	return nil
}

func (o *Orchestrator) transition(sessionID string, to domain.PaymentState) error {
	o.mu.Lock()
	if !domain.CanTransitionTo(o.state, to) {
		from := o.state
		o.mu.Unlock()
		return fmt.Errorf("payment %s -> %s: %w", from, to, domain.ErrIllegalTransition)
	}
	o.state = to
	listener := o.onState
	o.mu.Unlock()

	if listener != nil {
		listener(sessionID, to)
	}
	return nil
}

func (o *Orchestrator) fail(sessionID string, res *Result, message string, err error) *Result {
	log.Printf("payment failed for session %s: %v", sessionID, err)
	_ = o.transition(sessionID, domain.PaymentFailed)
	res.State = domain.PaymentFailed
	res.Message = message
	res.Err = err
	return res
}

// finalize is best effort; the payment already succeeded.
func (o *Orchestrator) finalize(ctx context.Context, sessionID string) bool {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := o.finalizer.Finalize(fctx, sessionID); err != nil {
		log.Printf("finalize session %s after payment: %v", sessionID, err)
		return false
	}
	return true
}

func (o *Orchestrator) record(ctx context.Context, intent *domain.PaymentIntent) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.Record(context.WithoutCancel(ctx), intent); err != nil {
		log.Printf("ledger record for session %s: %v", intent.SessionID, err)
	}
}

func (o *Orchestrator) updateStatus(ctx context.Context, intent *domain.PaymentIntent, status domain.IntentStatus, failure string) {
	intent.Status = status
	intent.FailureMessage = failure
	intent.UpdatedAt = time.Now()
	if o.ledger == nil {
		return
	}
	if err := o.ledger.UpdateStatus(context.WithoutCancel(ctx), intent.IdempotencyKey, status, failure); err != nil {
		log.Printf("ledger update for intent %s: %v", intent.ID, err)
	}
}

type messageError interface {
	error
	GatewayMessage() string
}

func gatewayMessage(err error) string {
	var me messageError
	if errors.As(err, &me) && me.GatewayMessage() != "" {
		return me.GatewayMessage()
	}
	return err.Error()
}

// classify keeps declines and unavailability distinct; anything else counts as
// the service being unreachable.
func classify(err error) error {
	if errors.Is(err, domain.ErrPaymentDeclined) || errors.Is(err, domain.ErrServiceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
}
