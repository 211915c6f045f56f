package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/scancart/internal/domain"
)

// Gateway drives payment intents through the backend's payment endpoints.
type Gateway struct {
	rest         *restClient
	pollInterval time.Duration
	methodWait   time.Duration
}

// DefaultPaymentMethodWait bounds how long an intent may sit in
// requires_payment_method before confirmation reports it as failed.
const DefaultPaymentMethodWait = 30 * time.Second

func NewGateway(baseURL string, httpClient *http.Client, pollInterval time.Duration) *Gateway {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Gateway{
		rest:         newRestClient("payment-gateway", baseURL, httpClient),
		pollInterval: pollInterval,
		methodWait:   DefaultPaymentMethodWait,
	}
}

// SetPaymentMethodWait overrides DefaultPaymentMethodWait. Non-positive values are ignored.
func (g *Gateway) SetPaymentMethodWait(d time.Duration) {
	if d > 0 {
		g.methodWait = d
	}
}

type createIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type createIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type confirmResponse struct {
	Status           string `json:"status"`
	PaymentIntentID  string `json:"paymentIntentId"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error,omitempty"`
}

// GatewayError carries the gateway's own message for a rejected call.
type GatewayError struct {
	Status  int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.Status, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// GatewayMessage is the human readable reason reported by the gateway.
func (e *GatewayError) GatewayMessage() string {
	return e.Message
}

// CreateIntent requests a payment intent for the given amount.
func (g *Gateway) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.PaymentIntent, error) {
	metadata := map[string]string{
		"session_id":      req.SessionID,
		"idempotency_key": req.IdempotencyKey,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	resp, err := g.rest.doJSON(ctx, http.MethodPost, "/api/create-payment-intent", createIntentRequest{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		return nil, &GatewayError{Status: resp.status, Message: resp.message(), Err: domain.ErrPaymentDeclined}
	}

	var body createIntentResponse
	if err := resp.decode(&body); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	if body.Amount == 0 {
		body.Amount = req.AmountMinor
	}
	if body.Currency == "" {
		body.Currency = req.Currency
	}

	now := time.Now()
	return &domain.PaymentIntent{
		ID:             body.PaymentIntentID,
		ClientSecret:   body.ClientSecret,
		SessionID:      req.SessionID,
		IdempotencyKey: req.IdempotencyKey,
		AmountMinor:    body.Amount,
		Currency:       body.Currency,
		Status:         domain.IntentCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Confirm polls the intent until it reaches a terminal status or ctx expires.
// An intent that falls back to requires_payment_method after confirmation
// started, or that waits for a method longer than the configured bound, failed.
func (g *Gateway) Confirm(ctx context.Context, intent *domain.PaymentIntent) (domain.ConfirmOutcome, string, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var confirming bool
	var waitingSince time.Time

	for {
		body, err := g.confirmOnce(ctx, intent.ID)
		if err != nil {
			return "", "", err
		}

		switch body.Status {
		case "succeeded":
			return domain.ConfirmSucceeded, "", nil
		case "canceled":
			return domain.ConfirmCanceled, "", nil
		case "requires_confirmation", "requires_action", "processing":
			confirming = true
			waitingSince = time.Time{}
		case "requires_payment_method":
			if body.LastPaymentError != nil {
				return domain.ConfirmFailed, body.LastPaymentError.Message, nil
			}
			if confirming {
				return domain.ConfirmFailed, "payment method was declined", nil
			}
			if waitingSince.IsZero() {
				waitingSince = time.Now()
			}
			if time.Since(waitingSince) >= g.methodWait {
				return domain.ConfirmFailed, "no payment method was provided", nil
			}
		}

		select {
		case <-ctx.Done():
			return "", "", fmt.Errorf("confirm payment %s: %w: %v", intent.ID, domain.ErrServiceUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (g *Gateway) confirmOnce(ctx context.Context, intentID string) (*confirmResponse, error) {
	resp, err := g.rest.doJSON(ctx, http.MethodPost, "/api/confirm-payment", confirmRequest{PaymentIntentID: intentID})
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	if resp.status != http.StatusOK {
		return nil, &GatewayError{Status: resp.status, Message: resp.message(), Err: domain.ErrPaymentDeclined}
	}

	var body confirmResponse
	if err := resp.decode(&body); err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	return &body, nil
}
