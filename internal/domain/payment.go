package domain

import "time"

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentConfirmed IntentStatus = "confirmed"
	IntentFailed    IntentStatus = "failed"
	IntentCanceled  IntentStatus = "canceled"
)

func (s IntentStatus) IsTerminal() bool {
	return s == IntentConfirmed || s == IntentFailed || s == IntentCanceled
}

// PaymentIntent is one payment attempt against the gateway.
type PaymentIntent struct {
	ID             string       `json:"payment_intent_id"`
	ClientSecret   string       `json:"-"`
	SessionID      string       `json:"session_id"`
	IdempotencyKey string       `json:"idempotency_key"`
	AmountMinor    int64        `json:"amount"`
	Currency       string       `json:"currency"`
	Status         IntentStatus `json:"status"`
	FailureMessage string       `json:"failure_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type IntentRequest struct {
	SessionID      string
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
}

// ConfirmOutcome is the result of the gateway confirmation flow.
type ConfirmOutcome string

const (
	ConfirmSucceeded ConfirmOutcome = "succeeded"
	ConfirmCanceled  ConfirmOutcome = "canceled"
	ConfirmFailed    ConfirmOutcome = "failed"
)

type PaymentState string

const (
	PaymentIdle           PaymentState = "idle"
	PaymentCreatingIntent PaymentState = "creating_intent"
	PaymentConfirming     PaymentState = "confirming"
	PaymentSucceeded      PaymentState = "succeeded"
	PaymentFailed         PaymentState = "failed"
	PaymentCanceled       PaymentState = "canceled"
)

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentIdle:           {PaymentCreatingIntent},
	PaymentCreatingIntent: {PaymentConfirming, PaymentFailed},
	PaymentConfirming:     {PaymentSucceeded, PaymentFailed, PaymentCanceled},
	PaymentSucceeded:      {PaymentIdle},
	PaymentFailed:         {PaymentIdle},
	PaymentCanceled:       {PaymentIdle},
}

func CanTransitionTo(from, to PaymentState) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s PaymentState) IsTerminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed || s == PaymentCanceled
}

// String representation (for logging)
func (s PaymentState) String() string {
	return string(s)
}
