package domain

import "time"

type SessionState string

const (
	SessionUnpaired   SessionState = "unpaired"
	SessionPaired     SessionState = "paired"
	SessionActive     SessionState = "active"
	SessionCheckedOut SessionState = "checked_out"
)

// Session is one pairing-to-checkout interaction. ID never changes once assigned.
type Session struct {
	ID             string       `json:"session_id"`
	CartID         string       `json:"cart_id,omitempty"`
	State          SessionState `json:"state"`
	PairingPayload string       `json:"pairing_payload,omitempty"`
	TokenExpiresAt time.Time    `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

var sessionTransitions = map[SessionState][]SessionState{
	SessionUnpaired: {SessionPaired},
	SessionPaired:   {SessionActive, SessionCheckedOut},
	SessionActive:   {SessionCheckedOut},
}

// CanTransitionTo reports whether a session may move from s to next.
// Re-entering checked_out is allowed so finalize stays idempotent.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	if s == SessionCheckedOut && next == SessionCheckedOut {
		return true
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SessionState) String() string {
	return string(s)
}

// PairingTicket is what the kiosk side displays after creating a session.
type PairingTicket struct {
	SessionID      string    `json:"session_id"`
	CartID         string    `json:"cart_id,omitempty"`
	Token          string    `json:"pairing_token"`
	Payload        string    `json:"pairing_payload"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// PairingStatus is the backend's view of whether a phone has claimed a session.
type PairingStatus struct {
	SessionID  string    `json:"session_id"`
	Paired     bool      `json:"is_paired"`
	TokenValid bool      `json:"token_valid"`
	PairedAt   time.Time `json:"paired_at,omitempty"`
	PhoneID    string    `json:"phone_id,omitempty"`
}
