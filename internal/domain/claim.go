package domain

import "time"

type ClaimState string

const (
	ClaimIdle     ClaimState = "idle"
	ClaimClaiming ClaimState = "claiming"
	ClaimPaired   ClaimState = "paired"
	ClaimFailed   ClaimState = "failed"
)

type ScanOutcome string

const (
	ScanDropped ScanOutcome = "dropped"
	ScanPaired  ScanOutcome = "paired"
	ScanFailed  ScanOutcome = "failed"
)

// ScanClaim is the dedup record for a pairing attempt.
type ScanClaim struct {
	Code      string      `json:"code"`
	Outcome   ScanOutcome `json:"outcome"`
	SessionID string      `json:"session_id,omitempty"`
	ClaimedAt time.Time   `json:"claimed_at"`
}
