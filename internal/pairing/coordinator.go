// Package pairing binds a capture-side context to a session through an exchanged code.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fjod/scancart/internal/domain"
)

// DefaultCooldown is how long a successfully claimed code stays blocked.
const DefaultCooldown = 5 * time.Second

// Backend is the remote side of pairing.
type Backend interface {
	CreateSession(ctx context.Context) (*domain.PairingTicket, error)
	PairingPayload(ctx context.Context, sessionID string) (string, error)
	Pair(ctx context.Context, code, deviceID string) (string, error)
}

// claimSlot is the single dedup slot. Expiry is evaluated lazily on the next scan.
type claimSlot struct {
	state      domain.ClaimState
	code       string
	lastPaired string
	claimedAt  time.Time
	releaseAt  time.Time
}

type Coordinator struct {
	backend  Backend
	deviceID string
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	slot claimSlot
}

func NewCoordinator(backend Backend, deviceID string, cooldown time.Duration) *Coordinator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Coordinator{
		backend:  backend,
		deviceID: deviceID,
		cooldown: cooldown,
		now:      time.Now,
		slot:     claimSlot{state: domain.ClaimIdle},
	}
}

// CreateSession allocates a session and fetches its pairing payload for display.
func (c *Coordinator) CreateSession(ctx context.Context) (*domain.PairingTicket, error) {
	ticket, err := c.backend.CreateSession(ctx)
	if err != nil {
		return nil, unavailable("create session", err)
	}

	payload, err := c.backend.PairingPayload(ctx, ticket.SessionID)
	if err != nil {
		return nil, unavailable("fetch pairing payload", err)
	}
	ticket.Payload = payload

	log.Printf("session %s created, awaiting pairing", ticket.SessionID)
	return ticket, nil
}

// SubmitScan consumes a scanned pairing code. Scans arriving while a claim is in
// flight, or repeating the last paired code inside its cooldown, are dropped with
// no network call and no error.
func (c *Coordinator) SubmitScan(ctx context.Context, code string) (domain.ScanClaim, error) {
	now := c.now()
	if !c.tryClaim(code, now) {
		return domain.ScanClaim{Code: code, Outcome: domain.ScanDropped, ClaimedAt: now}, nil
	}

	sessionID, err := c.backend.Pair(ctx, code, c.deviceID)
	if err != nil {
		c.release()
		log.Printf("pairing code claim failed: %v", err)
		return domain.ScanClaim{Code: code, Outcome: domain.ScanFailed, ClaimedAt: now}, classify(err)
	}

	c.markPaired(code)
	log.Printf("pairing code claimed for session %s", sessionID)
	return domain.ScanClaim{Code: code, Outcome: domain.ScanPaired, SessionID: sessionID, ClaimedAt: now}, nil
}

// State reports the slot state with cooldown decay applied.
func (c *Coordinator) State() domain.ClaimState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decay(c.now())
	return c.slot.state
}

func (c *Coordinator) tryClaim(code string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decay(now)
	if c.slot.state == domain.ClaimClaiming {
		return false
	}
	if c.slot.state == domain.ClaimPaired && code == c.slot.lastPaired {
		return false
	}

	c.slot.state = domain.ClaimClaiming
	c.slot.code = code
	c.slot.claimedAt = now
	return true
}

func (c *Coordinator) markPaired(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot.state = domain.ClaimPaired
	c.slot.lastPaired = code
	c.slot.releaseAt = c.now().Add(c.cooldown)
}

// release frees the slot immediately after a failed claim. A cooldown still held by
// an earlier successful code survives the failure.
func (c *Coordinator) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot.code = ""
	if c.slot.lastPaired != "" && c.now().Before(c.slot.releaseAt) {
		c.slot.state = domain.ClaimPaired
		return
	}
	c.slot.state = domain.ClaimIdle
	c.slot.lastPaired = ""
}

func (c *Coordinator) decay(now time.Time) {
	if c.slot.state == domain.ClaimPaired && !now.Before(c.slot.releaseAt) {
		c.slot.state = domain.ClaimIdle
		c.slot.lastPaired = ""
		c.slot.code = ""
	}
}

func classify(err error) error {
	if errors.Is(err, domain.ErrPairingConflict) || errors.Is(err, domain.ErrServiceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
}

func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrServiceUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrServiceUnavailable, err)
}
