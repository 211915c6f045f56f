// Package capture drives the camera at a target rate for one active session.
//
// Single-flight: at most one Device.Capture call is outstanding at any time.
// Cancellation: every Start bumps a generation token; ticks belonging to an older
// generation exit without capturing, including ticks already pending at Stop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/scancart/internal/domain"
)

const DefaultFPS = 12

// Device is the camera capability the scheduler drives.
type Device interface {
	Ready() bool
	Capture(ctx context.Context) (domain.Frame, error)
}

// FrameSender receives captured frames. Send must not block.
type FrameSender interface {
	Send(sessionID string, frame domain.Frame)
}

// ErrorHandler is told about transient capture failures and fatal permission errors.
type ErrorHandler func(sessionID string, err error)

type Stats struct {
	Captures        uint64
	TransientErrors uint64
	SkippedTicks    uint64
}

type Scheduler struct {
	device   Device
	sender   FrameSender
	interval time.Duration
	onError  ErrorHandler

	mu        sync.Mutex
	gen       uint64
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	inFlight atomic.Bool

	captures        atomic.Uint64
	transientErrors atomic.Uint64
	skippedTicks    atomic.Uint64
}

func NewScheduler(device Device, sender FrameSender, fps float64, onError ErrorHandler) *Scheduler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if onError == nil {
		onError = func(sessionID string, err error) {
			log.Printf("capture error for session %s: %v", sessionID, err)
		}
	}
	return &Scheduler{
		device:   device,
		sender:   sender,
		interval: time.Duration(float64(time.Second) / fps),
		onError:  onError,
	}
}

// Start begins capturing for sessionID. A running loop for another session is
// stopped first; starting the same session twice is a no-op.
func (s *Scheduler) Start(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("start capture: %w", domain.ErrSessionMissing)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == sessionID && s.cancel != nil {
		return nil
	}
	s.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	s.gen++
	s.sessionID = sessionID
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx, s.gen, sessionID, s.done)
	log.Printf("capture started for session %s at %v interval", sessionID, s.interval)
	return nil
}

// Stop prevents any further capture from beginning. It does not wait for a
// capture already inside the device; that frame is discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// StopSession stops the loop only if it is running for sessionID.
func (s *Scheduler) StopSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == sessionID {
		s.stopLocked()
	}
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.gen++
	s.cancel()
	log.Printf("capture stopped for session %s", s.sessionID)
	s.cancel = nil
	s.sessionID = ""
}

// Running reports whether a loop is active and the session it serves.
func (s *Scheduler) Running() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID, s.cancel != nil
}

// Done returns a channel closed when the current loop goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Captures:        s.captures.Load(),
		TransientErrors: s.transientErrors.Load(),
		SkippedTicks:    s.skippedTicks.Load(),
	}
}

func (s *Scheduler) alive(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.cancel != nil
}

// stopFromLoop ends the loop for gen without touching a newer generation.
func (s *Scheduler) stopFromLoop(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.stopLocked()
	}
}

func (s *Scheduler) run(ctx context.Context, gen uint64, sessionID string, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !s.alive(gen) {
			return
		}

		next := time.Now().Add(s.interval)
		if !s.tick(ctx, gen, sessionID) {
			s.stopFromLoop(gen)
			return
		}
		timer.Reset(max(time.Until(next), 0))
	}
}

// tick performs one scheduling decision. It returns false when the loop must end.
func (s *Scheduler) tick(ctx context.Context, gen uint64, sessionID string) bool {
	if !s.device.Ready() || !s.inFlight.CompareAndSwap(false, true) {
		s.skippedTicks.Add(1)
		return true
	}
	if !s.alive(gen) {
		s.inFlight.Store(false)
		return false
	}

	frame, err := s.device.Capture(ctx)
	s.inFlight.Store(false)

	if !s.alive(gen) {
		return false
	}

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDeviceTeardown), errors.Is(err, context.Canceled):
			return false
		case errors.Is(err, domain.ErrPermissionDenied):
			s.onError(sessionID, err)
			return false
		default:
			s.transientErrors.Add(1)
			s.onError(sessionID, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err))
			return true
		}
	}

	s.captures.Add(1)
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}
	s.sender.Send(sessionID, frame)
	return true
}
