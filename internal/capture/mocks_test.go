package capture

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fjod/scancart/internal/domain"
)

type mockDevice struct {
	ready   atomic.Bool
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	capture func(ctx context.Context, n int32) (domain.Frame, error)
}

func newMockDevice(capture func(ctx context.Context, n int32) (domain.Frame, error)) *mockDevice {
	d := &mockDevice{capture: capture}
	d.ready.Store(true)
	return d
}

func (d *mockDevice) Ready() bool {
	return d.ready.Load()
}

func (d *mockDevice) Capture(ctx context.Context) (domain.Frame, error) {
	n := d.calls.Add(1)
	cur := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		seen := d.maxSeen.Load()
		if cur <= seen || d.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	if d.capture == nil {
		return domain.Frame{Data: []byte{byte(n)}}, nil
	}
	return d.capture(ctx, n)
}

type mockSender struct {
	mu     sync.Mutex
	frames []domain.Frame
	ids    []string
}

func (s *mockSender) Send(sessionID string, frame domain.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	s.ids = append(s.ids, sessionID)
}

func (s *mockSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *mockSender) sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) handle(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
