// Package uploader ships captured frames to the backend without ever blocking
// the capture loop. When every upload slot is busy the new frame is dropped.
package uploader

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/scancart/internal/domain"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 2 * time.Second
)

type FrameClient interface {
	UploadFrame(ctx context.Context, sessionID string, frame domain.Frame) error
}

type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

type Uploader struct {
	client  FrameClient
	sem     *semaphore.Weighted
	timeout time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func New(client FrameClient, concurrency int64, timeout time.Duration) *Uploader {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Uploader{
		client:  client,
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
	}
}

// Send starts an upload in the background and returns immediately.
func (u *Uploader) Send(sessionID string, frame domain.Frame) {
	if u.closed.Load() || sessionID == "" {
		u.dropped.Add(1)
		return
	}
	if !u.sem.TryAcquire(1) {
		u.dropped.Add(1)
		return
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer u.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
		defer cancel()

		if err := u.client.UploadFrame(ctx, sessionID, frame); err != nil {
			u.failed.Add(1)
			log.Printf("frame upload failed for session %s (trace %s): %v", sessionID, frame.TraceID, err)
			return
		}
		u.sent.Add(1)
	}()
}

func (u *Uploader) Stats() Stats {
	return Stats{
		Sent:    u.sent.Load(),
		Failed:  u.failed.Load(),
		Dropped: u.dropped.Load(),
	}
}

// Close rejects new frames and waits for in-flight uploads or ctx.
func (u *Uploader) Close(ctx context.Context) error {
	u.closed.Store(true)

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
