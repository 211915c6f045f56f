package uploader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/scancart/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFrameClient struct {
	mu       sync.Mutex
	sessions []string
	block    chan struct{}
	err      error
	calls    atomic.Int32
}

func (m *mockFrameClient) UploadFrame(ctx context.Context, sessionID string, frame domain.Frame) error {
	m.calls.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	m.sessions = append(m.sessions, sessionID)
	m.mu.Unlock()
	return m.err
}

func TestUploader_SendsInBackground(t *testing.T) {
	client := &mockFrameClient{}
	u := New(client, 2, time.Second)

	u.Send("s1", domain.Frame{Data: []byte{1}})
	u.Send("s1", domain.Frame{Data: []byte{2}})
	require.NoError(t, u.Close(context.Background()))

	assert.Equal(t, uint64(2), u.Stats().Sent)
	assert.Equal(t, []string{"s1", "s1"}, client.sessions)
}

func TestUploader_DropsWhenSaturated(t *testing.T) {
	client := &mockFrameClient{block: make(chan struct{})}
	u := New(client, 2, time.Second)

	for i := 0; i < 5; i++ {
		u.Send("s1", domain.Frame{Data: []byte{byte(i)}})
	}

	assert.Equal(t, uint64(3), u.Stats().Dropped)
	close(client.block)
	require.NoError(t, u.Close(context.Background()))
	assert.Equal(t, uint64(2), u.Stats().Sent)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestUploader_SendDoesNotBlock(t *testing.T) {
	client := &mockFrameClient{block: make(chan struct{})}
	defer close(client.block)
	u := New(client, 1, time.Second)

	start := time.Now()
	for i := 0; i < 100; i++ {
		u.Send("s1", domain.Frame{})
	}

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestUploader_FailuresAreCountedNotSurfaced(t *testing.T) {
	client := &mockFrameClient{err: errors.New("boom")}
	u := New(client, 1, time.Second)

	u.Send("s1", domain.Frame{})
	require.NoError(t, u.Close(context.Background()))

	assert.Equal(t, uint64(1), u.Stats().Failed)
	assert.Equal(t, uint64(0), u.Stats().Sent)
}

func TestUploader_TimeoutFreesSlot(t *testing.T) {
	client := &mockFrameClient{block: make(chan struct{})}
	defer close(client.block)
	u := New(client, 1, 20*time.Millisecond)

	u.Send("s1", domain.Frame{})
	require.Eventually(t, func() bool {
		if !u.sem.TryAcquire(1) {
			return false
		}
		u.sem.Release(1)
		return true
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), u.Stats().Failed)

	u.Send("s1", domain.Frame{})
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestUploader_ClosedDropsNewFrames(t *testing.T) {
	client := &mockFrameClient{}
	u := New(client, 1, time.Second)
	require.NoError(t, u.Close(context.Background()))

	u.Send("s1", domain.Frame{})

	assert.Equal(t, uint64(1), u.Stats().Dropped)
	assert.Equal(t, int32(0), client.calls.Load())
}
