package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/fjod/scancart/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisFeed reads the current snapshot from cart:{session} and follows changes
// published on cart-updates:{session}.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func (f *RedisFeed) Current(ctx context.Context, sessionID string) (*domain.RemoteCartSnapshot, error) {
	data, err := f.client.Get(ctx, snapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	snap, err := decodeSnapshot(data, sessionID)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, sessionID string, handler Handler) (func(), error) {
	sub := f.client.Subscribe(ctx, updatesChannel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	current, err := f.Current(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		_ = sub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := sub.Channel()
	go func() {
		if current != nil {
			handler(*current)
		}
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				snap, err := decodeSnapshot([]byte(msg.Payload), sessionID)
				if err != nil {
					log.Printf("dropping cart update for session %s: %v", sessionID, err)
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				handler(snap)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := sub.Close(); err != nil {
				log.Printf("error closing redis subscription for session %s: %v", sessionID, err)
			}
		})
	}, nil
}

// PublishSnapshot stores snap as the current state and notifies subscribers.
func (f *RedisFeed) PublishSnapshot(ctx context.Context, snap domain.RemoteCartSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}

	pipe := f.client.Pipeline()
	pipe.Set(ctx, snapshotKey(snap.SessionID), payload, 0)
	pipe.Publish(ctx, updatesChannel(snap.SessionID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Delete removes the stored snapshot.
func (f *RedisFeed) Delete(ctx context.Context, sessionID string) error {
	if err := f.client.Del(ctx, snapshotKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func decodeSnapshot(data []byte, sessionID string) (domain.RemoteCartSnapshot, error) {
	var snap domain.RemoteCartSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot failed: %w", err)
	}
	if snap.SessionID == "" {
		snap.SessionID = sessionID
	}
	return snap, nil
}

func snapshotKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

func updatesChannel(sessionID string) string {
	return fmt.Sprintf("cart-updates:%s", sessionID)
}
