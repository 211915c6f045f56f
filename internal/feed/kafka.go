package feed

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/segmentio/kafka-go"
)

// KafkaFeed consumes one snapshot topic and dispatches each message to the
// subscribers of its key (the session id).
type KafkaFeed struct {
	reader *kafka.Reader

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func NewKafkaFeed(topic, groupID string, brokers ...string) *KafkaFeed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newKafkaFeed(reader)
}

func newKafkaFeed(reader *kafka.Reader) *KafkaFeed {
	return &KafkaFeed{
		reader: reader,
		subs:   make(map[string]map[uint64]Handler),
	}
}

func (f *KafkaFeed) Subscribe(_ context.Context, sessionID string, handler Handler) (func(), error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.subs[sessionID] == nil {
		f.subs[sessionID] = make(map[uint64]Handler)
	}
	f.subs[sessionID][id] = handler
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[sessionID], id)
			if len(f.subs[sessionID]) == 0 {
				delete(f.subs, sessionID)
			}
		})
	}, nil
}

// Run reads until ctx is done. Handlers run on this goroutine.
func (f *KafkaFeed) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("error reading cart snapshot message: %v", err)
			continue
		}
		f.dispatch(m)
	}
}

func (f *KafkaFeed) Close() {
	if err := f.reader.Close(); err != nil {
		log.Printf("error closing kafka reader: %v", err)
	}
}

func (f *KafkaFeed) dispatch(m kafka.Message) {
	sessionID := string(m.Key)
	if sessionID == "" {
		log.Printf("cart snapshot message without key at offset %d", m.Offset)
		return
	}

	f.mu.RLock()
	handlers := make([]Handler, 0, len(f.subs[sessionID]))
	for _, h := range f.subs[sessionID] {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	snap, err := decodeSnapshot(m.Value, sessionID)
	if err != nil {
		log.Printf("dropping cart snapshot for session %s: %v", sessionID, err)
		return
	}
	for _, h := range handlers {
		h(snap)
	}
}
