package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fjod/scancart/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const inventoryCollection = "inventory"

// inventoryDoc is the backend's per-session cart document.
type inventoryDoc struct {
	SessionID string          `bson:"session_id"`
	Items     []inventoryItem `bson:"items"`
	Total     float64         `bson:"total"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

type inventoryItem struct {
	Barcode string  `bson:"barcode"`
	Name    string  `bson:"name"`
	Qty     *int    `bson:"qty,omitempty"`
	Price   float64 `bson:"price"`
}

func (d inventoryDoc) snapshot() domain.RemoteCartSnapshot {
	items := make([]domain.RemoteCartItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.RemoteCartItem{
			ProductID: it.Barcode,
			Name:      it.Name,
			UnitPrice: it.Price,
			Quantity:  it.Qty,
		})
	}
	return domain.RemoteCartSnapshot{
		SessionID: d.SessionID,
		Items:     items,
		Total:     d.Total,
		UpdatedAt: d.UpdatedAt,
	}
}

type changeEvent struct {
	FullDocument *inventoryDoc `bson:"fullDocument"`
}

// MongoFeed follows the inventory collection through a change stream. It needs
// a replica set.
type MongoFeed struct {
	coll *mongo.Collection
}

func NewMongoFeed(db *mongo.Database) *MongoFeed {
	return &MongoFeed{coll: db.Collection(inventoryCollection)}
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

func (f *MongoFeed) Current(ctx context.Context, sessionID string) (*domain.RemoteCartSnapshot, error) {
	var doc inventoryDoc
	err := f.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find inventory: %w", err)
	}
	snap := doc.snapshot()
	return &snap, nil
}

func (f *MongoFeed) Subscribe(ctx context.Context, sessionID string, handler Handler) (func(), error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"fullDocument.session_id": sessionID,
			"operationType":           bson.M{"$in": bson.A{"insert", "update", "replace"}},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := f.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to watch inventory: %w", err)
	}

	current, err := f.Current(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		_ = stream.Close(context.Background())
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer stream.Close(context.Background())

		if current != nil {
			handler(*current)
		}
		for stream.Next(subCtx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				log.Printf("dropping inventory change for session %s: %v", sessionID, err)
				continue
			}
			if ev.FullDocument == nil {
				continue
			}
			handler(ev.FullDocument.snapshot())
		}
		if err := stream.Err(); err != nil && subCtx.Err() == nil {
			log.Printf("inventory change stream for session %s ended: %v", sessionID, err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}, nil
}
