package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/scancart/internal/backend"
	"github.com/fjod/scancart/internal/capture"
	"github.com/fjod/scancart/internal/config"
	"github.com/fjod/scancart/internal/feed"
	"github.com/fjod/scancart/internal/feedback"
	h "github.com/fjod/scancart/internal/http"
	"github.com/fjod/scancart/internal/ledger"
	"github.com/fjod/scancart/internal/pairing"
	"github.com/fjod/scancart/internal/payment"
	"github.com/fjod/scancart/internal/reconcile"
	"github.com/fjod/scancart/internal/session"
	"github.com/fjod/scancart/internal/uploader"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}

	root, stop := context.WithCancel(context.Background())
	defer stop()

	cartFeed, closeFeed, err := openFeed(root, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s cart feed: %v", cfg.FeedDriver, err)
	}
	defer closeFeed()

	repo, err := ledger.NewRepository(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("Failed to open payment ledger: %v", err)
	}
	defer repo.Close()
	if err := repo.RunMigrations(); err != nil {
		log.Fatalf("Failed to migrate payment ledger: %v", err)
	}

	hub := h.NewHub()

	backendClient := backend.NewClient(cfg.BackendURL, nil)
	gateway := backend.NewGateway(cfg.GatewayURL, nil, time.Second)
	gateway.SetPaymentMethodWait(cfg.PaymentMethodWait)

	frames := uploader.New(backendClient, cfg.UploadConcurrency, cfg.UploadTimeout)
	camera := capture.NewHTTPSnapshotDevice(cfg.CameraSnapshotURL, nil)
	scheduler := capture.NewScheduler(camera, frames, cfg.CaptureFPS, func(sessionID string, err error) {
		log.Printf("capture error for session %s: %v", sessionID, err)
		hub.CaptureError(sessionID, err)
	})

	engine := reconcile.NewEngine(cartFeed, feedback.Multi{feedback.LogEmitter{}, hub}, cfg.TaxRate)
	coordinator := pairing.NewCoordinator(backendClient, cfg.DeviceID, cfg.PairingCooldown)

	orchestrator := payment.NewOrchestrator(gateway, backendClient, scheduler, repo, payment.Config{
		TaxRate:  cfg.TaxRate,
		Currency: cfg.Currency,
		Timeout:  cfg.PaymentTimeout,
	})
	orchestrator.OnStateChange(hub.PaymentStateChanged)

	manager := session.NewManager(root, session.Deps{
		Pairing:      coordinator,
		Capture:      scheduler,
		Engine:       engine,
		Payer:        orchestrator,
		Hinter:       backendClient,
		Status:       backendClient,
		Inventory:    backendClient,
		TaxRate:      cfg.TaxRate,
		PollInterval: cfg.PairingPollInterval,
	})
	manager.AddListener(hub)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(h.NewHandler(manager), hub, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.PaymentTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("scancart device %s starting on :%s (feed: %s)", cfg.DeviceID, cfg.HTTPPort, cfg.FeedDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	manager.Teardown()
	scheduler.Stop()
	_ = camera.Close()
	if err := frames.Close(ctx); err != nil {
		log.Printf("pending frame uploads abandoned: %v", err)
	}
	stop()

	log.Println("scancart exited")
}

// openFeed connects the configured push-subscription store.
func openFeed(ctx context.Context, cfg *config.Config) (feed.Feed, func(), error) {
	switch cfg.FeedDriver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return feed.NewRedisFeed(client), func() { _ = client.Close() }, nil

	case "kafka":
		kf := feed.NewKafkaFeed(cfg.KafkaTopic, "scancart-"+cfg.DeviceID, cfg.KafkaBrokers...)
		go kf.Run(ctx)
		return kf, kf.Close, nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		db, err := feed.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		return feed.NewMongoFeed(db), func() {
			if err := db.Client().Disconnect(context.Background()); err != nil {
				log.Printf("error disconnecting from MongoDB: %v", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown feed driver %q", cfg.FeedDriver)
	}
}
