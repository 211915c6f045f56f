// Package ledger stores every payment attempt in a local sqlite database.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/scancart/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrIntentNotFound = errors.New("payment intent not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Record inserts intent, or overwrites the attempt with the same idempotency key.
func (r *Repository) Record(ctx context.Context, intent *domain.PaymentIntent) error {
	now := time.Now().UTC()
	created := intent.CreatedAt.UTC()
	if intent.CreatedAt.IsZero() {
		created = now
	}

	query := `
		INSERT INTO payment_intents
			(idempotency_key, intent_id, session_id, amount, currency, status, failure_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			intent_id = excluded.intent_id,
			status = excluded.status,
			failure_message = excluded.failure_message,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		intent.IdempotencyKey,
		intent.ID,
		intent.SessionID,
		intent.AmountMinor,
		intent.Currency,
		string(intent.Status),
		intent.FailureMessage,
		created,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to record payment intent: %w", err)
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, idempotencyKey string, status domain.IntentStatus, failure string) error {
	query := `
		UPDATE payment_intents
		SET status = $1, failure_message = $2, updated_at = $3
		WHERE idempotency_key = $4
	`
	res, err := r.db.ExecContext(ctx, query, string(status), failure, time.Now().UTC(), idempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to update payment intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update payment intent: %w", err)
	}
	if n == 0 {
		return ErrIntentNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, idempotencyKey string) (*domain.PaymentIntent, error) {
	query := `
		SELECT idempotency_key, intent_id, session_id, amount, currency, status, failure_message, created_at, updated_at
		FROM payment_intents
		WHERE idempotency_key = $1
	`
	intent, err := scanIntent(r.db.QueryRowContext(ctx, query, idempotencyKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// ListBySession returns the attempts for sessionID, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]*domain.PaymentIntent, error) {
	query := `
		SELECT idempotency_key, intent_id, session_id, amount, currency, status, failure_message, created_at, updated_at
		FROM payment_intents
		WHERE session_id = $1
		ORDER BY created_at, rowid
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment intents: %w", err)
	}
	defer rows.Close()

	var intents []*domain.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return intents, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIntent(s scanner) (*domain.PaymentIntent, error) {
	var (
		intent domain.PaymentIntent
		status string
	)
	err := s.Scan(
		&intent.IdempotencyKey,
		&intent.ID,
		&intent.SessionID,
		&intent.AmountMinor,
		&intent.Currency,
		&status,
		&intent.FailureMessage,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment intent: %w", err)
	}
	intent.Status = domain.IntentStatus(status)
	return &intent, nil
}
