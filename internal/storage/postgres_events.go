package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/shopspring/decimal"
)

// PostgresEventRepo implements EventRepo using PostgreSQL.
type PostgresEventRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresEventRepo(pool *pgxpool.Pool) *PostgresEventRepo {
	return &PostgresEventRepo{pool: pool}
}

func (r *PostgresEventRepo) Create(ctx context.Context, e *models.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, account_id, visitor_id, session_id, event_type, occurred_at, properties, is_test, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, e.ID, e.AccountID, e.VisitorID, e.SessionID, e.EventType, e.OccurredAt, e.Properties, e.IsTest)

	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *PostgresEventRepo) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, visitor_id, session_id, event_type, occurred_at, properties, is_test, created_at
		FROM events WHERE id = $1
	`, id).Scan(&e.ID, &e.AccountID, &e.VisitorID, &e.SessionID, &e.EventType, &e.OccurredAt, &e.Properties, &e.IsTest, &e.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

// PostgresConversionRepo implements ConversionRepo using PostgreSQL.
type PostgresConversionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresConversionRepo(pool *pgxpool.Pool) *PostgresConversionRepo {
	return &PostgresConversionRepo{pool: pool}
}

func (r *PostgresConversionRepo) Create(ctx context.Context, c *models.Conversion) error {
	var revenue *string
	if c.Revenue != nil {
		s := c.Revenue.StringFixed(2)
		revenue = &s
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversions (id, account_id, visitor_id, session_id, event_id, conversion_type, revenue, converted_at, properties, is_test, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, now())
	`, c.ID, c.AccountID, c.VisitorID, c.SessionID, c.EventID, c.ConversionType, revenue, c.ConvertedAt, c.Properties, c.IsTest)

	if err != nil {
		return fmt.Errorf("failed to create conversion: %w", err)
	}
	return nil
}

func (r *PostgresConversionRepo) GetByID(ctx context.Context, id string) (*models.Conversion, error) {
	var (
		c         models.Conversion
		sessionID *string
		eventID   *string
		revenue   *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, visitor_id, session_id, event_id, conversion_type, revenue, converted_at, properties, is_test, created_at
		FROM conversions WHERE id = $1
	`, id).Scan(&c.ID, &c.AccountID, &c.VisitorID, &sessionID, &eventID, &c.ConversionType, &revenue, &c.ConvertedAt, &c.Properties, &c.IsTest, &c.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}

	if sessionID != nil {
		c.SessionID = *sessionID
	}
	if eventID != nil {
		c.EventID = *eventID
	}
	if revenue != nil {
		d, err := decimal.NewFromString(*revenue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse conversion revenue: %w", err)
		}
		c.Revenue = &d
	}
	return &c, nil
}
