package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/shopspring/decimal"
)

// PostgresAttributionModelRepo implements AttributionModelRepo using PostgreSQL.
type PostgresAttributionModelRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAttributionModelRepo(pool *pgxpool.Pool) *PostgresAttributionModelRepo {
	return &PostgresAttributionModelRepo{pool: pool}
}

const modelColumns = `id, account_id, name, algorithm, lookback_days, is_active, is_default, created_at, updated_at`

func (r *PostgresAttributionModelRepo) ListActive(ctx context.Context, accountID string) ([]*models.AttributionModel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+modelColumns+`
		FROM attribution_models
		WHERE account_id = $1 AND is_active = true
		ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribution models: %w", err)
	}
	defer rows.Close()

	var out []*models.AttributionModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresAttributionModelRepo) GetByID(ctx context.Context, id string) (*models.AttributionModel, error) {
	m, err := scanModel(r.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM attribution_models WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Save upserts a model. Clearing other defaults and setting this one happen
// in one transaction so the one-default-per-account invariant holds.
func (r *PostgresAttributionModelRepo) Save(ctx context.Context, m *models.AttributionModel) error {
	if err := m.Validate(); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if m.IsDefault {
		if _, err := tx.Exec(ctx, `
			UPDATE attribution_models SET is_default = false, updated_at = now()
			WHERE account_id = $1 AND is_default = true AND id <> $2
		`, m.AccountID, m.ID); err != nil {
			return fmt.Errorf("failed to clear default models: %w", err)
		}
	}

	now := time.Now().UTC()
	m.UpdatedAt = now
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO attribution_models (id, account_id, name, algorithm, lookback_days, is_active, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			algorithm = EXCLUDED.algorithm,
			lookback_days = EXCLUDED.lookback_days,
			is_active = EXCLUDED.is_active,
			is_default = EXCLUDED.is_default,
			updated_at = EXCLUDED.updated_at
	`, m.ID, m.AccountID, m.Name, string(m.Algorithm), m.LookbackDays, m.IsActive, m.IsDefault, m.CreatedAt, m.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to save attribution model: %w", err)
	}

	return tx.Commit(ctx)
}

func scanModel(row pgx.Row) (*models.AttributionModel, error) {
	var (
		m         models.AttributionModel
		algorithm string
	)
	err := row.Scan(&m.ID, &m.AccountID, &m.Name, &algorithm, &m.LookbackDays, &m.IsActive, &m.IsDefault, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan attribution model: %w", err)
	}
	m.Algorithm = models.Algorithm(algorithm)
	return &m, nil
}

// PostgresCreditRepo implements CreditRepo using PostgreSQL.
type PostgresCreditRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCreditRepo(pool *pgxpool.Pool) *PostgresCreditRepo {
	return &PostgresCreditRepo{pool: pool}
}

func (r *PostgresCreditRepo) Replace(ctx context.Context, conversionID, modelID string, credits []*models.AttributionCredit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM attribution_credits WHERE conversion_id = $1 AND attribution_model_id = $2
	`, conversionID, modelID); err != nil {
		return fmt.Errorf("failed to delete prior credits: %w", err)
	}

	for _, c := range credits {
		var revenueCredit *string
		if c.RevenueCredit != nil {
			s := c.RevenueCredit.StringFixed(2)
			revenueCredit = &s
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO attribution_credits (id, account_id, conversion_id, attribution_model_id, session_id,
				channel, credit, revenue_credit, utm_source, utm_medium, utm_campaign, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), now())
		`, c.ID, c.AccountID, c.ConversionID, c.AttributionModelID, c.SessionID,
			string(c.Channel), c.Credit, revenueCredit, c.UTMSource, c.UTMMedium, c.UTMCampaign); err != nil {
			return fmt.Errorf("failed to insert credit: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresCreditRepo) ListByConversion(ctx context.Context, conversionID string) ([]*models.AttributionCredit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, conversion_id, attribution_model_id, session_id, channel, credit,
			revenue_credit, COALESCE(utm_source, ''), COALESCE(utm_medium, ''), COALESCE(utm_campaign, ''), created_at
		FROM attribution_credits
		WHERE conversion_id = $1
		ORDER BY created_at ASC
	`, conversionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	defer rows.Close()

	var out []*models.AttributionCredit
	for rows.Next() {
		var (
			c       models.AttributionCredit
			channel string
			revenue *string
		)
		if err := rows.Scan(&c.ID, &c.AccountID, &c.ConversionID, &c.AttributionModelID, &c.SessionID,
			&channel, &c.Credit, &revenue, &c.UTMSource, &c.UTMMedium, &c.UTMCampaign, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		c.Channel = models.Channel(channel)
		if revenue != nil {
			d, err := decimal.NewFromString(*revenue)
			if err != nil {
				return nil, fmt.Errorf("failed to parse revenue credit: %w", err)
			}
			c.RevenueCredit = &d
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// PostgresAPIKeyRepo implements APIKeyRepo using PostgreSQL.
type PostgresAPIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAPIKeyRepo(pool *pgxpool.Pool) *PostgresAPIKeyRepo {
	return &PostgresAPIKeyRepo{pool: pool}
}

func (r *PostgresAPIKeyRepo) FindByKey(ctx context.Context, key string) (*models.APIKey, error) {
	var k models.APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, key, environment, revoked_at
		FROM api_keys WHERE key = $1 AND revoked_at IS NULL
	`, key).Scan(&k.ID, &k.AccountID, &k.Key, &k.Environment, &k.RevokedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}
