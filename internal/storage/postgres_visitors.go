package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/multibuzz/attribution-engine/internal/models"
)

const uniqueViolation = "23505"

// PostgresVisitorRepo implements VisitorRepo using PostgreSQL.
type PostgresVisitorRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresVisitorRepo(pool *pgxpool.Pool) *PostgresVisitorRepo {
	return &PostgresVisitorRepo{pool: pool}
}

func (r *PostgresVisitorRepo) FindByVisitorID(ctx context.Context, accountID, visitorID string, includeTest bool) (*models.Visitor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, visitor_id, COALESCE(identity_id, ''), first_seen_at, last_seen_at, traits, is_test, created_at, updated_at
		FROM visitors
		WHERE account_id = $1 AND visitor_id = $2 AND (is_test = false OR $3)
	`, accountID, visitorID, includeTest)

	return scanVisitor(row)
}

func (r *PostgresVisitorRepo) GetByID(ctx context.Context, id string) (*models.Visitor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, visitor_id, COALESCE(identity_id, ''), first_seen_at, last_seen_at, traits, is_test, created_at, updated_at
		FROM visitors WHERE id = $1
	`, id)

	return scanVisitor(row)
}

func (r *PostgresVisitorRepo) Create(ctx context.Context, v *models.Visitor) error {
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO visitors (id, account_id, visitor_id, first_seen_at, last_seen_at, traits, is_test, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, v.ID, v.AccountID, v.VisitorID, v.FirstSeenAt, v.LastSeenAt, v.Traits, v.IsTest, v.CreatedAt, v.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create visitor: %w", err)
	}
	return nil
}

func (r *PostgresVisitorRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	// Backdated events must not move last_seen_at backwards.
	_, err := r.pool.Exec(ctx, `
		UPDATE visitors SET last_seen_at = GREATEST(last_seen_at, $2), updated_at = now() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch visitor: %w", err)
	}
	return nil
}

func (r *PostgresVisitorRepo) LinkIdentity(ctx context.Context, id, identityID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE visitors SET identity_id = $2, updated_at = now() WHERE id = $1
	`, id, identityID)
	if err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	return nil
}

func scanVisitor(row pgx.Row) (*models.Visitor, error) {
	var v models.Visitor
	err := row.Scan(&v.ID, &v.AccountID, &v.VisitorID, &v.IdentityID,
		&v.FirstSeenAt, &v.LastSeenAt, &v.Traits, &v.IsTest, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan visitor: %w", err)
	}
	return &v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresIdentityRepo implements IdentityRepo using PostgreSQL.
type PostgresIdentityRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresIdentityRepo(pool *pgxpool.Pool) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{pool: pool}
}

func (r *PostgresIdentityRepo) FindByExternalID(ctx context.Context, accountID, externalID string, includeTest bool) (*models.Identity, error) {
	var i models.Identity
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, external_id, traits, first_identified_at, last_identified_at, is_test
		FROM identities
		WHERE account_id = $1 AND external_id = $2 AND (is_test = false OR $3)
	`, accountID, externalID, includeTest).
		Scan(&i.ID, &i.AccountID, &i.ExternalID, &i.Traits, &i.FirstIdentifiedAt, &i.LastIdentifiedAt, &i.IsTest)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &i, nil
}

func (r *PostgresIdentityRepo) Create(ctx context.Context, i *models.Identity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (id, account_id, external_id, traits, first_identified_at, last_identified_at, is_test)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, i.ID, i.AccountID, i.ExternalID, i.Traits, i.FirstIdentifiedAt, i.LastIdentifiedAt, i.IsTest)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

func (r *PostgresIdentityRepo) Update(ctx context.Context, i *models.Identity) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE identities SET traits = $2, last_identified_at = $3 WHERE id = $1
	`, i.ID, i.Traits, i.LastIdentifiedAt)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return nil
}
