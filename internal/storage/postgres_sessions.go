package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/multibuzz/attribution-engine/internal/models"
)

// PostgresSessionRepo implements SessionRepo using PostgreSQL.
type PostgresSessionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{pool: pool}
}

const sessionColumns = `id, account_id, visitor_id, session_id, started_at, ended_at,
	page_view_count, initial_utm, COALESCE(initial_referrer, ''), COALESCE(channel, ''),
	is_test, created_at, updated_at`

func (r *PostgresSessionRepo) FindActive(ctx context.Context, accountID, sessionID, visitorID string, includeTest bool) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE account_id = $1 AND session_id = $2 AND visitor_id = $3
		  AND ended_at IS NULL AND (is_test = false OR $4)
		ORDER BY started_at DESC
		LIMIT 1
	`, accountID, sessionID, visitorID, includeTest)

	return scanSession(row)
}

func (r *PostgresSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *PostgresSessionRepo) Create(ctx context.Context, s *models.Session) error {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, account_id, visitor_id, session_id, started_at, ended_at,
			page_view_count, initial_utm, initial_referrer, channel, is_test, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13)
	`, s.ID, s.AccountID, s.VisitorID, s.SessionID, s.StartedAt, s.EndedAt,
		s.PageViewCount, s.InitialUTM, s.InitialReferrer, string(s.Channel), s.IsTest, s.CreatedAt, s.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) IncrementPageViews(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET page_view_count = page_view_count + 1, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment page views: %w", err)
	}
	return nil
}

// SetAttribution is a conditional write: the WHERE clause only matches while
// the channel is unset, so under concurrent first-events exactly one write
// wins and later events can never overwrite the captured values.
func (r *PostgresSessionRepo) SetAttribution(ctx context.Context, id string, utm map[string]string, referrer string, ch models.Channel) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET initial_utm = $2, initial_referrer = NULLIF($3, ''), channel = $4, updated_at = now()
		WHERE id = $1 AND channel IS NULL
	`, id, utm, referrer, string(ch))
	if err != nil {
		return false, fmt.Errorf("failed to set session attribution: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresSessionRepo) End(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET ended_at = $2, updated_at = $2 WHERE id = $1 AND ended_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) ListInWindow(ctx context.Context, accountID, visitorID string, from, to time.Time, includeTest bool) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE account_id = $1 AND visitor_id = $2
		  AND channel IS NOT NULL
		  AND started_at >= $3 AND started_at < $4
		  AND (is_test = false OR $5)
		ORDER BY started_at ASC
	`, accountID, visitorID, from, to, includeTest)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PostgresSessionRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Session, error) {
	if len(ids) == 0 {
		return map[string]*models.Session{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.Session, len(ids))
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		s       models.Session
		channel string
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.VisitorID, &s.SessionID, &s.StartedAt, &s.EndedAt,
		&s.PageViewCount, &s.InitialUTM, &s.InitialReferrer, &channel,
		&s.IsTest, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.Channel = models.Channel(channel)
	return &s, nil
}
