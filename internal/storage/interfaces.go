package storage

import (
	"context"
	"errors"
	"time"

	"github.com/multibuzz/attribution-engine/internal/models"
)

// ErrDuplicate is returned when an insert loses a race against a unique
// constraint. Callers recover by re-running the lookup (idempotent upsert).
var ErrDuplicate = errors.New("storage: duplicate row")

// Lookups return (nil, nil) when no row matches, following the repository
// convention used throughout this package.

// =============================================
// VISITOR REPOSITORY
// =============================================

// VisitorRepo defines operations for visitor storage.
type VisitorRepo interface {
	FindByVisitorID(ctx context.Context, accountID, visitorID string, includeTest bool) (*models.Visitor, error)
	GetByID(ctx context.Context, id string) (*models.Visitor, error)
	Create(ctx context.Context, v *models.Visitor) error
	// TouchLastSeen advances last_seen_at; an at older than the stored
	// value is a no-op, so backdated events cannot rewind it.
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	LinkIdentity(ctx context.Context, id, identityID string) error
}

// =============================================
// IDENTITY REPOSITORY
// =============================================

// IdentityRepo defines operations for identity storage.
type IdentityRepo interface {
	FindByExternalID(ctx context.Context, accountID, externalID string, includeTest bool) (*models.Identity, error)
	Create(ctx context.Context, i *models.Identity) error
	Update(ctx context.Context, i *models.Identity) error
}

// =============================================
// SESSION REPOSITORY
// =============================================

// SessionRepo defines operations for session storage.
type SessionRepo interface {
	// FindActive returns the visitor's active (not ended) session with the
	// given external session id.
	FindActive(ctx context.Context, accountID, sessionID, visitorID string, includeTest bool) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Create(ctx context.Context, s *models.Session) error
	IncrementPageViews(ctx context.Context, id string) error

	// SetAttribution populates the write-once attribution fields. It only
	// writes when the channel is still unset and reports whether this call
	// won the write.
	SetAttribution(ctx context.Context, id string, utm map[string]string, referrer string, ch models.Channel) (bool, error)

	End(ctx context.Context, id string, at time.Time) error

	// ListInWindow returns the visitor's sessions with a non-null channel
	// and started_at in [from, to), ordered by started_at ascending.
	ListInWindow(ctx context.Context, accountID, visitorID string, from, to time.Time, includeTest bool) ([]*models.Session, error)

	// GetByIDs bulk-fetches sessions keyed by row id.
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Session, error)
}

// =============================================
// EVENT REPOSITORY
// =============================================

// EventRepo defines operations for event storage.
type EventRepo interface {
	Create(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
}

// =============================================
// CONVERSION REPOSITORY
// =============================================

// ConversionRepo defines operations for conversion storage.
type ConversionRepo interface {
	Create(ctx context.Context, c *models.Conversion) error
	GetByID(ctx context.Context, id string) (*models.Conversion, error)
}

// =============================================
// ATTRIBUTION MODEL REPOSITORY
// =============================================

// AttributionModelRepo defines operations for attribution model storage.
type AttributionModelRepo interface {
	ListActive(ctx context.Context, accountID string) ([]*models.AttributionModel, error)
	GetByID(ctx context.Context, id string) (*models.AttributionModel, error)

	// Save inserts or updates a model. When the model is flagged default it
	// clears the default flag on every other model of the account in the
	// same transaction, keeping exactly one default per tenant.
	Save(ctx context.Context, m *models.AttributionModel) error
}

// =============================================
// ATTRIBUTION CREDIT REPOSITORY
// =============================================

// CreditRepo defines operations for attribution credit storage.
type CreditRepo interface {
	// Replace atomically removes prior credits for the (conversion, model)
	// pair and inserts the new set, so recomputation supersedes instead of
	// appending.
	Replace(ctx context.Context, conversionID, modelID string, credits []*models.AttributionCredit) error

	ListByConversion(ctx context.Context, conversionID string) ([]*models.AttributionCredit, error)
}

// =============================================
// API KEY REPOSITORY
// =============================================

// APIKeyRepo resolves request credentials to tenants. Key issuance and
// revocation live in an external collaborator; only lookup happens here.
type APIKeyRepo interface {
	FindByKey(ctx context.Context, key string) (*models.APIKey, error)
}
