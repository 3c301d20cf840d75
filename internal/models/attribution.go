package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Algorithm identifies one of the rule-based attribution algorithms. The
// set is closed: model validation rejects anything outside it, so code past
// that point can switch exhaustively.
type Algorithm string

const (
	FirstTouch    Algorithm = "first_touch"
	LastTouch     Algorithm = "last_touch"
	Linear        Algorithm = "linear"
	TimeDecay     Algorithm = "time_decay"
	UShaped       Algorithm = "u_shaped"
	WShaped       Algorithm = "w_shaped"
	Participation Algorithm = "participation"
)

// AllAlgorithms lists every implemented algorithm.
var AllAlgorithms = []Algorithm{
	FirstTouch, LastTouch, Linear, TimeDecay, UShaped, WShaped, Participation,
}

// DefaultAlgorithms are the models seeded for new accounts.
var DefaultAlgorithms = []Algorithm{FirstTouch, LastTouch, Linear}

// DefaultLookbackDays is the default attribution lookback window.
const DefaultLookbackDays = 30

// Valid reports whether a names an implemented algorithm.
func (a Algorithm) Valid() bool {
	for _, alg := range AllAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// AttributionModel is a tenant-scoped pairing of one algorithm with a
// lookback window and active/default flags. Exactly one model per account
// may be the default.
type AttributionModel struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Name         string    `json:"name"`
	Algorithm    Algorithm `json:"algorithm"`
	LookbackDays int       `json:"lookback_days"`
	IsActive     bool      `json:"is_active"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks model configuration before save.
func (m *AttributionModel) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !m.Algorithm.Valid() {
		return fmt.Errorf("unknown algorithm: %s", m.Algorithm)
	}
	if m.LookbackDays <= 0 || m.LookbackDays > 365 {
		return fmt.Errorf("lookback_days must be between 1 and 365")
	}
	return nil
}

// Touchpoint is a projection of a classified session into the minimal shape
// the attribution algorithms consume. It is never persisted on its own.
type Touchpoint struct {
	SessionID  string    `json:"session_id"`
	Channel    Channel   `json:"channel"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AttributionCredit is one output row of an attribution run: the share of
// responsibility one touchpoint carries for a conversion under one model.
type AttributionCredit struct {
	ID                 string           `json:"id"`
	AccountID          string           `json:"account_id"`
	ConversionID       string           `json:"conversion_id"`
	AttributionModelID string           `json:"attribution_model_id"`
	SessionID          string           `json:"session_id"`
	Channel            Channel          `json:"channel"`
	Credit             float64          `json:"credit"`
	RevenueCredit      *decimal.Decimal `json:"revenue_credit,omitempty"`
	UTMSource          string           `json:"utm_source,omitempty"`
	UTMMedium          string           `json:"utm_medium,omitempty"`
	UTMCampaign        string           `json:"utm_campaign,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// APIKey is the minimal surface of the external key-management
// collaborator: enough to resolve a request to an account and environment.
type APIKey struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Key         string     `json:"-"`
	Environment string     `json:"environment"` // "live" or "test"
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Test reports whether events tracked with this key are test data.
func (k *APIKey) Test() bool {
	return k.Environment == "test"
}
