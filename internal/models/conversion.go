package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Conversion is a business outcome tied to a visitor, optionally to the
// triggering event and session, with an optional revenue amount. Rows are
// immutable once created; creation triggers attribution asynchronously.
type Conversion struct {
	ID             string           `json:"id"`
	AccountID      string           `json:"account_id"`
	VisitorID      string           `json:"visitor_id"`
	SessionID      string           `json:"session_id,omitempty"`
	EventID        string           `json:"event_id,omitempty"`
	ConversionType string           `json:"conversion_type"`
	Revenue        *decimal.Decimal `json:"revenue,omitempty"`
	ConvertedAt    time.Time        `json:"converted_at"`
	Properties     map[string]any   `json:"properties,omitempty"`
	IsTest         bool             `json:"is_test"`
	CreatedAt      time.Time        `json:"created_at"`
}
