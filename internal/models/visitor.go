package models

import "time"

// Visitor is a tenant-scoped anonymous identity. The VisitorID is the
// opaque client-supplied external id; (AccountID, VisitorID) is unique.
type Visitor struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"account_id"`
	VisitorID   string         `json:"visitor_id"`
	IdentityID  string         `json:"identity_id,omitempty"`
	FirstSeenAt time.Time      `json:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	Traits      map[string]any `json:"traits,omitempty"`
	IsTest      bool           `json:"is_test"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Identity links an external user id (from the customer's own auth system)
// to one or more visitors.
type Identity struct {
	ID                string         `json:"id"`
	AccountID         string         `json:"account_id"`
	ExternalID        string         `json:"external_id"`
	Traits            map[string]any `json:"traits,omitempty"`
	FirstIdentifiedAt time.Time      `json:"first_identified_at"`
	LastIdentifiedAt  time.Time      `json:"last_identified_at"`
	IsTest            bool           `json:"is_test"`
}
