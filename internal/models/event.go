package models

import "time"

// Property keys stored in the events properties map. These are the standard
// dimensions extracted or enriched by the pipeline.
const (
	PropURL          = "url"
	PropHost         = "host"
	PropPath         = "path"
	PropQueryParams  = "query_params"
	PropReferrer     = "referrer"
	PropReferrerHost = "referrer_host"
	PropReferrerPath = "referrer_path"
	PropChannel      = "channel"

	// Server-enriched metadata, nested under one key.
	PropRequestMetadata = "request_metadata"
)

// Canonical UTM campaign parameter names.
const (
	UTMSource   = "utm_source"
	UTMMedium   = "utm_medium"
	UTMCampaign = "utm_campaign"
	UTMContent  = "utm_content"
	UTMTerm     = "utm_term"
)

// UTMKeys lists the five canonical UTM parameters in extraction order.
var UTMKeys = []string{UTMSource, UTMMedium, UTMCampaign, UTMContent, UTMTerm}

// Event is one tracked occurrence belonging to exactly one visitor and one
// session. Properties hold user-supplied values merged with the derived
// URL/referrer/UTM fields and anonymized request metadata.
type Event struct {
	ID         string         `json:"id"`
	AccountID  string         `json:"account_id"`
	VisitorID  string         `json:"visitor_id"` // internal visitor row id
	SessionID  string         `json:"session_id"` // internal session row id
	EventType  string         `json:"event_type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties"`
	IsTest     bool           `json:"is_test"`
	CreatedAt  time.Time      `json:"created_at"`
}
