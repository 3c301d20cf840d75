package models

import "time"

// Session is one browsing session for a visitor. SessionID is the external
// client-supplied id; (AccountID, SessionID, StartedAt) is unique.
//
// InitialUTM, InitialReferrer and Channel are captured once, from the first
// event of the session, and never overwritten afterwards. A session is
// active while EndedAt is nil.
type Session struct {
	ID              string            `json:"id"`
	AccountID       string            `json:"account_id"`
	VisitorID       string            `json:"visitor_id"` // internal visitor row id
	SessionID       string            `json:"session_id"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	PageViewCount   int               `json:"page_view_count"`
	InitialUTM      map[string]string `json:"initial_utm,omitempty"`
	InitialReferrer string            `json:"initial_referrer,omitempty"`
	Channel         Channel           `json:"channel,omitempty"`
	IsTest          bool              `json:"is_test"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// HasAttribution reports whether the write-once attribution fields were
// already captured for this session.
func (s *Session) HasAttribution() bool {
	return len(s.InitialUTM) > 0 || s.Channel != ""
}
