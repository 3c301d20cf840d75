package ingest

import (
	"fmt"
	"strings"
	"time"
)

// Raw event field names as sent by tracking clients.
const (
	FieldEventType  = "event_type"
	FieldVisitorID  = "visitor_id"
	FieldSessionID  = "session_id"
	FieldTimestamp  = "timestamp"
	FieldProperties = "properties"
)

var stringFields = []string{FieldEventType, FieldVisitorID, FieldSessionID}

// Validate checks one raw event record. Errors are collected, not
// short-circuited, so a caller sees every problem at once. It never fails
// with a Go error: a malformed record is a validation result, not a fault.
// A record that validates is guaranteed to carry string identifiers, a
// parseable timestamp and a map of properties, so the pipeline can consume
// it without further type checks.
func Validate(record map[string]any) (bool, []string) {
	var errs []string

	for _, field := range stringFields {
		if s, ok := record[field].(string); !ok || strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Sprintf("%s is required", field))
		}
	}

	switch ts := record[FieldTimestamp].(type) {
	case nil:
		errs = append(errs, "timestamp is required")
	case string:
		if strings.TrimSpace(ts) == "" {
			errs = append(errs, "timestamp is required")
		} else if _, err := ParseTimestamp(ts); err != nil {
			errs = append(errs, "timestamp must be a valid ISO8601 datetime")
		}
	default:
		errs = append(errs, "timestamp must be a valid ISO8601 datetime")
	}

	switch record[FieldProperties].(type) {
	case nil:
		errs = append(errs, "properties is required")
	case map[string]any:
	default:
		errs = append(errs, "properties must be a map")
	}

	return len(errs) == 0, errs
}

// ParseTimestamp parses an ISO-8601 timestamp, with or without fractional
// seconds.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
