package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/multibuzz/attribution-engine/internal/channel"
	"github.com/multibuzz/attribution-engine/internal/metrics"
	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/multibuzz/attribution-engine/internal/storage"
	"go.uber.org/zap"
)

// Archiver receives accepted events for offline analytics. Best-effort, a
// nil archiver is skipped.
type Archiver interface {
	Archive(e *models.Event)
}

// Rejection reports why one record of a batch was refused. Index is the
// record's position in the submitted batch.
type Rejection struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// EventResult is the per-record outcome of an accepted event.
type EventResult struct {
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type"`
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"` // created, queued
}

// Result is the outcome of one batch submission.
type Result struct {
	Accepted int           `json:"accepted"`
	Rejected []Rejection   `json:"rejected"`
	Events   []EventResult `json:"events"`
}

// Pipeline orchestrates validation, visitor/session resolution, channel
// classification, enrichment and persistence for batches of raw events.
type Pipeline struct {
	visitors storage.VisitorRepo
	sessions storage.SessionRepo
	events   storage.EventRepo
	enricher *Enricher
	archive  Archiver
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewPipeline(
	visitors storage.VisitorRepo,
	sessions storage.SessionRepo,
	events storage.EventRepo,
	enricher *Enricher,
	archive Archiver,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		visitors: visitors,
		sessions: sessions,
		events:   events,
		enricher: enricher,
		archive:  archive,
		metrics:  m,
		logger:   logger,
	}
}

// Dispatcher hands validated records to background workers in async mode.
type Dispatcher interface {
	Dispatch(job Job) bool
}

// Job is one validated record awaiting background processing.
type Job struct {
	AccountID string
	IsTest    bool
	Record    map[string]any
	Meta      RequestMeta
}

// Process runs a batch. Records are item-isolated: a rejected or failed
// record never blocks the rest of the batch. In async mode validated records
// are dispatched to the background worker and reported as queued without
// awaiting their persistence outcome.
func (p *Pipeline) Process(ctx context.Context, accountID string, isTest bool, records []map[string]any, meta RequestMeta, async bool, dispatcher Dispatcher) *Result {
	mode := "sync"
	if async {
		mode = "async"
	}

	res := &Result{Rejected: []Rejection{}, Events: []EventResult{}}

	for i, record := range records {
		valid, errs := Validate(record)
		if !valid {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Errors: errs})
			p.metrics.RecordRejected(mode, 1)
			continue
		}

		if async && dispatcher != nil {
			if !dispatcher.Dispatch(Job{AccountID: accountID, IsTest: isTest, Record: record, Meta: meta}) {
				p.metrics.RecordQueueDrop()
				p.logger.Warn("async ingest queue full, event dropped",
					zap.String("account_id", accountID),
					zap.Int("index", i),
				)
			}
			res.Accepted++
			res.Events = append(res.Events, EventResult{
				EventType: record[FieldEventType].(string),
				VisitorID: record[FieldVisitorID].(string),
				SessionID: record[FieldSessionID].(string),
				Status:    "queued",
			})
			p.metrics.RecordAccepted(mode, 1)
			continue
		}

		start := time.Now()
		event, err := p.ProcessOne(ctx, accountID, isTest, record, meta)
		if err != nil {
			p.metrics.RecordIngest("error", time.Since(start))
			p.logger.Error("event processing failed",
				zap.String("account_id", accountID),
				zap.Int("index", i),
				zap.Error(err),
			)
			res.Rejected = append(res.Rejected, Rejection{Index: i, Errors: []string{"internal error"}})
			continue
		}
		p.metrics.RecordIngest("ok", time.Since(start))

		res.Accepted++
		res.Events = append(res.Events, EventResult{
			ID:        event.ID,
			EventType: event.EventType,
			VisitorID: record[FieldVisitorID].(string),
			SessionID: record[FieldSessionID].(string),
			Status:    "created",
		})
		p.metrics.RecordAccepted(mode, 1)
	}

	return res
}

// ProcessOne runs the full pipeline for one pre-validated record.
func (p *Pipeline) ProcessOne(ctx context.Context, accountID string, isTest bool, record map[string]any, meta RequestMeta) (*models.Event, error) {
	eventType := record[FieldEventType].(string)
	visitorExtID := record[FieldVisitorID].(string)
	sessionExtID := record[FieldSessionID].(string)

	occurredAt, err := ParseTimestamp(record[FieldTimestamp].(string))
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	props := map[string]any{}
	if m, ok := record[FieldProperties].(map[string]any); ok {
		for k, v := range m {
			props[k] = v
		}
	}

	visitor, err := p.resolveVisitor(ctx, accountID, visitorExtID, isTest, occurredAt)
	if err != nil {
		return nil, err
	}

	session, err := p.trackSession(ctx, accountID, sessionExtID, visitor, isTest, occurredAt)
	if err != nil {
		return nil, err
	}

	rawURL, _ := props[models.PropURL].(string)
	referrer, _ := props[models.PropReferrer].(string)
	utm := channel.ExtractUTM(rawURL, props)
	ch := channel.Classify(utm, referrer)

	if !session.HasAttribution() {
		if _, err := p.sessions.SetAttribution(ctx, session.ID, utm, referrer, ch); err != nil {
			return nil, err
		}
	}

	p.enricher.Enrich(props, utm, meta)
	props[models.PropChannel] = string(ch)

	event := &models.Event{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		VisitorID:  visitor.ID,
		SessionID:  session.ID,
		EventType:  eventType,
		OccurredAt: occurredAt,
		Properties: props,
		IsTest:     isTest,
	}
	if err := p.events.Create(ctx, event); err != nil {
		return nil, err
	}

	if p.archive != nil {
		p.archive.Archive(event)
	}

	return event, nil
}

// resolveVisitor finds or creates the visitor. A lost create race resolves
// as a lookup, so concurrent first events converge on one row.
func (p *Pipeline) resolveVisitor(ctx context.Context, accountID, visitorExtID string, isTest bool, at time.Time) (*models.Visitor, error) {
	visitor, err := p.visitors.FindByVisitorID(ctx, accountID, visitorExtID, isTest)
	if err != nil {
		return nil, err
	}
	if visitor != nil {
		if err := p.visitors.TouchLastSeen(ctx, visitor.ID, at); err != nil {
			return nil, err
		}
		return visitor, nil
	}

	visitor = &models.Visitor{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		VisitorID:   visitorExtID,
		FirstSeenAt: at,
		LastSeenAt:  at,
		Traits:      map[string]any{},
		IsTest:      isTest,
	}
	err = p.visitors.Create(ctx, visitor)
	if errors.Is(err, storage.ErrDuplicate) {
		return p.visitors.FindByVisitorID(ctx, accountID, visitorExtID, isTest)
	}
	if err != nil {
		return nil, err
	}

	p.metrics.RecordVisitorCreated()
	return visitor, nil
}

// trackSession finds the active session or creates one with the event's
// timestamp as its start and a page-view count of 1.
func (p *Pipeline) trackSession(ctx context.Context, accountID, sessionExtID string, visitor *models.Visitor, isTest bool, at time.Time) (*models.Session, error) {
	session, err := p.sessions.FindActive(ctx, accountID, sessionExtID, visitor.ID, isTest)
	if err != nil {
		return nil, err
	}
	if session != nil {
		if err := p.sessions.IncrementPageViews(ctx, session.ID); err != nil {
			return nil, err
		}
		session.PageViewCount++
		return session, nil
	}

	session = &models.Session{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		VisitorID:     visitor.ID,
		SessionID:     sessionExtID,
		StartedAt:     at,
		PageViewCount: 1,
		IsTest:        isTest,
	}
	err = p.sessions.Create(ctx, session)
	if errors.Is(err, storage.ErrDuplicate) {
		return p.sessions.FindActive(ctx, accountID, sessionExtID, visitor.ID, isTest)
	}
	if err != nil {
		return nil, err
	}

	p.metrics.RecordSessionCreated()
	return session, nil
}

// StartSession creates a session up front, capturing channel attribution at
// session start instead of waiting for the first event.
func (p *Pipeline) StartSession(ctx context.Context, accountID string, isTest bool, visitorExtID, sessionExtID, rawURL, referrer string, startedAt time.Time) (*models.Session, error) {
	visitor, err := p.resolveVisitor(ctx, accountID, visitorExtID, isTest, startedAt)
	if err != nil {
		return nil, err
	}

	utm := channel.ExtractUTM(rawURL, nil)
	ch := channel.Classify(utm, referrer)

	session, err := p.trackSession(ctx, accountID, sessionExtID, visitor, isTest, startedAt)
	if err != nil {
		return nil, err
	}

	if !session.HasAttribution() {
		won, err := p.sessions.SetAttribution(ctx, session.ID, utm, referrer, ch)
		if err != nil {
			return nil, err
		}
		if won {
			session.InitialUTM = utm
			session.InitialReferrer = referrer
			session.Channel = ch
		} else if fresh, err := p.sessions.GetByID(ctx, session.ID); err == nil && fresh != nil {
			session = fresh
		}
	}

	return session, nil
}
