package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/multibuzz/attribution-engine/internal/models"
	"go.uber.org/zap"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS events_archive (
	id          String,
	account_id  String,
	visitor_id  String,
	session_id  String,
	event_type  String,
	occurred_at DateTime64(3, 'UTC'),
	properties  String,
	is_test     UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(occurred_at)
ORDER BY (account_id, occurred_at)
`

// EventArchive batches accepted events into ClickHouse for offline analytics.
// Writes are best-effort: a failed flush is logged and dropped, never
// surfaced to the ingestion path. Postgres stays the system of record.
type EventArchive struct {
	conn          driver.Conn
	logger        *zap.Logger
	flushInterval time.Duration
	maxBatch      int

	mu      sync.Mutex
	pending []*models.Event

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewEventArchive creates the archive and ensures its table exists.
func NewEventArchive(ctx context.Context, conn driver.Conn, flushInterval time.Duration, maxBatch int, logger *zap.Logger) (*EventArchive, error) {
	if err := conn.Exec(ctx, archiveSchema); err != nil {
		return nil, fmt.Errorf("failed to create archive table: %w", err)
	}

	a := &EventArchive{
		conn:          conn,
		logger:        logger,
		flushInterval: flushInterval,
		maxBatch:      maxBatch,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// Archive queues an event for the next flush. Non-blocking.
func (a *EventArchive) Archive(e *models.Event) {
	a.mu.Lock()
	a.pending = append(a.pending, e)
	full := len(a.pending) >= a.maxBatch
	a.mu.Unlock()

	if full {
		a.flush()
	}
}

func (a *EventArchive) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stopCh:
			a.flush()
			return
		}
	}
}

func (a *EventArchive) flush() {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.insert(ctx, batch); err != nil {
		a.logger.Error("event archive flush failed",
			zap.Int("events", len(batch)),
			zap.Error(err),
		)
		return
	}

	a.logger.Debug("event archive flushed", zap.Int("events", len(batch)))
}

func (a *EventArchive) insert(ctx context.Context, events []*models.Event) error {
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO events_archive (id, account_id, visitor_id, session_id, event_type, occurred_at, properties, is_test)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range events {
		props, err := json.Marshal(e.Properties)
		if err != nil {
			props = []byte("{}")
		}

		isTest := uint8(0)
		if e.IsTest {
			isTest = 1
		}

		if err := batch.Append(e.ID, e.AccountID, e.VisitorID, e.SessionID,
			e.EventType, e.OccurredAt, string(props), isTest); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// Close flushes remaining events and stops the background loop.
func (a *EventArchive) Close() {
	close(a.stopCh)
	<-a.doneCh
}
