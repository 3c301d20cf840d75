package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/multibuzz/attribution-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pipelineFixture struct {
	pipeline *Pipeline
	visitors *storage.InMemoryVisitorRepo
	sessions *storage.InMemorySessionRepo
	events   *storage.InMemoryEventRepo
}

func newPipelineFixture() *pipelineFixture {
	visitors := storage.NewInMemoryVisitorRepo()
	sessions := storage.NewInMemorySessionRepo()
	events := storage.NewInMemoryEventRepo()
	return &pipelineFixture{
		pipeline: NewPipeline(visitors, sessions, events, NewEnricher(nil), nil, nil, zap.NewNop()),
		visitors: visitors,
		sessions: sessions,
		events:   events,
	}
}

func record(eventType, visitorID, sessionID, ts string, props map[string]any) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	return map[string]any{
		"event_type": eventType,
		"visitor_id": visitorID,
		"session_id": sessionID,
		"timestamp":  ts,
		"properties": props,
	}
}

func TestProcess_BatchWithOneBadRecord(t *testing.T) {
	f := newPipelineFixture()

	records := []map[string]any{
		record("page_view", "v-1", "s-1", "2026-01-15T10:00:00Z", nil),
		record("", "v-1", "s-1", "2026-01-15T10:00:05Z", nil),
		record("click", "v-1", "s-1", "2026-01-15T10:00:10Z", nil),
	}

	res := f.pipeline.Process(context.Background(), "acct-1", false, records, RequestMeta{}, false, nil)

	assert.Equal(t, 2, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.Contains(t, res.Rejected[0].Errors, "event_type is required")
	assert.Equal(t, 2, f.events.Count())
}

func TestProcess_NonStringTimestampRejectedPerRecord(t *testing.T) {
	f := newPipelineFixture()

	// A numeric timestamp is a validation failure, not a fault: the record
	// is rejected in place and the rest of the batch still lands.
	records := []map[string]any{
		{
			"event_type": "page_view",
			"visitor_id": "v-1",
			"session_id": "s-1",
			"timestamp":  float64(1700000000),
			"properties": map[string]any{},
		},
		record("click", "v-1", "s-1", "2026-01-15T10:00:10Z", nil),
	}

	res := f.pipeline.Process(context.Background(), "acct-1", false, records, RequestMeta{}, false, nil)

	assert.Equal(t, 1, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 0, res.Rejected[0].Index)
	assert.Contains(t, res.Rejected[0].Errors, "timestamp must be a valid ISO8601 datetime")
	assert.Equal(t, 1, f.events.Count())
}

func TestProcess_AsyncNonStringFieldNeverQueued(t *testing.T) {
	f := newPipelineFixture()
	worker := NewWorker(f.pipeline, 16, nil, zap.NewNop())
	worker.Start(1)

	res := f.pipeline.Process(context.Background(), "acct-1", false, []map[string]any{
		{
			"event_type": 42,
			"visitor_id": "v-1",
			"session_id": "s-1",
			"timestamp":  "2026-01-15T10:00:00Z",
			"properties": map[string]any{},
		},
	}, RequestMeta{}, true, worker)

	assert.Equal(t, 0, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Contains(t, res.Rejected[0].Errors, "event_type is required")

	worker.Close()
	assert.Equal(t, 0, f.events.Count())
}

func TestProcess_ResolvesVisitorAndSession(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	res := f.pipeline.Process(ctx, "acct-1", false, []map[string]any{
		record("page_view", "v-1", "s-1", "2026-01-15T10:00:00Z", nil),
		record("page_view", "v-1", "s-1", "2026-01-15T10:01:00Z", nil),
	}, RequestMeta{}, false, nil)

	assert.Equal(t, 2, res.Accepted)

	visitor, err := f.visitors.FindByVisitorID(ctx, "acct-1", "v-1", false)
	require.NoError(t, err)
	require.NotNil(t, visitor)

	session, err := f.sessions.FindActive(ctx, "acct-1", "s-1", visitor.ID, false)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 2, session.PageViewCount)
}

func TestProcess_BackdatedEventKeepsLastSeen(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	f.pipeline.Process(ctx, "acct-1", false, []map[string]any{
		record("page_view", "v-1", "s-1", "2026-01-15T10:00:00Z", nil),
		record("page_view", "v-1", "s-2", "2026-01-14T09:00:00Z", nil),
	}, RequestMeta{}, false, nil)

	visitor, err := f.visitors.FindByVisitorID(ctx, "acct-1", "v-1", false)
	require.NoError(t, err)
	require.NotNil(t, visitor)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), visitor.LastSeenAt)
}

func TestProcess_ClassifiesPaidSearch(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	res := f.pipeline.Process(ctx, "acct-1", false, []map[string]any{
		record("page_view", "v-1", "s-1", "2026-01-15T10:00:00Z", map[string]any{
			"url": "https://x.com/p?utm_source=google&utm_medium=cpc",
		}),
	}, RequestMeta{}, false, nil)

	require.Equal(t, 1, res.Accepted)

	visitor, _ := f.visitors.FindByVisitorID(ctx, "acct-1", "v-1", false)
	session, _ := f.sessions.FindActive(ctx, "acct-1", "s-1", visitor.ID, false)
	require.NotNil(t, session)
	assert.Equal(t, models.ChannelPaidSearch, session.Channel)
	assert.Equal(t, "google", session.InitialUTM["utm_source"])
}

func TestProcess_SessionAttributionIsWriteOnce(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	f.pipeline.Process(ctx, "acct-1", false, []map[string]any{
		record("page_view", "v-1", "s-1", "2026-01-15T10:00:00Z", map[string]any{
			"url": "https://x.com/?utm_source=google&utm_medium=cpc",
		}),
		record("page_view", "v-1", "s-1", "2026-01-15T10:05:00Z", map[string]any{
			"url": "https://x.com/?utm_source=newsletter&utm_medium=email",
		}),
	}, RequestMeta{}, false, nil)

	visitor, _ := f.visitors.FindByVisitorID(ctx, "acct-1", "v-1", false)
	session, _ := f.sessions.FindActive(ctx, "acct-1", "s-1", visitor.ID, false)
	require.NotNil(t, session)
	assert.Equal(t, models.ChannelPaidSearch, session.Channel)
	assert.Equal(t, "google", session.InitialUTM["utm_source"])
}

func TestProcess_EventPropertiesEnriched(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	res := f.pipeline.Process(ctx, "acct-1", false, []map[string]any{
		record("page_view", "v-1", "s-1", "2026-01-15T10:00:00Z", map[string]any{
			"url": "https://x.com/landing?utm_medium=email",
		}),
	}, RequestMeta{IP: "198.51.100.9", UserAgent: "ua"}, false, nil)

	require.Len(t, res.Events, 1)
	event, err := f.events.GetByID(ctx, res.Events[0].ID)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "x.com", event.Properties["host"])
	assert.Equal(t, "email", event.Properties["utm_medium"])
	assert.Equal(t, "email", event.Properties["channel"])

	md := event.Properties["request_metadata"].(map[string]any)
	assert.Equal(t, "198.51.100.0", md["ip_address"])
}

func TestProcess_AsyncQueuesAndWorkerDrains(t *testing.T) {
	f := newPipelineFixture()
	worker := NewWorker(f.pipeline, 16, nil, zap.NewNop())
	worker.Start(2)

	res := f.pipeline.Process(context.Background(), "acct-1", false, []map[string]any{
		record("page_view", "v-1", "s-1", "2026-01-15T10:00:00Z", nil),
		record("click", "v-1", "s-1", "2026-01-15T10:00:05Z", nil),
	}, RequestMeta{}, true, worker)

	assert.Equal(t, 2, res.Accepted)
	for _, e := range res.Events {
		assert.Equal(t, "queued", e.Status)
		assert.Empty(t, e.ID)
	}

	worker.Close()
	assert.Equal(t, 2, f.events.Count())
}

func TestStartSession_CapturesChannel(t *testing.T) {
	f := newPipelineFixture()

	started := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	session, err := f.pipeline.StartSession(context.Background(), "acct-1", false,
		"v-1", "s-1", "https://x.com/?utm_source=facebook&utm_medium=social", "", started)

	require.NoError(t, err)
	assert.Equal(t, models.ChannelPaidSocial, session.Channel)
	assert.Equal(t, started, session.StartedAt)
	assert.Equal(t, 1, session.PageViewCount)
}
