package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/multibuzz/attribution-engine/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serviceFixture struct {
	service  *Service
	sessions *storage.InMemorySessionRepo
	models   *storage.InMemoryAttributionModelRepo
	credits  *storage.InMemoryCreditRepo
}

func newServiceFixture() *serviceFixture {
	sessions := storage.NewInMemorySessionRepo()
	modelRepo := storage.NewInMemoryAttributionModelRepo()
	credits := storage.NewInMemoryCreditRepo()

	calculator := NewCalculator(sessions, NewJourneyBuilder(sessions), 7)
	return &serviceFixture{
		service:  NewService(modelRepo, credits, calculator, nil, zap.NewNop()),
		sessions: sessions,
		models:   modelRepo,
		credits:  credits,
	}
}

func (f *serviceFixture) addModel(t *testing.T, alg models.Algorithm) *models.AttributionModel {
	t.Helper()
	m := &models.AttributionModel{
		ID:           "model-" + string(alg),
		AccountID:    "acct-1",
		Name:         string(alg),
		Algorithm:    alg,
		LookbackDays: 30,
		IsActive:     true,
	}
	require.NoError(t, f.models.Save(context.Background(), m))
	return m
}

func (f *serviceFixture) addSession(t *testing.T, id string, startedAt time.Time, ch models.Channel, utm map[string]string) {
	t.Helper()
	require.NoError(t, f.sessions.Create(context.Background(), &models.Session{
		ID:         id,
		AccountID:  "acct-1",
		VisitorID:  "vis-1",
		SessionID:  "ext-" + id,
		StartedAt:  startedAt,
		Channel:    ch,
		InitialUTM: utm,
	}))
}

func conversionAt(at time.Time, revenue *decimal.Decimal) *models.Conversion {
	return &models.Conversion{
		ID:             "conv-1",
		AccountID:      "acct-1",
		VisitorID:      "vis-1",
		ConversionType: "signup",
		Revenue:        revenue,
		ConvertedAt:    at,
	}
}

func TestService_SingleTouchpointLinear(t *testing.T) {
	f := newServiceFixture()
	convertedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	f.addSession(t, "s1", convertedAt.AddDate(0, 0, -1), models.ChannelPaidSearch, map[string]string{
		"utm_source": "google",
		"utm_medium": "cpc",
	})
	model := f.addModel(t, models.Linear)

	require.NoError(t, f.service.ComputeForConversion(context.Background(), conversionAt(convertedAt, nil)))

	credits, err := f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, model.ID, credits[0].AttributionModelID)
	assert.Equal(t, models.ChannelPaidSearch, credits[0].Channel)
	assert.Equal(t, 1.0, credits[0].Credit)
	assert.Equal(t, "google", credits[0].UTMSource)
	assert.Equal(t, "cpc", credits[0].UTMMedium)
	assert.Nil(t, credits[0].RevenueCredit)
}

func TestService_RevenueSplitSumsToTotal(t *testing.T) {
	f := newServiceFixture()
	convertedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	f.addSession(t, "s1", convertedAt.AddDate(0, 0, -7), models.ChannelEmail, nil)
	f.addSession(t, "s2", convertedAt.AddDate(0, 0, -1), models.ChannelDirect, nil)
	f.addModel(t, models.TimeDecay)

	revenue := decimal.RequireFromString("100.00")
	require.NoError(t, f.service.ComputeForConversion(context.Background(), conversionAt(convertedAt, &revenue)))

	credits, err := f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, credits, 2)

	sum := decimal.Zero
	for _, c := range credits {
		require.NotNil(t, c.RevenueCredit)
		sum = sum.Add(*c.RevenueCredit)
	}
	diff := sum.Sub(revenue).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.01")),
		"revenue credits sum %s too far from %s", sum, revenue)
}

func TestService_RecomputationSupersedes(t *testing.T) {
	f := newServiceFixture()
	convertedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	f.addSession(t, "s1", convertedAt.AddDate(0, 0, -3), models.ChannelEmail, nil)
	f.addSession(t, "s2", convertedAt.AddDate(0, 0, -1), models.ChannelDirect, nil)
	f.addModel(t, models.Linear)

	conv := conversionAt(convertedAt, nil)
	require.NoError(t, f.service.ComputeForConversion(context.Background(), conv))
	require.NoError(t, f.service.ComputeForConversion(context.Background(), conv))

	credits, err := f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, credits, 2)
}

func TestService_RunsEveryActiveModel(t *testing.T) {
	f := newServiceFixture()
	convertedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	f.addSession(t, "s1", convertedAt.AddDate(0, 0, -2), models.ChannelPaidSearch, nil)
	f.addModel(t, models.FirstTouch)
	f.addModel(t, models.LastTouch)
	f.addModel(t, models.Linear)

	require.NoError(t, f.service.ComputeForConversion(context.Background(), conversionAt(convertedAt, nil)))

	credits, err := f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, credits, 3)
}

func TestService_SeedsDefaultModelsWhenNoneExist(t *testing.T) {
	f := newServiceFixture()
	convertedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	f.addSession(t, "s1", convertedAt.AddDate(0, 0, -2), models.ChannelReferral, nil)

	require.NoError(t, f.service.ComputeForConversion(context.Background(), conversionAt(convertedAt, nil)))

	seeded, err := f.models.ListActive(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, seeded, 3)

	defaults := 0
	for _, m := range seeded {
		if m.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)

	credits, err := f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, credits, 3)
}

func TestService_EmptyJourneyYieldsNoCredits(t *testing.T) {
	f := newServiceFixture()
	f.addModel(t, models.Linear)

	conv := conversionAt(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), nil)
	require.NoError(t, f.service.ComputeForConversion(context.Background(), conv))

	credits, err := f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, credits)
}

func TestService_EmptyRerunClearsPriorCredits(t *testing.T) {
	f := newServiceFixture()
	convertedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	f.addSession(t, "s1", convertedAt.AddDate(0, 0, -1), models.ChannelEmail, nil)
	f.addModel(t, models.Linear)

	conv := conversionAt(convertedAt, nil)
	require.NoError(t, f.service.ComputeForConversion(context.Background(), conv))

	credits, err := f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, credits, 1)

	// A rerun whose journey window no longer covers any session must
	// supersede the earlier rows with nothing, not leave them behind.
	conv.ConvertedAt = convertedAt.AddDate(0, 0, -90)
	require.NoError(t, f.service.ComputeForConversion(context.Background(), conv))

	credits, err = f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, credits)
}

func TestWorker_ProcessesDispatchedConversions(t *testing.T) {
	f := newServiceFixture()
	convertedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	f.addSession(t, "s1", convertedAt.AddDate(0, 0, -1), models.ChannelEmail, nil)
	f.addModel(t, models.FirstTouch)

	worker := NewWorker(f.service, 8, zap.NewNop())
	worker.Start(1)
	assert.True(t, worker.Dispatch(conversionAt(convertedAt, nil)))
	worker.Close()

	credits, err := f.credits.ListByConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, credits, 1)
}
