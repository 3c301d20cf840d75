package attribution

import (
	"context"
	"time"

	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/multibuzz/attribution-engine/internal/storage"
)

// JourneyBuilder turns a visitor's classified sessions into the ordered
// touchpoint sequence the algorithms consume.
type JourneyBuilder struct {
	sessions storage.SessionRepo
}

func NewJourneyBuilder(sessions storage.SessionRepo) *JourneyBuilder {
	return &JourneyBuilder{sessions: sessions}
}

// Build returns the visitor's touchpoints with started_at in
// [convertedAt - lookbackDays, convertedAt), ascending. Sessions without a
// resolved channel carry no attribution signal and are excluded by the
// storage query. An empty history yields an empty journey.
func (b *JourneyBuilder) Build(ctx context.Context, accountID, visitorID string, convertedAt time.Time, lookbackDays int, includeTest bool) ([]models.Touchpoint, error) {
	from := convertedAt.AddDate(0, 0, -lookbackDays)

	sessions, err := b.sessions.ListInWindow(ctx, accountID, visitorID, from, convertedAt, includeTest)
	if err != nil {
		return nil, err
	}

	touchpoints := make([]models.Touchpoint, 0, len(sessions))
	for _, s := range sessions {
		touchpoints = append(touchpoints, models.Touchpoint{
			SessionID:  s.ID,
			Channel:    s.Channel,
			OccurredAt: s.StartedAt,
		})
	}
	return touchpoints, nil
}
