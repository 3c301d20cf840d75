package attribution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/multibuzz/attribution-engine/internal/storage"
	"github.com/shopspring/decimal"
)

// Calculator runs one model's algorithm over a conversion's journey and
// enriches the resulting credits with session campaign data and revenue
// shares.
type Calculator struct {
	sessions     storage.SessionRepo
	journeys     *JourneyBuilder
	halfLifeDays float64
}

func NewCalculator(sessions storage.SessionRepo, journeys *JourneyBuilder, halfLifeDays float64) *Calculator {
	return &Calculator{
		sessions:     sessions,
		journeys:     journeys,
		halfLifeDays: halfLifeDays,
	}
}

// Calculate returns the credit rows for one (conversion, model) pair. An
// empty journey yields no credits and no error.
func (c *Calculator) Calculate(ctx context.Context, conversion *models.Conversion, model *models.AttributionModel) ([]*models.AttributionCredit, error) {
	touchpoints, err := c.journeys.Build(ctx, conversion.AccountID, conversion.VisitorID,
		conversion.ConvertedAt, model.LookbackDays, conversion.IsTest)
	if err != nil {
		return nil, fmt.Errorf("failed to build journey: %w", err)
	}
	if len(touchpoints) == 0 {
		return nil, nil
	}

	alg := algorithmFor(model.Algorithm, c.halfLifeDays)
	if alg == nil {
		return nil, fmt.Errorf("unknown algorithm: %s", model.Algorithm)
	}
	shares := alg.Distribute(touchpoints)

	// One bulk fetch for UTM enrichment instead of a lookup per credit.
	ids := make([]string, len(shares))
	for i, s := range shares {
		ids[i] = s.SessionID
	}
	sessions, err := c.sessions.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch journey sessions: %w", err)
	}

	credits := make([]*models.AttributionCredit, len(shares))
	for i, s := range shares {
		credit := &models.AttributionCredit{
			ID:                 uuid.NewString(),
			AccountID:          conversion.AccountID,
			ConversionID:       conversion.ID,
			AttributionModelID: model.ID,
			SessionID:          s.SessionID,
			Channel:            s.Channel,
			Credit:             s.Credit,
		}

		if session := sessions[s.SessionID]; session != nil {
			credit.UTMSource = session.InitialUTM[models.UTMSource]
			credit.UTMMedium = session.InitialUTM[models.UTMMedium]
			credit.UTMCampaign = session.InitialUTM[models.UTMCampaign]
		}

		if conversion.Revenue != nil {
			rc := decimal.NewFromFloat(s.Credit).Mul(*conversion.Revenue).Round(2)
			credit.RevenueCredit = &rc
		}

		credits[i] = credit
	}
	return credits, nil
}
