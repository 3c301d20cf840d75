package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/multibuzz/attribution-engine/internal/metrics"
	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/multibuzz/attribution-engine/internal/storage"
	"go.uber.org/zap"
)

// Service computes and persists credits for every active attribution model
// of a conversion's account.
type Service struct {
	models     storage.AttributionModelRepo
	credits    storage.CreditRepo
	calculator *Calculator
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewService(
	modelRepo storage.AttributionModelRepo,
	credits storage.CreditRepo,
	calculator *Calculator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		models:     modelRepo,
		credits:    credits,
		calculator: calculator,
		metrics:    m,
		logger:     logger,
	}
}

// ComputeForConversion runs every active model of the tenant. Each model's
// credits supersede the prior rows for the same (conversion, model) pair,
// so reruns never duplicate. One model failing does not stop the others.
func (s *Service) ComputeForConversion(ctx context.Context, conversion *models.Conversion) error {
	activeModels, err := s.models.ListActive(ctx, conversion.AccountID)
	if err != nil {
		return fmt.Errorf("failed to list attribution models: %w", err)
	}
	if len(activeModels) == 0 {
		if activeModels, err = s.seedDefaultModels(ctx, conversion.AccountID); err != nil {
			return err
		}
	}

	var firstErr error
	for _, model := range activeModels {
		start := time.Now()

		credits, err := s.calculator.Calculate(ctx, conversion, model)
		if err != nil {
			s.metrics.RecordAttributionRun(string(model.Algorithm), "error", 0, time.Since(start))
			s.logger.Error("attribution calculation failed",
				zap.String("conversion_id", conversion.ID),
				zap.String("model_id", model.ID),
				zap.String("algorithm", string(model.Algorithm)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		// Replace with an empty set still clears prior rows, so a journey
		// that came up empty on a rerun leaves no stale credits behind.
		if err := s.credits.Replace(ctx, conversion.ID, model.ID, credits); err != nil {
			s.metrics.RecordAttributionRun(string(model.Algorithm), "error", 0, time.Since(start))
			s.logger.Error("failed to persist attribution credits",
				zap.String("conversion_id", conversion.ID),
				zap.String("model_id", model.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if len(credits) == 0 {
			s.metrics.RecordEmptyJourney()
			s.metrics.RecordAttributionRun(string(model.Algorithm), "empty", 0, time.Since(start))
			continue
		}

		s.metrics.RecordAttributionRun(string(model.Algorithm), "ok", len(credits), time.Since(start))
	}
	return firstErr
}

// seedDefaultModels creates the standard model set for an account that has
// none yet. The first model becomes the account default.
func (s *Service) seedDefaultModels(ctx context.Context, accountID string) ([]*models.AttributionModel, error) {
	out := make([]*models.AttributionModel, 0, len(models.DefaultAlgorithms))
	for i, alg := range models.DefaultAlgorithms {
		m := &models.AttributionModel{
			ID:           uuid.NewString(),
			AccountID:    accountID,
			Name:         string(alg),
			Algorithm:    alg,
			LookbackDays: models.DefaultLookbackDays,
			IsActive:     true,
			IsDefault:    i == 0,
		}
		if err := s.models.Save(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to seed default models: %w", err)
		}
		out = append(out, m)
	}

	s.logger.Info("seeded default attribution models",
		zap.String("account_id", accountID),
		zap.Int("models", len(out)),
	)
	return out, nil
}
