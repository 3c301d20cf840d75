// Package identity links external user ids to visitors: identify upserts an
// identity and optionally links a visitor, alias links an existing visitor
// to an existing identity.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/multibuzz/attribution-engine/internal/storage"
	"go.uber.org/zap"
)

// Service resolves and links identities for one tenant's visitors.
type Service struct {
	identities storage.IdentityRepo
	visitors   storage.VisitorRepo
	logger     *zap.Logger
}

func NewService(identities storage.IdentityRepo, visitors storage.VisitorRepo, logger *zap.Logger) *Service {
	return &Service{
		identities: identities,
		visitors:   visitors,
		logger:     logger,
	}
}

// IdentifyParams are the inputs of one identify call. VisitorID is the
// external visitor id and may be empty.
type IdentifyParams struct {
	UserID    string
	VisitorID string
	Traits    map[string]any
}

// Identify upserts the identity for an external user id, replacing its
// traits, and links the visitor when one is supplied and resolvable. An
// unresolvable visitor is skipped silently: identification must not fail
// because the anonymous cookie expired.
func (s *Service) Identify(ctx context.Context, accountID string, isTest bool, p IdentifyParams) []string {
	if p.UserID == "" {
		return []string{"user_id is required"}
	}

	now := time.Now().UTC()

	ident, err := s.identities.FindByExternalID(ctx, accountID, p.UserID, isTest)
	if err != nil {
		s.logger.Error("identity lookup failed", zap.Error(err))
		return []string{"internal error"}
	}

	traits := p.Traits
	if traits == nil {
		traits = map[string]any{}
	}

	if ident == nil {
		ident = &models.Identity{
			ID:                uuid.NewString(),
			AccountID:         accountID,
			ExternalID:        p.UserID,
			Traits:            traits,
			FirstIdentifiedAt: now,
			LastIdentifiedAt:  now,
			IsTest:            isTest,
		}
		err = s.identities.Create(ctx, ident)
		if errors.Is(err, storage.ErrDuplicate) {
			if ident, err = s.identities.FindByExternalID(ctx, accountID, p.UserID, isTest); err == nil && ident != nil {
				ident.Traits = traits
				ident.LastIdentifiedAt = now
				err = s.identities.Update(ctx, ident)
			}
		}
	} else {
		ident.Traits = traits
		ident.LastIdentifiedAt = now
		err = s.identities.Update(ctx, ident)
	}
	if err != nil {
		s.logger.Error("identity persistence failed", zap.Error(err))
		return []string{"internal error"}
	}

	if p.VisitorID != "" {
		visitor, err := s.visitors.FindByVisitorID(ctx, accountID, p.VisitorID, isTest)
		if err != nil {
			s.logger.Error("visitor lookup failed", zap.Error(err))
			return []string{"internal error"}
		}
		if visitor != nil {
			if err := s.visitors.LinkIdentity(ctx, visitor.ID, ident.ID); err != nil {
				s.logger.Error("visitor link failed", zap.Error(err))
				return []string{"internal error"}
			}
		}
	}

	return nil
}

// AliasParams are the inputs of one alias call. Both ids are required and
// must resolve.
type AliasParams struct {
	UserID    string
	VisitorID string
}

// Alias links an existing visitor to an existing identity. Unlike Identify
// it creates nothing: missing either side is a validation error.
func (s *Service) Alias(ctx context.Context, accountID string, isTest bool, p AliasParams) []string {
	var errs []string
	if p.VisitorID == "" {
		errs = append(errs, "visitor_id is required")
	}
	if p.UserID == "" {
		errs = append(errs, "user_id is required")
	}
	if len(errs) > 0 {
		return errs
	}

	visitor, err := s.visitors.FindByVisitorID(ctx, accountID, p.VisitorID, isTest)
	if err != nil {
		s.logger.Error("visitor lookup failed", zap.Error(err))
		return []string{"internal error"}
	}
	ident, err := s.identities.FindByExternalID(ctx, accountID, p.UserID, isTest)
	if err != nil {
		s.logger.Error("identity lookup failed", zap.Error(err))
		return []string{"internal error"}
	}

	if visitor == nil {
		errs = append(errs, "Visitor not found")
	}
	if ident == nil {
		errs = append(errs, "Identity not found")
	}
	if len(errs) > 0 {
		return errs
	}

	if err := s.visitors.LinkIdentity(ctx, visitor.ID, ident.ID); err != nil {
		s.logger.Error("visitor link failed", zap.Error(err))
		return []string{"internal error"}
	}
	return nil
}
