package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/multibuzz/attribution-engine/internal/models"
)

// In-memory implementations of every repository. They back the server when
// PostgreSQL is unavailable and the service-level tests. Semantics mirror
// the Postgres implementations, including ErrDuplicate on unique-key races
// and write-once session attribution.

// =============================================
// VISITORS
// =============================================

// InMemoryVisitorRepo provides in-memory storage for visitors.
type InMemoryVisitorRepo struct {
	mu       sync.RWMutex
	visitors map[string]*models.Visitor // row id -> visitor
	byKey    map[string]string          // account|visitor_id -> row id
}

func NewInMemoryVisitorRepo() *InMemoryVisitorRepo {
	return &InMemoryVisitorRepo{
		visitors: make(map[string]*models.Visitor),
		byKey:    make(map[string]string),
	}
}

func visitorKey(accountID, visitorID string) string {
	return accountID + "|" + visitorID
}

func (r *InMemoryVisitorRepo) FindByVisitorID(ctx context.Context, accountID, visitorID string, includeTest bool) (*models.Visitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[visitorKey(accountID, visitorID)]
	if !ok {
		return nil, nil
	}
	v := r.visitors[id]
	if v.IsTest && !includeTest {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (r *InMemoryVisitorRepo) GetByID(ctx context.Context, id string) (*models.Visitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.visitors[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (r *InMemoryVisitorRepo) Create(ctx context.Context, v *models.Visitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := visitorKey(v.AccountID, v.VisitorID)
	if _, exists := r.byKey[key]; exists {
		return ErrDuplicate
	}

	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	cp := *v
	r.visitors[v.ID] = &cp
	r.byKey[key] = v.ID
	return nil
}

func (r *InMemoryVisitorRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.visitors[id]; ok {
		if at.After(v.LastSeenAt) {
			v.LastSeenAt = at
		}
		v.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *InMemoryVisitorRepo) LinkIdentity(ctx context.Context, id, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.visitors[id]; ok {
		v.IdentityID = identityID
		v.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// =============================================
// IDENTITIES
// =============================================

// InMemoryIdentityRepo provides in-memory storage for identities.
type InMemoryIdentityRepo struct {
	mu         sync.RWMutex
	identities map[string]*models.Identity
	byKey      map[string]string
}

func NewInMemoryIdentityRepo() *InMemoryIdentityRepo {
	return &InMemoryIdentityRepo{
		identities: make(map[string]*models.Identity),
		byKey:      make(map[string]string),
	}
}

func (r *InMemoryIdentityRepo) FindByExternalID(ctx context.Context, accountID, externalID string, includeTest bool) (*models.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[accountID+"|"+externalID]
	if !ok {
		return nil, nil
	}
	i := r.identities[id]
	if i.IsTest && !includeTest {
		return nil, nil
	}
	cp := *i
	return &cp, nil
}

func (r *InMemoryIdentityRepo) Create(ctx context.Context, i *models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := i.AccountID + "|" + i.ExternalID
	if _, exists := r.byKey[key]; exists {
		return ErrDuplicate
	}

	cp := *i
	r.identities[i.ID] = &cp
	r.byKey[key] = i.ID
	return nil
}

func (r *InMemoryIdentityRepo) Update(ctx context.Context, i *models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.identities[i.ID]; ok {
		existing.Traits = i.Traits
		existing.LastIdentifiedAt = i.LastIdentifiedAt
	}
	return nil
}

// =============================================
// SESSIONS
// =============================================

// InMemorySessionRepo provides in-memory storage for sessions.
type InMemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewInMemorySessionRepo() *InMemorySessionRepo {
	return &InMemorySessionRepo{sessions: make(map[string]*models.Session)}
}

func (r *InMemorySessionRepo) FindActive(ctx context.Context, accountID, sessionID, visitorID string, includeTest bool) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.Session
	for _, s := range r.sessions {
		if s.AccountID != accountID || s.SessionID != sessionID || s.VisitorID != visitorID {
			continue
		}
		if s.EndedAt != nil {
			continue
		}
		if s.IsTest && !includeTest {
			continue
		}
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *InMemorySessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *InMemorySessionRepo) Create(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if existing.AccountID == s.AccountID && existing.SessionID == s.SessionID &&
			existing.StartedAt.Equal(s.StartedAt) {
			return ErrDuplicate
		}
	}

	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *InMemorySessionRepo) IncrementPageViews(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.PageViewCount++
	}
	return nil
}

func (r *InMemorySessionRepo) SetAttribution(ctx context.Context, id string, utm map[string]string, referrer string, ch models.Channel) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Channel != "" {
		return false, nil
	}
	s.InitialUTM = utm
	s.InitialReferrer = referrer
	s.Channel = ch
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemorySessionRepo) End(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok && s.EndedAt == nil {
		s.EndedAt = &at
		s.UpdatedAt = at
	}
	return nil
}

func (r *InMemorySessionRepo) ListInWindow(ctx context.Context, accountID, visitorID string, from, to time.Time, includeTest bool) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Session
	for _, s := range r.sessions {
		if s.AccountID != accountID || s.VisitorID != visitorID {
			continue
		}
		if s.Channel == "" {
			continue
		}
		if s.StartedAt.Before(from) || !s.StartedAt.Before(to) {
			continue
		}
		if s.IsTest && !includeTest {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *InMemorySessionRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*models.Session, len(ids))
	for _, id := range ids {
		if s, ok := r.sessions[id]; ok {
			cp := *s
			out[id] = &cp
		}
	}
	return out, nil
}

// =============================================
// EVENTS
// =============================================

// InMemoryEventRepo provides in-memory storage for events.
type InMemoryEventRepo struct {
	mu     sync.RWMutex
	events map[string]*models.Event
}

func NewInMemoryEventRepo() *InMemoryEventRepo {
	return &InMemoryEventRepo{events: make(map[string]*models.Event)}
}

func (r *InMemoryEventRepo) Create(ctx context.Context, e *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.CreatedAt = time.Now().UTC()
	cp := *e
	r.events[e.ID] = &cp
	return nil
}

func (r *InMemoryEventRepo) GetByID(ctx context.Context, id string) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// Count returns the number of stored events. Test helper.
func (r *InMemoryEventRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// =============================================
// CONVERSIONS
// =============================================

// InMemoryConversionRepo provides in-memory storage for conversions.
type InMemoryConversionRepo struct {
	mu          sync.RWMutex
	conversions map[string]*models.Conversion
}

func NewInMemoryConversionRepo() *InMemoryConversionRepo {
	return &InMemoryConversionRepo{conversions: make(map[string]*models.Conversion)}
}

func (r *InMemoryConversionRepo) Create(ctx context.Context, c *models.Conversion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.CreatedAt = time.Now().UTC()
	cp := *c
	r.conversions[c.ID] = &cp
	return nil
}

func (r *InMemoryConversionRepo) GetByID(ctx context.Context, id string) (*models.Conversion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversions[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// =============================================
// ATTRIBUTION MODELS
// =============================================

// InMemoryAttributionModelRepo provides in-memory storage for attribution models.
type InMemoryAttributionModelRepo struct {
	mu     sync.RWMutex
	models map[string]*models.AttributionModel
}

func NewInMemoryAttributionModelRepo() *InMemoryAttributionModelRepo {
	return &InMemoryAttributionModelRepo{models: make(map[string]*models.AttributionModel)}
}

func (r *InMemoryAttributionModelRepo) ListActive(ctx context.Context, accountID string) ([]*models.AttributionModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AttributionModel
	for _, m := range r.models {
		if m.AccountID == accountID && m.IsActive {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InMemoryAttributionModelRepo) GetByID(ctx context.Context, id string) (*models.AttributionModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *InMemoryAttributionModelRepo) Save(ctx context.Context, m *models.AttributionModel) error {
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.models {
		if existing.ID != m.ID && existing.AccountID == m.AccountID && existing.Name == m.Name {
			return ErrDuplicate
		}
	}

	if m.IsDefault {
		for _, existing := range r.models {
			if existing.AccountID == m.AccountID && existing.ID != m.ID {
				existing.IsDefault = false
			}
		}
	}

	now := time.Now().UTC()
	m.UpdatedAt = now
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	cp := *m
	r.models[m.ID] = &cp
	return nil
}

// =============================================
// ATTRIBUTION CREDITS
// =============================================

// InMemoryCreditRepo provides in-memory storage for attribution credits.
type InMemoryCreditRepo struct {
	mu      sync.RWMutex
	credits []*models.AttributionCredit
}

func NewInMemoryCreditRepo() *InMemoryCreditRepo {
	return &InMemoryCreditRepo{}
}

func (r *InMemoryCreditRepo) Replace(ctx context.Context, conversionID, modelID string, credits []*models.AttributionCredit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.credits[:0]
	for _, c := range r.credits {
		if c.ConversionID == conversionID && c.AttributionModelID == modelID {
			continue
		}
		kept = append(kept, c)
	}
	r.credits = kept

	now := time.Now().UTC()
	for _, c := range credits {
		cp := *c
		cp.CreatedAt = now
		r.credits = append(r.credits, &cp)
	}
	return nil
}

func (r *InMemoryCreditRepo) ListByConversion(ctx context.Context, conversionID string) ([]*models.AttributionCredit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AttributionCredit
	for _, c := range r.credits {
		if c.ConversionID == conversionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// =============================================
// API KEYS
// =============================================

// InMemoryAPIKeyRepo provides in-memory storage for API keys.
type InMemoryAPIKeyRepo struct {
	mu   sync.RWMutex
	keys map[string]*models.APIKey // key -> row
}

func NewInMemoryAPIKeyRepo() *InMemoryAPIKeyRepo {
	return &InMemoryAPIKeyRepo{keys: make(map[string]*models.APIKey)}
}

// Add registers a key. Test/bootstrap helper.
func (r *InMemoryAPIKeyRepo) Add(k *models.APIKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *k
	r.keys[k.Key] = &cp
}

func (r *InMemoryAPIKeyRepo) FindByKey(ctx context.Context, key string) (*models.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.keys[key]
	if !ok || k.RevokedAt != nil {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}
