package identity

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

type identityFixture struct {
	service    *Service
	identities *storage.InMemoryIdentityRepo
	visitors   *storage.InMemoryVisitorRepo
}

func newIdentityFixture() *identityFixture {
	identities := storage.NewInMemoryIdentityRepo()
	visitors := storage.NewInMemoryVisitorRepo()
	return &identityFixture{
		service:    NewService(identities, visitors, zap.NewNop()),
		identities: identities,
		visitors:   visitors,
	}
}

func (f *identityFixture) addVisitor(t *testing.T, externalID string) *models.Visitor {
	t.Helper()
	v := &models.Visitor{
		ID:          "row-" + externalID,
		AccountID:   "acct-1",
		VisitorID:   externalID,
		FirstSeenAt: time.Now().UTC(),
		LastSeenAt:  time.Now().UTC(),
	}
	require.NoError(t, f.visitors.Create(context.Background(), v))
	return v
}

func TestIdentify_CreatesIdentityAndLinksVisitor(t *testing.T) {
	f := newIdentityFixture()
	visitor := f.addVisitor(t, "v-1")

	errs := f.service.Identify(context.Background(), "acct-1", false, IdentifyParams{
		UserID:    "user-42",
		VisitorID: "v-1",
		Traits:    map[string]any{"plan": "pro"},
	})
	require.Empty(t, errs)

	ident, err := f.identities.FindByExternalID(context.Background(), "acct-1", "user-42", false)
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal(t, "pro", ident.Traits["plan"])

	linked, err := f.visitors.GetByID(context.Background(), visitor.ID)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, linked.IdentityID)
}

func TestIdentify_UpdatesExistingIdentity(t *testing.T) {
	f := newIdentityFixture()

	require.Empty(t, f.service.Identify(context.Background(), "acct-1", false, IdentifyParams{
		UserID: "user-42",
		Traits: map[string]any{"plan": "free"},
	}))
	require.Empty(t, f.service.Identify(context.Background(), "acct-1", false, IdentifyParams{
		UserID: "user-42",
		Traits: map[string]any{"plan": "pro"},
	}))

	ident, err := f.identities.FindByExternalID(context.Background(), "acct-1", "user-42", false)
	require.NoError(t, err)
	assert.Equal(t, "pro", ident.Traits["plan"])
}

func TestIdentify_RequiresUserID(t *testing.T) {
	f := newIdentityFixture()

	errs := f.service.Identify(context.Background(), "acct-1", false, IdentifyParams{})
	assert.Equal(t, []string{"user_id is required"}, errs)
}

func TestIdentify_UnknownVisitorSkippedSilently(t *testing.T) {
	f := newIdentityFixture()

	errs := f.service.Identify(context.Background(), "acct-1", false, IdentifyParams{
		UserID:    "user-42",
		VisitorID: "never-seen",
	})
	assert.Empty(t, errs)
}

func TestAlias_LinksVisitorToIdentity(t *testing.T) {
	f := newIdentityFixture()
	visitor := f.addVisitor(t, "v-1")
	require.Empty(t, f.service.Identify(context.Background(), "acct-1", false, IdentifyParams{UserID: "user-42"}))

	errs := f.service.Alias(context.Background(), "acct-1", false, AliasParams{
		UserID:    "user-42",
		VisitorID: "v-1",
	})
	require.Empty(t, errs)

	linked, err := f.visitors.GetByID(context.Background(), visitor.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, linked.IdentityID)
}

func TestAlias_MissingParamsCollected(t *testing.T) {
	f := newIdentityFixture()

	errs := f.service.Alias(context.Background(), "acct-1", false, AliasParams{})
	assert.ElementsMatch(t, []string{"visitor_id is required", "user_id is required"}, errs)
}

func TestAlias_UnresolvableIdsRejected(t *testing.T) {
	f := newIdentityFixture()

	errs := f.service.Alias(context.Background(), "acct-1", false, AliasParams{
		UserID:    "ghost",
		VisitorID: "nobody",
	})
	assert.ElementsMatch(t, []string{"Visitor not found", "Identity not found"}, errs)
}
