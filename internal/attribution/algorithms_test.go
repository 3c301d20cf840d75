package attribution

import (
	"fmt"
	"testing"
	"time"

	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchpoints(channels ...models.Channel) []models.Touchpoint {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Touchpoint, len(channels))
	for i, ch := range channels {
		out[i] = models.Touchpoint{
			SessionID:  fmt.Sprintf("sess-%d", i),
			Channel:    ch,
			OccurredAt: base.Add(time.Duration(i) * 24 * time.Hour),
		}
	}
	return out
}

func creditSum(shares []Share) float64 {
	sum := 0.0
	for _, s := range shares {
		sum += s.Credit
	}
	return sum
}

func TestFirstTouch(t *testing.T) {
	tps := touchpoints(models.ChannelPaidSearch, models.ChannelEmail, models.ChannelDirect)

	shares := firstTouch{}.Distribute(tps)

	require.Len(t, shares, 1)
	assert.Equal(t, "sess-0", shares[0].SessionID)
	assert.Equal(t, models.ChannelPaidSearch, shares[0].Channel)
	assert.Equal(t, 1.0, shares[0].Credit)
}

func TestLastTouch(t *testing.T) {
	tps := touchpoints(models.ChannelPaidSearch, models.ChannelEmail, models.ChannelDirect)

	shares := lastTouch{}.Distribute(tps)

	require.Len(t, shares, 1)
	assert.Equal(t, "sess-2", shares[0].SessionID)
	assert.Equal(t, models.ChannelDirect, shares[0].Channel)
	assert.Equal(t, 1.0, shares[0].Credit)
}

func TestLinear(t *testing.T) {
	tps := touchpoints(models.ChannelPaidSearch, models.ChannelEmail, models.ChannelDirect, models.ChannelReferral)

	shares := linear{}.Distribute(tps)

	require.Len(t, shares, 4)
	for _, s := range shares {
		assert.InDelta(t, 0.25, s.Credit, 1e-9)
	}
}

func TestTimeDecay_WeightsAgainstLastTouchpoint(t *testing.T) {
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	tps := []models.Touchpoint{
		{SessionID: "a", Channel: models.ChannelPaidSearch, OccurredAt: base.AddDate(0, 0, -14)},
		{SessionID: "b", Channel: models.ChannelEmail, OccurredAt: base.AddDate(0, 0, -7)},
		{SessionID: "c", Channel: models.ChannelDirect, OccurredAt: base},
	}

	shares := timeDecay{halfLifeDays: 7}.Distribute(tps)

	// Raw weights 0.25, 0.5, 1.0 normalized over 1.75.
	require.Len(t, shares, 3)
	assert.InDelta(t, 0.25/1.75, shares[0].Credit, 1e-4)
	assert.InDelta(t, 0.5/1.75, shares[1].Credit, 1e-4)
	assert.InDelta(t, 1.0/1.75, shares[2].Credit, 1e-4)
}

func TestTimeDecay_SingleTouchpointGetsFullCredit(t *testing.T) {
	// The decay reference is the last touchpoint's own timestamp, so a
	// lone touchpoint sees zero elapsed days no matter how old it is.
	tps := []models.Touchpoint{
		{SessionID: "a", Channel: models.ChannelEmail, OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	shares := timeDecay{halfLifeDays: 7}.Distribute(tps)

	require.Len(t, shares, 1)
	assert.Equal(t, 1.0, shares[0].Credit)
}

func TestUShaped(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		shares := uShaped{}.Distribute(touchpoints(models.ChannelEmail))
		require.Len(t, shares, 1)
		assert.Equal(t, 1.0, shares[0].Credit)
	})

	t.Run("pair", func(t *testing.T) {
		shares := uShaped{}.Distribute(touchpoints(models.ChannelEmail, models.ChannelDirect))
		require.Len(t, shares, 2)
		assert.Equal(t, 0.5, shares[0].Credit)
		assert.Equal(t, 0.5, shares[1].Credit)
	})

	t.Run("five", func(t *testing.T) {
		shares := uShaped{}.Distribute(touchpoints(
			models.ChannelPaidSearch, models.ChannelEmail, models.ChannelDirect,
			models.ChannelReferral, models.ChannelOrganicSearch,
		))
		require.Len(t, shares, 5)
		assert.InDelta(t, 0.4, shares[0].Credit, 1e-9)
		assert.InDelta(t, 0.2/3, shares[1].Credit, 1e-9)
		assert.InDelta(t, 0.2/3, shares[2].Credit, 1e-9)
		assert.InDelta(t, 0.2/3, shares[3].Credit, 1e-9)
		assert.InDelta(t, 0.4, shares[4].Credit, 1e-9)
	})
}

func TestWShaped(t *testing.T) {
	t.Run("three get equal thirds", func(t *testing.T) {
		shares := wShaped{}.Distribute(touchpoints(
			models.ChannelPaidSearch, models.ChannelEmail, models.ChannelDirect,
		))
		require.Len(t, shares, 3)
		for _, s := range shares {
			assert.InDelta(t, 1.0/3, s.Credit, 1e-9)
		}
	})

	t.Run("four: middle index is 2", func(t *testing.T) {
		shares := wShaped{}.Distribute(touchpoints(
			models.ChannelPaidSearch, models.ChannelEmail,
			models.ChannelDirect, models.ChannelReferral,
		))
		require.Len(t, shares, 4)
		assert.InDelta(t, 0.3, shares[0].Credit, 1e-9)
		assert.InDelta(t, 0.1, shares[1].Credit, 1e-9)
		assert.InDelta(t, 0.3, shares[2].Credit, 1e-9)
		assert.InDelta(t, 0.3, shares[3].Credit, 1e-9)
	})

	t.Run("ten: middle index is 5, others split 0.1", func(t *testing.T) {
		channels := make([]models.Channel, 10)
		for i := range channels {
			channels[i] = models.ChannelDirect
		}
		shares := wShaped{}.Distribute(touchpoints(channels...))

		require.Len(t, shares, 10)
		for i, s := range shares {
			if i == 0 || i == 5 || i == 9 {
				assert.InDelta(t, 0.3, s.Credit, 1e-9, "index %d", i)
			} else {
				assert.InDelta(t, 0.1/7, s.Credit, 1e-9, "index %d", i)
			}
		}
	})
}

func TestParticipation(t *testing.T) {
	tps := touchpoints(
		models.ChannelPaidSearch, models.ChannelOrganicSocial,
		models.ChannelPaidSearch, models.ChannelEmail,
	)

	shares := participation{}.Distribute(tps)

	require.Len(t, shares, 3)
	assert.Equal(t, models.ChannelPaidSearch, shares[0].Channel)
	assert.Equal(t, "sess-0", shares[0].SessionID)
	assert.Equal(t, models.ChannelOrganicSocial, shares[1].Channel)
	assert.Equal(t, "sess-1", shares[1].SessionID)
	assert.Equal(t, models.ChannelEmail, shares[2].Channel)
	assert.Equal(t, "sess-3", shares[2].SessionID)
	for _, s := range shares {
		assert.Equal(t, 1.0, s.Credit)
	}
}

func TestAlgorithms_EmptyJourney(t *testing.T) {
	for _, alg := range models.AllAlgorithms {
		assert.Empty(t, algorithmFor(alg, 7).Distribute(nil), string(alg))
	}
}

func TestAlgorithms_CreditsSumToOne(t *testing.T) {
	normalizing := []models.Algorithm{
		models.FirstTouch, models.LastTouch, models.Linear,
		models.TimeDecay, models.UShaped, models.WShaped,
	}

	for n := 1; n <= 8; n++ {
		channels := make([]models.Channel, n)
		for i := range channels {
			channels[i] = models.AllChannels[i%len(models.AllChannels)]
		}
		tps := touchpoints(channels...)

		for _, alg := range normalizing {
			shares := algorithmFor(alg, 7).Distribute(tps)
			assert.InDelta(t, 1.0, creditSum(shares), 1e-4, "%s with %d touchpoints", alg, n)
		}
	}
}
