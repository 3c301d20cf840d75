package channel

import (
	"testing"

	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestClassify_UTMMedium(t *testing.T) {
	tests := []struct {
		name     string
		utm      map[string]string
		expected models.Channel
	}{
		{"cpc is paid search", map[string]string{"utm_medium": "cpc"}, models.ChannelPaidSearch},
		{"ppc is paid search", map[string]string{"utm_medium": "ppc"}, models.ChannelPaidSearch},
		{"paid is paid search", map[string]string{"utm_medium": "paid"}, models.ChannelPaidSearch},
		{"uppercase CPC is paid search", map[string]string{"utm_medium": "CPC"}, models.ChannelPaidSearch},
		{"email", map[string]string{"utm_medium": "email"}, models.ChannelEmail},
		{"e-mail", map[string]string{"utm_medium": "e-mail"}, models.ChannelEmail},
		{"display", map[string]string{"utm_medium": "display"}, models.ChannelDisplay},
		{"banner", map[string]string{"utm_medium": "banner"}, models.ChannelDisplay},
		{"affiliate", map[string]string{"utm_medium": "affiliate"}, models.ChannelAffiliate},
		{"affiliates", map[string]string{"utm_medium": "affiliates"}, models.ChannelAffiliate},
		{"referral", map[string]string{"utm_medium": "referral"}, models.ChannelReferral},
		{"partner", map[string]string{"utm_medium": "partner"}, models.ChannelReferral},
		{"organic", map[string]string{"utm_medium": "organic"}, models.ChannelOrganicSearch},
		{"video", map[string]string{"utm_medium": "video"}, models.ChannelVideo},
		{"unknown medium is other", map[string]string{"utm_medium": "carrier-pigeon"}, models.ChannelOther},
		{"utm present without medium is other", map[string]string{"utm_source": "newsletter"}, models.ChannelOther},
		{"partial match does not count", map[string]string{"utm_medium": "cpcx"}, models.ChannelOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.utm, ""))
		})
	}
}

func TestClassify_SocialMedium(t *testing.T) {
	// utm_medium=social splits on whether the source is a known network.
	paid := Classify(map[string]string{"utm_medium": "social", "utm_source": "facebook"}, "")
	assert.Equal(t, models.ChannelPaidSocial, paid)

	organic := Classify(map[string]string{"utm_medium": "social", "utm_source": "mastodon"}, "")
	assert.Equal(t, models.ChannelOrganicSocial, organic)

	noSource := Classify(map[string]string{"utm_medium": "social"}, "")
	assert.Equal(t, models.ChannelOrganicSocial, noSource)
}

func TestClassify_Referrer(t *testing.T) {
	tests := []struct {
		name     string
		referrer string
		expected models.Channel
	}{
		{"google is organic search", "https://www.google.com/search?q=x", models.ChannelOrganicSearch},
		{"bing is organic search", "https://bing.com/", models.ChannelOrganicSearch},
		{"facebook is organic social", "https://m.facebook.com/", models.ChannelOrganicSocial},
		{"linkedin is organic social", "https://www.linkedin.com/feed", models.ChannelOrganicSocial},
		{"youtube is video", "https://youtube.com/watch?v=abc", models.ChannelVideo},
		{"any other host is referral", "https://news.ycombinator.com/", models.ChannelReferral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(nil, tt.referrer))
		})
	}
}

func TestClassify_UTMOverridesReferrer(t *testing.T) {
	got := Classify(map[string]string{"utm_medium": "email"}, "https://www.google.com/")
	assert.Equal(t, models.ChannelEmail, got)
}

func TestClassify_Direct(t *testing.T) {
	assert.Equal(t, models.ChannelDirect, Classify(nil, ""))
	assert.Equal(t, models.ChannelDirect, Classify(map[string]string{}, ""))

	// Malformed referrers are treated as absent.
	assert.Equal(t, models.ChannelDirect, Classify(nil, "://not a url"))
	assert.Equal(t, models.ChannelDirect, Classify(nil, "/relative/path"))
}

func TestClassify_Deterministic(t *testing.T) {
	utm := map[string]string{"utm_medium": "cpc", "utm_source": "google"}
	first := Classify(utm, "https://google.com")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(utm, "https://google.com"))
	}
}
