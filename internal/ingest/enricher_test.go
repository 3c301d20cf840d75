package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrich_URLComponents(t *testing.T) {
	props := map[string]any{
		"url":      "https://example.com/pricing?plan=pro",
		"referrer": "https://www.google.com/search",
	}

	NewEnricher(nil).Enrich(props, nil, RequestMeta{})

	assert.Equal(t, "example.com", props["host"])
	assert.Equal(t, "/pricing", props["path"])
	assert.Equal(t, map[string]any{"plan": "pro"}, props["query_params"])
	assert.Equal(t, "www.google.com", props["referrer_host"])
	assert.Equal(t, "/search", props["referrer_path"])
}

func TestEnrich_UTMMergedIntoProperties(t *testing.T) {
	props := map[string]any{}

	NewEnricher(nil).Enrich(props, map[string]string{
		"utm_source": "google",
		"utm_medium": "cpc",
	}, RequestMeta{})

	assert.Equal(t, "google", props["utm_source"])
	assert.Equal(t, "cpc", props["utm_medium"])
}

func TestEnrich_AnonymizesIPv4(t *testing.T) {
	props := map[string]any{}

	NewEnricher(nil).Enrich(props, nil, RequestMeta{
		IP:        "203.0.113.77",
		UserAgent: "Mozilla/5.0",
		Language:  "en-US",
		DNT:       "1",
	})

	md, ok := props["request_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.0", md["ip_address"])
	assert.Equal(t, "Mozilla/5.0", md["user_agent"])
	assert.Equal(t, "en-US", md["language"])
	assert.Equal(t, "1", md["dnt"])
}

func TestEnrich_AnonymizesIPv6(t *testing.T) {
	assert.Equal(t, "2001:db8:1:2::", anonymizeIP("2001:db8:1:2:3:4:5:6"))
}

func TestEnrich_InvalidIPOmitted(t *testing.T) {
	props := map[string]any{}

	NewEnricher(nil).Enrich(props, nil, RequestMeta{IP: "not-an-ip", UserAgent: "ua"})

	md := props["request_metadata"].(map[string]any)
	_, hasIP := md["ip_address"]
	assert.False(t, hasIP)
}
