package channel

import (
	"net/url"
	"regexp"

	"github.com/multibuzz/attribution-engine/internal/models"
)

// Referrer domain patterns. Matched case-insensitively against the
// referrer host as substrings, mirroring the well-known domain families.
var (
	searchEngines  = regexp.MustCompile(`(?i)google|bing|yahoo|duckduckgo|baidu`)
	socialNetworks = regexp.MustCompile(`(?i)facebook|instagram|linkedin|twitter|tiktok|pinterest`)
	videoPlatforms = regexp.MustCompile(`(?i)youtube|vimeo`)
)

// utm_medium patterns, matched against the whole value. First match wins;
// order follows the classification taxonomy.
var mediumPatterns = []struct {
	re      *regexp.Regexp
	channel models.Channel
}{
	{regexp.MustCompile(`(?i)^(cpc|ppc|paid)$`), models.ChannelPaidSearch},
	{regexp.MustCompile(`(?i)^social$`), ""}, // resolved via utm_source, see below
	{regexp.MustCompile(`(?i)^(email|e-mail)$`), models.ChannelEmail},
	{regexp.MustCompile(`(?i)^(display|banner)$`), models.ChannelDisplay},
	{regexp.MustCompile(`(?i)^(affiliate|affiliates)$`), models.ChannelAffiliate},
	{regexp.MustCompile(`(?i)^(referral|partner)$`), models.ChannelReferral},
	{regexp.MustCompile(`(?i)^organic$`), models.ChannelOrganicSearch},
	{regexp.MustCompile(`(?i)^video$`), models.ChannelVideo},
}

// Classify maps extracted UTM parameters and a referrer URL onto one
// channel. Decision order: UTM presence wins over the referrer, the
// referrer over nothing. Deterministic for identical inputs.
func Classify(utm map[string]string, referrer string) models.Channel {
	if len(utm) > 0 {
		return classifyUTM(utm)
	}
	if host := referrerHost(referrer); host != "" {
		return classifyReferrer(host)
	}
	return models.ChannelDirect
}

func classifyUTM(utm map[string]string) models.Channel {
	medium := utm[models.UTMMedium]
	for _, p := range mediumPatterns {
		if !p.re.MatchString(medium) {
			continue
		}
		if p.channel == "" {
			// utm_medium=social: paid when the source is a known
			// social network, organic otherwise.
			if socialNetworks.MatchString(utm[models.UTMSource]) {
				return models.ChannelPaidSocial
			}
			return models.ChannelOrganicSocial
		}
		return p.channel
	}
	return models.ChannelOther
}

func classifyReferrer(host string) models.Channel {
	switch {
	case searchEngines.MatchString(host):
		return models.ChannelOrganicSearch
	case socialNetworks.MatchString(host):
		return models.ChannelOrganicSocial
	case videoPlatforms.MatchString(host):
		return models.ChannelVideo
	default:
		return models.ChannelReferral
	}
}

// referrerHost returns the referrer's host, or "" when the referrer is
// empty or malformed (treated as absent).
func referrerHost(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return u.Host
}
