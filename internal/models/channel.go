package models

// Channel is one tag from the fixed marketing-channel taxonomy describing
// how a session arrived.
type Channel string

const (
	ChannelPaidSearch    Channel = "paid_search"
	ChannelOrganicSearch Channel = "organic_search"
	ChannelPaidSocial    Channel = "paid_social"
	ChannelOrganicSocial Channel = "organic_social"
	ChannelEmail         Channel = "email"
	ChannelDisplay       Channel = "display"
	ChannelAffiliate     Channel = "affiliate"
	ChannelReferral      Channel = "referral"
	ChannelVideo         Channel = "video"
	ChannelDirect        Channel = "direct"
	ChannelOther         Channel = "other"
)

// AllChannels lists every valid channel value.
var AllChannels = []Channel{
	ChannelPaidSearch,
	ChannelOrganicSearch,
	ChannelPaidSocial,
	ChannelOrganicSocial,
	ChannelEmail,
	ChannelDisplay,
	ChannelAffiliate,
	ChannelReferral,
	ChannelVideo,
	ChannelDirect,
	ChannelOther,
}

func (c Channel) String() string {
	return string(c)
}

// Valid reports whether c is part of the taxonomy.
func (c Channel) Valid() bool {
	for _, ch := range AllChannels {
		if c == ch {
			return true
		}
	}
	return false
}
