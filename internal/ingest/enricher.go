package ingest

import (
	"net"
	"net/url"

	"github.com/multibuzz/attribution-engine/internal/models"
)

// CountryResolver maps an IP address to an ISO country code. A nil resolver
// degrades to no geo enrichment.
type CountryResolver interface {
	Country(ip net.IP) (string, bool)
}

// RequestMeta carries the transport-level attributes of the tracking request
// that produced a batch of events. The same metadata applies to every record
// in the batch.
type RequestMeta struct {
	IP        string
	UserAgent string
	Language  string
	DNT       string
}

// Enricher derives URL/referrer components and anonymized request metadata
// and merges them into event properties.
type Enricher struct {
	geo CountryResolver
}

func NewEnricher(geo CountryResolver) *Enricher {
	return &Enricher{geo: geo}
}

// Enrich mutates props in place: URL and referrer components, the extracted
// UTM parameters, and a request_metadata block with the IP truncated to its
// network prefix. Raw IPs are never stored.
func (e *Enricher) Enrich(props map[string]any, utm map[string]string, meta RequestMeta) {
	if rawURL, ok := props[models.PropURL].(string); ok && rawURL != "" {
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			props[models.PropHost] = u.Host
			props[models.PropPath] = u.Path
			if u.RawQuery != "" {
				props[models.PropQueryParams] = queryToMap(u.Query())
			}
		}
	}

	if referrer, ok := props[models.PropReferrer].(string); ok && referrer != "" {
		if u, err := url.Parse(referrer); err == nil && u.Host != "" {
			props[models.PropReferrerHost] = u.Host
			props[models.PropReferrerPath] = u.Path
		}
	}

	for k, v := range utm {
		props[k] = v
	}

	md := map[string]any{}
	if meta.UserAgent != "" {
		md["user_agent"] = meta.UserAgent
	}
	if meta.Language != "" {
		md["language"] = meta.Language
	}
	if meta.DNT != "" {
		md["dnt"] = meta.DNT
	}
	if ip := anonymizeIP(meta.IP); ip != "" {
		md["ip_address"] = ip
		if e.geo != nil {
			if country, ok := e.geo.Country(net.ParseIP(meta.IP)); ok {
				md["country"] = country
			}
		}
	}
	if len(md) > 0 {
		props[models.PropRequestMetadata] = md
	}
}

// anonymizeIP truncates an address to its /24 network (or the /64-equivalent
// for IPv6) so stored metadata cannot single out a host.
func anonymizeIP(raw string) string {
	ip := net.ParseIP(raw)
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String()
}

func queryToMap(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
