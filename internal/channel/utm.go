// Package channel classifies how a session arrived: it extracts UTM
// campaign parameters and maps UTM/referrer signals onto the fixed
// marketing-channel taxonomy. Everything in this package is a pure
// function of its inputs.
package channel

import (
	"net/url"

	"github.com/multibuzz/attribution-engine/internal/models"
)

// ExtractUTM pulls the five canonical UTM parameters from the URL's query
// string and from the supplied property map. Values parsed from the URL win
// over pre-existing property values of the same name. Absent parameters are
// omitted. A malformed URL contributes nothing rather than failing.
func ExtractUTM(rawURL string, properties map[string]any) map[string]string {
	out := make(map[string]string)

	for _, key := range models.UTMKeys {
		if v, ok := stringProp(properties, key); ok && v != "" {
			out[key] = v
		}
	}

	if rawURL != "" {
		if query := parseQuery(rawURL); query != nil {
			for _, key := range models.UTMKeys {
				if v := query.Get(key); v != "" {
					out[key] = v
				}
			}
		}
	}

	return out
}

func parseQuery(rawURL string) url.Values {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil
	}
	return q
}

func stringProp(properties map[string]any, key string) (string, bool) {
	if properties == nil {
		return "", false
	}
	v, ok := properties[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
