// Package urlutil normalizes and deduplicates URLs collected from search
// providers, so the same page fetched from two providers counts once.
package urlutil

import (
	"net/url"
	"strings"

	"webscout/internal/logging"
)

// trackingParams are query parameters that identify campaigns, not content.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"msclkid": true,
	"ref":     true,
	"ref_src": true,
}

// Normalize canonicalizes a URL for deduplication:
//   - scheme and host lowercased
//   - "www." prefix stripped from the host
//   - default ports (:80 for http, :443 for https) stripped
//   - trailing slash removed from the path
//   - fragment dropped
//   - tracking query parameters (utm_*, fbclid, gclid, ref, ...) removed
//
// Unparseable input is returned unchanged.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if trackingParams[key] || strings.HasPrefix(key, "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// Deduplicate removes URLs that normalize to the same canonical form,
// keeping the first occurrence in its original spelling. Returns the
// unique URLs and the number of duplicates removed.
func Deduplicate(urls []string) ([]string, int) {
	seen := make(map[string]bool, len(urls))
	unique := make([]string, 0, len(urls))
	removed := 0

	for _, raw := range urls {
		key := Normalize(raw)
		if seen[key] {
			removed++
			logging.SearchDebug("Duplicate URL dropped: %s", raw)
			continue
		}
		seen[key] = true
		unique = append(unique, raw)
	}

	if removed > 0 {
		logging.SearchDebug("URL dedupe: %d in, %d unique, %d removed", len(urls), len(unique), removed)
	}
	return unique, removed
}
