package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed checks the request's Origin header against an allow-list.
// Entries may be full origins ("https://example.com"), bare hostnames
// ("example.com"), host:port pairs, wildcard hostnames ("*.example.com",
// matching subdomains only), or exact non-standard values like "null".
// Hostname comparison is case-insensitive. Requests without an Origin
// header pass iff allowNoOrigin is set.
func IsOriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	var host, hostname string
	if parsed, err := url.Parse(origin); err == nil {
		host = strings.ToLower(parsed.Host)
		hostname = strings.ToLower(parsed.Hostname())
	}
	for _, raw := range allowed {
		entry := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case entry == "":
		case strings.Contains(entry, "://"):
			if strings.EqualFold(origin, raw) {
				return true
			}
		case strings.HasPrefix(entry, "*."):
			base := strings.TrimPrefix(entry, "*.")
			if hostname != "" && base != "" && strings.HasSuffix(hostname, "."+base) {
				return true
			}
		default:
			if host != "" {
				if _, _, err := net.SplitHostPort(entry); err == nil && host == entry {
					return true
				}
			}
			if (hostname != "" && hostname == entry) || strings.EqualFold(origin, raw) {
				return true
			}
		}
	}
	return false
}

// NewOriginChecker adapts IsOriginAllowed to the upgrader's CheckOrigin.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return IsOriginAllowed(r, allowed, allowNoOrigin)
	}
}
