package ws

import (
	"net/http/httptest"
	"testing"
)

func TestIsOriginAllowed(t *testing.T) {
	cases := []struct {
		name          string
		origin        string
		allowed       []string
		allowNoOrigin bool
		want          bool
	}{
		{"full origin match", "http://example.com:5173", []string{"http://example.com:5173"}, false, true},
		{"full origin port mismatch", "http://example.com:5173", []string{"http://example.com"}, false, false},
		{"hostname entry ignores port", "https://ExAmPlE.com:5173", []string{"example.com"}, false, true},
		{"host:port entry match", "https://ExAmPlE.com:5173", []string{"example.com:5173"}, false, true},
		{"host:port entry mismatch", "https://ExAmPlE.com:5173", []string{"example.com:9999"}, false, false},
		{"wildcard rejects base domain", "https://example.com", []string{"*.example.com"}, false, false},
		{"wildcard matches subdomain", "https://a.example.com", []string{"*.example.com"}, false, true},
		{"wildcard is case-insensitive", "https://A.ExAmPlE.com", []string{"*.example.com"}, false, true},
		{"ipv6 hostname entry", "http://[::1]:5173", []string{"::1"}, false, true},
		{"null origin entry", "null", []string{"null"}, false, true},
		{"no origin allowed", "", []string{"example.com"}, true, true},
		{"no origin rejected", "", []string{"example.com"}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://relay.test/v1", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := IsOriginAllowed(r, tc.allowed, tc.allowNoOrigin); got != tc.want {
				t.Fatalf("origin %q against %v: got %v, want %v", tc.origin, tc.allowed, got, tc.want)
			}
		})
	}
}
