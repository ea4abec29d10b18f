package devicetrust

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const chromeOnMacUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestComputeFingerprint_Deterministic(t *testing.T) {
	a := ComputeFingerprint(chromeOnMacUA, "en-US", "gzip, br", "203.0.113.7")
	b := ComputeFingerprint(chromeOnMacUA, "en-US", "gzip, br", "203.0.113.7")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestComputeFingerprint_AnyInputChangesDigest(t *testing.T) {
	base := ComputeFingerprint(chromeOnMacUA, "en-US", "gzip", "203.0.113.7")

	assert.NotEqual(t, base, ComputeFingerprint("other-agent", "en-US", "gzip", "203.0.113.7"))
	assert.NotEqual(t, base, ComputeFingerprint(chromeOnMacUA, "de-DE", "gzip", "203.0.113.7"))
	assert.NotEqual(t, base, ComputeFingerprint(chromeOnMacUA, "en-US", "br", "203.0.113.7"))
	assert.NotEqual(t, base, ComputeFingerprint(chromeOnMacUA, "en-US", "gzip", "198.51.100.1"))
}

func TestComputeFingerprint_EmptyInputsStillHash(t *testing.T) {
	fp := ComputeFingerprint("", "", "", "unknown")
	assert.Len(t, fp, 64)
}

func TestExtract_MissingHeaders(t *testing.T) {
	f := NewFingerprinter(nil)
	r := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	r.Header.Del("User-Agent")
	r.RemoteAddr = "203.0.113.7:54321"

	info := f.Extract(r)

	assert.Len(t, info.Fingerprint, 64)
	assert.Equal(t, "Unknown", info.Browser)
	assert.Equal(t, "Unknown", info.OS)
	assert.Equal(t, "203.0.113.7", info.IPAddress)
	assert.Equal(t, "Unknown", info.Location.City)
	assert.Equal(t, "Unknown", info.Location.Country)
}

func TestExtract_FamilyParsing(t *testing.T) {
	f := NewFingerprinter(nil)

	cases := []struct {
		name      string
		userAgent string
		browser   string
		os        string
	}{
		{"chrome on mac", chromeOnMacUA, "Chrome", "macOS"},
		{"firefox on windows", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox", "Windows"},
		{"safari on iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 Version/17.1 Safari/604.1", "Safari", "iOS"},
		{"curl", "curl/8.4.0", "Unknown", "Unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
			r.Header.Set("User-Agent", tc.userAgent)
			r.RemoteAddr = "203.0.113.7:1234"

			info := f.Extract(r)
			assert.Equal(t, tc.browser, info.Browser)
			assert.Equal(t, tc.os, info.OS)
		})
	}
}

func TestClientIP_PeerAddressWins(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:54321"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", ClientIP(r))
}

func TestClientIP_ForwardedForFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = ""
	r.Header.Set("X-Forwarded-For", " 198.51.100.1 , 10.0.0.1")

	assert.Equal(t, "198.51.100.1", ClientIP(r))
}

func TestClientIP_RealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = ""
	r.Header.Set("X-Real-IP", "198.51.100.2")

	assert.Equal(t, "198.51.100.2", ClientIP(r))
}

func TestClientIP_Unknown(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = ""

	assert.Equal(t, "unknown", ClientIP(r))
}
