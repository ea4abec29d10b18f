// Package devicetrust implements device fingerprinting, login risk scoring,
// and the step-up verification token lifecycle.
package devicetrust

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"trustgate/internal/domain"
)

// GeoResolver maps an IP address to a best-effort location. The default
// implementation returns placeholders; production deployments plug in a real
// resolver behind the same shape.
type GeoResolver interface {
	Resolve(ip string) domain.GeoLocation
}

// StaticGeoResolver returns a fixed placeholder location for every IP.
type StaticGeoResolver struct{}

func (StaticGeoResolver) Resolve(ip string) domain.GeoLocation {
	return domain.GeoLocation{City: "Unknown", Country: "Unknown"}
}

// Fingerprinter derives DeviceInfo from inbound requests.
type Fingerprinter struct {
	geo GeoResolver
}

func NewFingerprinter(geo GeoResolver) *Fingerprinter {
	if geo == nil {
		geo = StaticGeoResolver{}
	}
	return &Fingerprinter{geo: geo}
}

// Extract builds the request-scoped device description. It is deterministic
// for identical headers and client IP, performs no I/O, and has no failure
// path: missing headers are treated as empty strings.
func (f *Fingerprinter) Extract(r *http.Request) domain.DeviceInfo {
	userAgent := r.Header.Get("User-Agent")
	ip := ClientIP(r)

	return domain.DeviceInfo{
		Fingerprint: ComputeFingerprint(
			userAgent,
			r.Header.Get("Accept-Language"),
			r.Header.Get("Accept-Encoding"),
			ip,
		),
		Browser:   browserFamily(userAgent),
		OS:        osFamily(userAgent),
		IPAddress: ip,
		UserAgent: userAgent,
		Location:  f.geo.Resolve(ip),
	}
}

// ComputeFingerprint hashes the four identifying inputs into a stable hex
// digest. The raw inputs are never stored.
func ComputeFingerprint(userAgent, acceptLanguage, acceptEncoding, ip string) string {
	h := sha256.New()
	h.Write([]byte(userAgent))
	h.Write([]byte("|"))
	h.Write([]byte(acceptLanguage))
	h.Write([]byte("|"))
	h.Write([]byte(acceptEncoding))
	h.Write([]byte("|"))
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}

// ClientIP resolves the client address: connection peer first, then the
// first X-Forwarded-For entry, then X-Real-IP. Returns "unknown" when
// nothing resolves; callers treat that as a valid but uninformative value.
func ClientIP(r *http.Request) string {
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}

	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}

	return "unknown"
}

// Coarse user-agent vocabularies. Ordered substring matching, first match
// wins. These feed the risk signal only and make no attempt at being a real
// user-agent parser.
var browserVocab = []struct{ substr, family string }{
	{"Chrome", "Chrome"},
	{"Firefox", "Firefox"},
	{"Safari", "Safari"},
	{"Edge", "Edge"},
	{"Opera", "Opera"},
}

var osVocab = []struct{ substr, family string }{
	{"Windows", "Windows"},
	{"Mac", "macOS"},
	{"Linux", "Linux"},
	{"Android", "Android"},
	{"iPhone", "iOS"},
	{"iPad", "iOS"},
}

func browserFamily(userAgent string) string {
	for _, v := range browserVocab {
		if strings.Contains(userAgent, v.substr) {
			return v.family
		}
	}
	return "Unknown"
}

func osFamily(userAgent string) string {
	for _, v := range osVocab {
		if strings.Contains(userAgent, v.substr) {
			return v.family
		}
	}
	return "Unknown"
}
