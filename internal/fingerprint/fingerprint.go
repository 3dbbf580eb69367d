package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Tier selects how much of the client's header surface goes into the hash.
type Tier int

const (
	// Strict hashes user agent, accept-language and accept-encoding
	// byte-for-byte. Any header change produces a new value.
	Strict Tier = iota
	// Loose hashes only the user agent with minor-version noise stripped,
	// so a routine browser auto-update does not look like a device change.
	Loose
)

var minorVersion = regexp.MustCompile(`(\d+)\.[\d.]+`)

// Hash derives a stable device fingerprint from request headers. Pure and
// deterministic; the same inputs always yield the same value.
func Hash(userAgent, acceptLanguage, acceptEncoding string, tier Tier) string {
	var material string
	switch tier {
	case Loose:
		material = normalizeUserAgent(userAgent)
	default:
		material = userAgent + "\x1f" + acceptLanguage + "\x1f" + acceptEncoding
	}
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// normalizeUserAgent keeps major version numbers and drops everything after
// the first dot, so "Chrome/120.0.6099.71" and "Chrome/120.0.6099.130"
// normalize identically while "Chrome/121..." does not.
func normalizeUserAgent(ua string) string {
	ua = strings.ToLower(strings.TrimSpace(ua))
	ua = minorVersion.ReplaceAllString(ua, "$1")
	return strings.Join(strings.Fields(ua), " ")
}
