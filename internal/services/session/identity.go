package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const namespacePrefix = "user_"

// PermanentUserID derives the stable user id for an email: the same email
// always maps to the same id and namespace, which is what lets rotation and
// temporary-to-permanent upgrades preserve history.
func PermanentUserID(email, secret string) string {
	norm := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(norm + ":" + secret))
	return hex.EncodeToString(sum[:])[:32]
}

// TemporaryUserID is random; anonymous sessions have no derivable identity.
func TemporaryUserID() (string, error) {
	return randomToken(16)
}

func NamespaceFor(userID string) string {
	return namespacePrefix + userID
}

// NewSessionID returns a 256-bit URL-safe token.
func NewSessionID() (string, error) {
	return randomToken(32)
}

// NewCSRFToken returns the per-session anti-forgery token.
func NewCSRFToken() (string, error) {
	return randomToken(32)
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
