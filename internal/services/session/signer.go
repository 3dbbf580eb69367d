package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"

	types "github.com/procurelabs/vendorgate-backend/internal/domain/session"
)

// Signer computes the HMAC every persisted session record carries. The key
// is derived from the master secret, never the secret itself, so rotating
// other derived keys does not invalidate sessions and vice versa.
type Signer struct {
	key []byte
}

func NewSigner(masterSecret string) (*Signer, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret required")
	}
	r := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte("vendorgate/session-signing/v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// canonical serializes the fields whose tampering must be detectable.
// CurrentIP and the vendor context are deliberately excluded: the vendor
// context is rewritten by a user-keyed bulk update that cannot re-sign
// per-row, and the current IP is informational.
func canonical(s *types.Session) string {
	return strings.Join([]string{
		s.ID,
		s.UserID,
		s.Namespace,
		s.Email,
		strconv.FormatBool(s.Permanent),
		strconv.FormatInt(s.CreatedAt.UTC().UnixNano(), 10),
		strconv.FormatInt(s.ExpiresAt.UTC().UnixNano(), 10),
		strconv.FormatInt(s.LastRotatedAt.UTC().UnixNano(), 10),
		strconv.Itoa(s.RotationCount),
		s.StrictFP,
		s.LooseFP,
		s.OriginalIP,
		s.CSRFToken,
	}, "|")
}

func (sg *Signer) Sign(s *types.Session) string {
	mac := hmac.New(sha256.New, sg.key)
	_, _ = mac.Write([]byte(canonical(s)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify is constant-time. A failed verification is tampering, not a
// retryable error: the record must not be trusted even to read.
func (sg *Signer) Verify(s *types.Session) bool {
	want, err := hex.DecodeString(s.Signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, sg.key)
	_, _ = mac.Write([]byte(canonical(s)))
	return hmac.Equal(mac.Sum(nil), want)
}
