package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	repos "github.com/procurelabs/vendorgate-backend/internal/data/repos/session"
	types "github.com/procurelabs/vendorgate-backend/internal/domain/session"
	"github.com/procurelabs/vendorgate-backend/internal/events"
	"github.com/procurelabs/vendorgate-backend/internal/fingerprint"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type Status string

const (
	StatusValid    Status = "valid"
	StatusRotated  Status = "rotated"
	StatusNotFound Status = "not_found"
	StatusExpired  Status = "expired"
	StatusTampered Status = "tampered"
	StatusHijacked Status = "hijacked"
	StatusTooOld   Status = "too_old"
)

// Context is the outcome of a session operation. NeedsCookieUpdate tells
// the middleware to rewrite the cookie; SecurityEvent is set when the
// session stays usable but something looked wrong.
type Context struct {
	Session           *types.Session
	Status            Status
	SecurityEvent     string
	NeedsCookieUpdate bool
}

func (c *Context) Valid() bool {
	return c != nil && (c.Status == StatusValid || c.Status == StatusRotated)
}

type Config struct {
	MasterSecret string

	TempTTL time.Duration
	PermTTL time.Duration

	// Permanent sessions are higher value, so they rotate more often.
	TempRotateEvery time.Duration
	PermRotateEvery time.Duration

	// Absolute lifetime caps, measured from creation regardless of
	// activity. Upgrades preserve creation time, so a long-lived upgraded
	// session still ages out.
	TempMaxAge time.Duration
	PermMaxAge time.Duration

	MagicLinkTTL time.Duration

	SuspiciousRotationThreshold int
}

func DefaultConfig(masterSecret string) Config {
	return Config{
		MasterSecret:                masterSecret,
		TempTTL:                     7 * 24 * time.Hour,
		PermTTL:                     14 * 24 * time.Hour,
		TempRotateEvery:             3 * time.Hour,
		PermRotateEvery:             1 * time.Hour,
		TempMaxAge:                  7 * 24 * time.Hour,
		PermMaxAge:                  30 * 24 * time.Hour,
		MagicLinkTTL:                15 * time.Minute,
		SuspiciousRotationThreshold: 10,
	}
}

type Manager interface {
	Create(ctx context.Context, email, userAgent, ip, acceptLanguage, acceptEncoding string) (*Context, error)
	Get(ctx context.Context, sessionID, strictFP, looseFP, ip string) (*Context, error)
	Rotate(ctx context.Context, s *types.Session) (*types.Session, error)
	UpgradeToPermanent(ctx context.Context, sessionID, email, userAgent, ip, acceptLanguage, acceptEncoding string) (*Context, error)
	DetectSuspiciousActivity(s *types.Session) bool
	SwitchVendorContext(ctx context.Context, userID string, vendorID *uuid.UUID) (int64, error)
	IssueMagicLink(ctx context.Context, email string, sessionID *string) (string, error)
	ConsumeMagicLink(ctx context.Context, urlToken, userAgent, ip, acceptLanguage, acceptEncoding string) (*Context, error)
	Logout(ctx context.Context, sessionID string) error
	SweepExpired(ctx context.Context) (int64, error)
}

type manager struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.SessionRepo
	links  repos.MagicLinkRepo
	signer *Signer
	bus    events.Bus
	cfg    Config
}

// NewManager wires the session manager. bus may be nil; security events are
// then only logged.
func NewManager(db *gorm.DB, baseLog *logger.Logger, repo repos.SessionRepo, links repos.MagicLinkRepo, bus events.Bus, cfg Config) (Manager, error) {
	signer, err := NewSigner(cfg.MasterSecret)
	if err != nil {
		return nil, err
	}
	return &manager{
		db:     db,
		log:    baseLog.With("service", "SessionManager"),
		repo:   repo,
		links:  links,
		signer: signer,
		bus:    bus,
		cfg:    cfg,
	}, nil
}

func (m *manager) Create(ctx context.Context, email, userAgent, ip, acceptLanguage, acceptEncoding string) (*Context, error) {
	now := time.Now().UTC()

	var (
		userID string
		err    error
	)
	permanent := email != ""
	if permanent {
		userID = PermanentUserID(email, m.cfg.MasterSecret)
	} else {
		userID, err = TemporaryUserID()
		if err != nil {
			return nil, err
		}
	}

	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	csrf, err := NewCSRFToken()
	if err != nil {
		return nil, err
	}

	ttl := m.cfg.TempTTL
	storedEmail := ""
	if permanent {
		ttl = m.cfg.PermTTL
		storedEmail = email
	}

	s := &types.Session{
		ID:            id,
		UserID:        userID,
		Namespace:     NamespaceFor(userID),
		Email:         storedEmail,
		Permanent:     permanent,
		ExpiresAt:     now.Add(ttl),
		LastRotatedAt: now,
		StrictFP:      fingerprint.Hash(userAgent, acceptLanguage, acceptEncoding, fingerprint.Strict),
		LooseFP:       fingerprint.Hash(userAgent, acceptLanguage, acceptEncoding, fingerprint.Loose),
		OriginalIP:    ip,
		CurrentIP:     ip,
		CSRFToken:     csrf,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.Signature = m.signer.Sign(s)

	if err := m.repo.Create(ctx, nil, s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.log.Debug("session created", "session_id", s.ID, "user_id", s.UserID, "permanent", permanent)
	return &Context{Session: s, Status: StatusValid, NeedsCookieUpdate: true}, nil
}

// Get validates a presented session id. The check order matters: existence,
// expiry, signature, fingerprints, absolute age, rotation abuse, rotation
// cadence. Each
// failure mode fails closed except the permanent-session fingerprint
// mismatch, which is flagged and kept usable because logging a legitimate
// user out over a header change costs more than the residual risk.
func (m *manager) Get(ctx context.Context, sessionID, strictFP, looseFP, ip string) (*Context, error) {
	now := time.Now().UTC()

	s, err := m.repo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return &Context{Status: StatusNotFound}, nil
	}

	if !s.ExpiresAt.After(now) {
		_ = m.repo.DeleteByID(ctx, nil, s.ID)
		return &Context{Status: StatusExpired}, nil
	}

	if !m.signer.Verify(s) {
		_ = m.repo.DeleteByID(ctx, nil, s.ID)
		m.securityEvent(ctx, s, "session_tampered", "stored session failed signature verification")
		return &Context{Status: StatusTampered}, nil
	}

	securityEvent := ""
	needsCookie := false
	switch {
	case strictFP == s.StrictFP:
		// same device, byte-stable headers
	case looseFP == s.LooseFP:
		// same device through a minor browser update: adopt the new strict
		// fingerprint so the next request matches on the fast path
		s.StrictFP = strictFP
		s.CurrentIP = ip
		s.Signature = m.signer.Sign(s)
		if err := m.repo.Update(ctx, nil, s); err != nil {
			return nil, fmt.Errorf("update fingerprint: %w", err)
		}
	default:
		if !s.Permanent {
			_ = m.repo.DeleteByID(ctx, nil, s.ID)
			m.securityEvent(ctx, s, "session_hijacked", "temporary session fingerprint mismatch")
			return &Context{Status: StatusHijacked}, nil
		}
		securityEvent = "fingerprint_mismatch"
		needsCookie = true
		m.securityEvent(ctx, s, "fingerprint_mismatch", "permanent session fingerprint mismatch, kept usable")
	}

	maxAge := m.cfg.TempMaxAge
	if s.Permanent {
		maxAge = m.cfg.PermMaxAge
	}
	if now.Sub(s.CreatedAt) > maxAge {
		_ = m.repo.DeleteByID(ctx, nil, s.ID)
		return &Context{Status: StatusTooOld}, nil
	}

	cadence := m.cfg.TempRotateEvery
	if s.Permanent {
		cadence = m.cfg.PermRotateEvery
	}
	forceRotate := false
	if m.DetectSuspiciousActivity(s) {
		// Rotating invalidates the presented id, so a replayed copy of the
		// cookie dies on its next use. Forced rotations push LastRotatedAt
		// forward, so the flag clears once the cadence looks normal again.
		forceRotate = true
		if securityEvent == "" {
			securityEvent = "rotation_abuse"
		}
		m.securityEvent(ctx, s, "rotation_abuse", "rotation cadence far below schedule, forcing rotation")
	}
	if forceRotate || now.Sub(s.LastRotatedAt) >= cadence {
		rotated, err := m.Rotate(ctx, s)
		if err != nil {
			return nil, err
		}
		return &Context{Session: rotated, Status: StatusRotated, SecurityEvent: securityEvent, NeedsCookieUpdate: true}, nil
	}

	if ip != "" && ip != s.CurrentIP {
		s.CurrentIP = ip
		if err := m.repo.Update(ctx, nil, s); err != nil {
			return nil, fmt.Errorf("update current ip: %w", err)
		}
	}

	return &Context{Session: s, Status: StatusValid, SecurityEvent: securityEvent, NeedsCookieUpdate: needsCookie}, nil
}

// Rotate issues a new session id preserving identity, namespace, expiry and
// creation time. Old and new records swap in one transaction.
func (m *manager) Rotate(ctx context.Context, s *types.Session) (*types.Session, error) {
	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	next := *s
	next.ID = id
	next.LastRotatedAt = now
	next.RotationCount = s.RotationCount + 1
	next.UpdatedAt = now
	next.Signature = m.signer.Sign(&next)

	if err := m.repo.Replace(ctx, nil, s.ID, &next); err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	m.log.Debug("session rotated", "session_id", next.ID, "user_id", next.UserID, "rotation_count", next.RotationCount)
	return &next, nil
}

// UpgradeToPermanent converts a temporary session in place after a verified
// sign-in, preserving the session id and history. If the source record is
// gone it falls back to a fresh permanent session.
func (m *manager) UpgradeToPermanent(ctx context.Context, sessionID, email, userAgent, ip, acceptLanguage, acceptEncoding string) (*Context, error) {
	s, err := m.repo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil || !m.signer.Verify(s) {
		if s != nil {
			_ = m.repo.DeleteByID(ctx, nil, s.ID)
		}
		return m.Create(ctx, email, userAgent, ip, acceptLanguage, acceptEncoding)
	}

	now := time.Now().UTC()
	userID := PermanentUserID(email, m.cfg.MasterSecret)
	s.UserID = userID
	s.Namespace = NamespaceFor(userID)
	s.Email = email
	s.Permanent = true
	s.ExpiresAt = now.Add(m.cfg.PermTTL)
	s.UpdatedAt = now
	s.Signature = m.signer.Sign(s)

	if err := m.repo.Update(ctx, nil, s); err != nil {
		return nil, fmt.Errorf("upgrade session: %w", err)
	}
	m.log.Info("session upgraded to permanent", "session_id", s.ID, "user_id", s.UserID)
	return &Context{Session: s, Status: StatusValid, NeedsCookieUpdate: true}, nil
}

// DetectSuspiciousActivity flags rotation abuse: legitimate rotation is
// driven by wall-clock cadence, so many rotations packed well under the
// expected interval suggests automated replay.
func (m *manager) DetectSuspiciousActivity(s *types.Session) bool {
	if s.RotationCount <= m.cfg.SuspiciousRotationThreshold {
		return false
	}
	cadence := m.cfg.TempRotateEvery
	if s.Permanent {
		cadence = m.cfg.PermRotateEvery
	}
	observed := s.LastRotatedAt.Sub(s.CreatedAt) / time.Duration(s.RotationCount)
	return observed < time.Duration(float64(cadence)*0.8)
}

// SwitchVendorContext records which vendor sub-account the user is acting
// as, across all of the user's concurrent sessions at once.
func (m *manager) SwitchVendorContext(ctx context.Context, userID string, vendorID *uuid.UUID) (int64, error) {
	n, err := m.repo.SetVendorForUser(ctx, nil, userID, vendorID)
	if err != nil {
		return 0, fmt.Errorf("switch vendor context: %w", err)
	}
	return n, nil
}

type magicLinkClaims struct {
	Token string `json:"tok"`
	jwt.RegisteredClaims
}

// IssueMagicLink stores a one-time token and returns the signed wrapper
// that goes into the emailed URL. The raw store token never appears in a
// URL on its own.
func (m *manager) IssueMagicLink(ctx context.Context, email string, sessionID *string) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	link := &types.MagicLink{
		ID:        uuid.New(),
		Token:     token,
		Email:     email,
		SessionID: sessionID,
		ExpiresAt: now.Add(m.cfg.MagicLinkTTL),
		CreatedAt: now,
	}
	if err := m.links.Create(ctx, nil, link); err != nil {
		return "", fmt.Errorf("persist magic link: %w", err)
	}

	claims := magicLinkClaims{
		Token: token,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(link.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.MasterSecret))
	if err != nil {
		return "", fmt.Errorf("sign magic link: %w", err)
	}
	return signed, nil
}

// ConsumeMagicLink verifies and burns the one-time token, then upgrades the
// originating session (or creates a permanent one).
func (m *manager) ConsumeMagicLink(ctx context.Context, urlToken, userAgent, ip, acceptLanguage, acceptEncoding string) (*Context, error) {
	var claims magicLinkClaims
	_, err := jwt.ParseWithClaims(urlToken, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.cfg.MasterSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repos.ErrLinkNotFound, err)
	}

	link, err := m.links.Consume(ctx, nil, claims.Token, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if link.SessionID != nil {
		return m.UpgradeToPermanent(ctx, *link.SessionID, link.Email, userAgent, ip, acceptLanguage, acceptEncoding)
	}
	return m.Create(ctx, link.Email, userAgent, ip, acceptLanguage, acceptEncoding)
}

func (m *manager) Logout(ctx context.Context, sessionID string) error {
	return m.repo.DeleteByID(ctx, nil, sessionID)
}

func (m *manager) SweepExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	sessions, err := m.repo.DeleteExpired(ctx, nil, now)
	if err != nil {
		return 0, err
	}
	links, err := m.links.DeleteExpired(ctx, nil, now)
	if err != nil {
		return sessions, err
	}
	return sessions + links, nil
}

func (m *manager) securityEvent(ctx context.Context, s *types.Session, kind, summary string) {
	m.log.Warn("session security event", "kind", kind, "session_id", s.ID, "user_id", s.UserID)
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(ctx, events.StreamBusinessEvents, &events.Event{
		Category:  events.CategoryBusiness,
		Type:      "security.session_flagged",
		Subtype:   kind,
		Namespace: s.Namespace,
		UserID:    s.UserID,
		SessionID: s.ID,
		Summary:   summary,
	})
}
