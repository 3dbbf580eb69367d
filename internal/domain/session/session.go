package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is a persisted, HMAC-signed browser session. The primary key is
// the opaque cookie token itself; rotation replaces the row under a new id.
type Session struct {
	ID            string     `gorm:"primaryKey;column:id" json:"id"`
	UserID        string     `gorm:"index;not null;column:user_id" json:"user_id"`
	Namespace     string     `gorm:"index;not null;column:namespace" json:"namespace"`
	Email         string     `gorm:"column:email" json:"email,omitempty"`
	Permanent     bool       `gorm:"not null;default:false;column:permanent" json:"permanent"`
	ExpiresAt     time.Time  `gorm:"not null;column:expires_at" json:"expires_at"`
	LastRotatedAt time.Time  `gorm:"not null;column:last_rotated_at" json:"last_rotated_at"`
	RotationCount int        `gorm:"not null;default:0;column:rotation_count" json:"rotation_count"`
	StrictFP      string     `gorm:"not null;column:strict_fp" json:"strict_fp"`
	LooseFP       string     `gorm:"not null;column:loose_fp" json:"loose_fp"`
	OriginalIP    string     `gorm:"column:original_ip" json:"original_ip"`
	CurrentIP     string     `gorm:"column:current_ip" json:"current_ip"`
	CSRFToken     string     `gorm:"not null;column:csrf_token" json:"-"`
	VendorID      *uuid.UUID `gorm:"column:vendor_id" json:"vendor_id,omitempty"`
	Signature     string     `gorm:"not null;column:signature" json:"-"`
	CreatedAt     time.Time  `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null;column:updated_at" json:"updated_at"`
}

func (Session) TableName() string { return "session" }

// MagicLink is a one-time sign-in token. Consuming it (setting UsedAt) is a
// single conditional update; a used or expired link never validates again.
type MagicLink struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Token     string     `gorm:"uniqueIndex;not null;column:token" json:"-"`
	Email     string     `gorm:"index;not null;column:email" json:"email"`
	SessionID *string    `gorm:"column:session_id" json:"session_id,omitempty"`
	ExpiresAt time.Time  `gorm:"not null;column:expires_at" json:"expires_at"`
	UsedAt    *time.Time `gorm:"column:used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;column:created_at" json:"created_at"`
}

func (MagicLink) TableName() string { return "magic_link" }
