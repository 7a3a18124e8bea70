package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RefreshToken stores a hashed long-lived token per device session. Only the
// SHA-256 of the raw token ever reaches the database.
type RefreshToken struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	TokenHash  string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_refresh_tokens_hash" json:"-"`
	DeviceInfo string     `gorm:"type:varchar(255);default:''" json:"device_info"`
	IPAddress  string     `gorm:"type:varchar(45);default:''" json:"-"`
	ExpiresAt  time.Time  `gorm:"type:timestamp;not null;index" json:"expires_at"`
	RevokedAt  *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// HashRefreshToken returns the hex SHA-256 digest stored for a raw token.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsUsable reports whether the token is neither revoked nor expired.
func (t *RefreshToken) IsUsable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
