package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/lukasweber/PitchPal/app/models"
)

// refreshTokenRepository implements the RefreshTokenRepository interface
type refreshTokenRepository struct {
	db *gorm.DB
}

// NewRefreshTokenRepository creates a new refresh token repository instance
func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

// Create persists a new refresh token session
func (r *refreshTokenRepository) Create(token *models.RefreshToken) error {
	return r.db.Create(token).Error
}

// GetByHash looks up a session by its stored token hash
func (r *refreshTokenRepository) GetByHash(hash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := r.db.Where("token_hash = ?", hash).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// Revoke marks a single session as revoked
func (r *refreshTokenRepository) Revoke(id uint) error {
	now := time.Now()
	return r.db.Model(&models.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", now).Error
}

// RevokeAllForUser ends every session of a user, e.g. on password change
func (r *refreshTokenRepository) RevokeAllForUser(userID uint) error {
	now := time.Now()
	return r.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now).Error
}

// DeleteExpired removes sessions whose expiry passed before the cutoff
func (r *refreshTokenRepository) DeleteExpired(before time.Time) (int64, error) {
	tx := r.db.Where("expires_at < ?", before).Delete(&models.RefreshToken{})
	return tx.RowsAffected, tx.Error
}
