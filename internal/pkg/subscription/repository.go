package subscription

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lukasweber/PitchPal/app/models"
)

// Repository provides DB operations used by the subscription service and
// the reconciler.
type Repository interface {
	FindByOriginalTransactionID(originalTransactionID string) (*models.Subscription, error)
	Create(sub *models.Subscription) error
	Update(originalTransactionID string, upd Update) error
	LinkToUser(originalTransactionID string, userID uint) error
	ListForReconciliation() ([]models.Subscription, error)

	CreateWebhookLogIfNew(log *models.WebhookLog) (bool, error)
	DeleteWebhookLog(notificationUUID string) error
	PruneWebhookLogs(olderThan time.Time) (int64, error)

	GetUserByID(id uint) (*models.User, error)
	GetUserByAppAccountToken(token string) (*models.User, error)

	GrantPremium(userID uint, validUntil time.Time) (uint64, error)
	RevokePremium(userID uint) (uint64, error)
	SetSubscriptionValidUntil(userID uint, validUntil time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindByOriginalTransactionID(originalTransactionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("original_transaction_id = ?", originalTransactionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) Update(originalTransactionID string, upd Update) error {
	updates := map[string]interface{}{}
	if upd.Status != nil {
		updates["status"] = *upd.Status
	}
	if upd.ProductID != nil {
		updates["product_id"] = *upd.ProductID
	}
	if upd.AutoRenewEnabled != nil {
		updates["auto_renew_enabled"] = *upd.AutoRenewEnabled
	}
	if upd.ExpiresAt != nil {
		updates["expires_at"] = *upd.ExpiresAt
	}
	if upd.LastRenewalAt != nil {
		updates["last_renewal_at"] = *upd.LastRenewalAt
	}
	if upd.LastWebhookAt != nil {
		updates["last_webhook_at"] = *upd.LastWebhookAt
	}
	if upd.LastNotificationUUID != nil {
		updates["last_notification_uuid"] = *upd.LastNotificationUUID
	}
	if upd.UserID != nil {
		updates["user_id"] = *upd.UserID
		updates["is_orphaned"] = false
	}
	if upd.ClearOrphan {
		updates["is_orphaned"] = false
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Subscription{}).
		Where("original_transaction_id = ?", originalTransactionID).
		Updates(updates).Error
}

func (r *gormRepository) LinkToUser(originalTransactionID string, userID uint) error {
	return r.db.Model(&models.Subscription{}).
		Where("original_transaction_id = ?", originalTransactionID).
		Updates(map[string]interface{}{
			"user_id":     userID,
			"is_orphaned": false,
		}).Error
}

func (r *gormRepository) ListForReconciliation() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status IN ?", []string{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusBillingRetry,
			models.SubscriptionStatusGracePeriod,
		}).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

// CreateWebhookLogIfNew inserts the log row and reports whether it was
// actually created. A unique index on notification_uuid makes the insert a
// no-op for duplicates, so concurrent deliveries of the same notification
// race on the index and exactly one caller sees created=true.
func (r *gormRepository) CreateWebhookLogIfNew(log *models.WebhookLog) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notification_uuid"}},
		DoNothing: true,
	}).Create(log)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// DeleteWebhookLog removes a claimed log row again, used when processing
// fails after the claim so the next delivery is not treated as a duplicate.
func (r *gormRepository) DeleteWebhookLog(notificationUUID string) error {
	return r.db.Where("notification_uuid = ?", notificationUUID).Delete(&models.WebhookLog{}).Error
}

func (r *gormRepository) PruneWebhookLogs(olderThan time.Time) (int64, error) {
	tx := r.db.Where("processed_at < ?", olderThan).Delete(&models.WebhookLog{})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByAppAccountToken(token string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("app_account_token = ?", token).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GrantPremium upgrades the user in a single UPDATE that also bumps the
// entitlement version, then reads back the new version.
func (r *gormRepository) GrantPremium(userID uint, validUntil time.Time) (uint64, error) {
	return r.bumpEntitlement(userID, map[string]interface{}{
		"tier":                     models.TierPremium,
		"subscription_valid_until": validUntil,
		"entitlement_version":      gorm.Expr("entitlement_version + 1"),
	})
}

// RevokePremium downgrades the user back to the free tier and bumps the
// entitlement version.
func (r *gormRepository) RevokePremium(userID uint) (uint64, error) {
	return r.bumpEntitlement(userID, map[string]interface{}{
		"tier":                     models.TierFree,
		"subscription_valid_until": nil,
		"entitlement_version":      gorm.Expr("entitlement_version + 1"),
	})
}

// SetSubscriptionValidUntil refreshes the expiry date without changing the
// tier. Renewals extend access but do not invalidate issued tokens, so the
// entitlement version stays put.
func (r *gormRepository) SetSubscriptionValidUntil(userID uint, validUntil time.Time) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("subscription_valid_until", validUntil).Error
}

func (r *gormRepository) bumpEntitlement(userID uint, updates map[string]interface{}) (uint64, error) {
	tx := r.db.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}

	var version uint64
	err := r.db.Model(&models.User{}).
		Where("id = ?", userID).
		Pluck("entitlement_version", &version).Error
	if err != nil {
		return 0, err
	}
	return version, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
