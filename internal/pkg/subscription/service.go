package subscription

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
	"github.com/lukasweber/PitchPal/internal/pkg/entitlements"
	"github.com/lukasweber/PitchPal/internal/pkg/env"
)

// Service implements webhook ingestion, purchase verification and restore on
// top of the repository and the entitlement granter.
type Service struct {
	repo        Repository
	decoder     PayloadDecoder
	granter     *Granter
	environment string
	now         func() time.Time
}

// NewService wires a subscription service from its parts. environment is the
// App Store environment this deployment accepts ("Production" or "Sandbox");
// an empty value accepts both.
func NewService(repo Repository, decoder PayloadDecoder, environment string) *Service {
	return &Service{
		repo:        repo,
		decoder:     decoder,
		granter:     NewGranter(repo),
		environment: strings.TrimSpace(environment),
		now:         time.Now,
	}
}

// NewServiceFromDB creates a service with a GORM-backed repository and the
// environment taken from APPSTORE_ENVIRONMENT.
func NewServiceFromDB(db *gorm.DB, decoder PayloadDecoder) *Service {
	return NewService(NewRepository(db), decoder, env.GetEnv("APPSTORE_ENVIRONMENT", models.EnvironmentProduction))
}

// IngestNotification processes one signed webhook payload. The log row is
// claimed before any state changes so concurrent deliveries of the same
// notification short out as duplicates; when processing fails after the claim
// the row is released again, so the platform's redelivery gets a real retry
// instead of a duplicate answer.
func (s *Service) IngestNotification(signedPayload string) (*IngestResult, error) {
	notification, err := s.decoder.DecodeNotification(signedPayload)
	if err != nil {
		return nil, err
	}

	originalTransactionID := "unknown"
	if notification.TransactionInfo != nil {
		originalTransactionID = notification.TransactionInfo.OriginalTransactionID
	}

	created, err := s.repo.CreateWebhookLogIfNew(&models.WebhookLog{
		NotificationUUID:      notification.NotificationUUID,
		NotificationType:      notification.NotificationType,
		Subtype:               notification.Subtype,
		OriginalTransactionID: originalTransactionID,
		SignedDate:            notification.SignedDate,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		log.Infof("[Webhook] duplicate notification uuid=%s type=%s", notification.NotificationUUID, notification.NotificationType)
		return &IngestResult{Duplicate: true, NotificationType: notification.NotificationType}, nil
	}

	if notification.TransactionInfo == nil {
		log.Warnf("[Webhook] notification uuid=%s type=%s has no transaction info, acknowledged without state change",
			notification.NotificationUUID, notification.NotificationType)
		return &IngestResult{NotificationType: notification.NotificationType}, nil
	}

	sub, err := s.ensureSubscription(notification.TransactionInfo)
	if err != nil {
		return nil, s.releaseClaim(notification.NotificationUUID, err)
	}

	tx := notification.TransactionInfo
	status := StatusForNotification(notification.NotificationType, notification.Subtype, tx)

	upd := Update{
		Status:               strPtr(status),
		ProductID:            strPtr(tx.ProductID),
		ExpiresAt:            timePtr(tx.ExpiresAt()),
		LastWebhookAt:        timePtr(notification.SignedDate),
		LastNotificationUUID: strPtr(notification.NotificationUUID),
	}
	if notification.RenewalInfo != nil {
		upd.AutoRenewEnabled = boolPtr(notification.RenewalInfo.AutoRenewEnabled())
	}
	if notification.NotificationType == appstore.NotificationDidRenew {
		upd.LastRenewalAt = timePtr(notification.SignedDate)
	}

	// An orphan can be claimed once a notification finally carries the app
	// account token the purchase was tagged with.
	if !sub.IsLinked() && tx.AppAccountToken != "" {
		if user, err := s.repo.GetUserByAppAccountToken(tx.AppAccountToken); err == nil {
			upd.UserID = uintPtr(user.ID)
			sub.UserID = uintPtr(user.ID)
			sub.IsOrphaned = false
			log.Infof("[Webhook] resolved orphan subscription %s to user=%d", sub.OriginalTransactionID, user.ID)
		} else if !IsNotFound(err) {
			return nil, s.releaseClaim(notification.NotificationUUID, err)
		}
	}

	if err := s.repo.Update(sub.OriginalTransactionID, upd); err != nil {
		return nil, s.releaseClaim(notification.NotificationUUID, err)
	}

	if sub.IsLinked() {
		if err := s.applyEntitlement(*sub.UserID, notification.NotificationType, tx.ExpiresAt()); err != nil {
			return nil, s.releaseClaim(notification.NotificationUUID, err)
		}
	}

	return &IngestResult{Applied: true, NotificationType: notification.NotificationType}, nil
}

// releaseClaim drops a claimed webhook log row after a processing failure and
// returns the failure. Without the release, the at-least-once redelivery
// would be swallowed as a duplicate and the notification never applied.
func (s *Service) releaseClaim(notificationUUID string, cause error) error {
	if err := s.repo.DeleteWebhookLog(notificationUUID); err != nil {
		log.Errorf("[Webhook] failed to release log claim uuid=%s: %v", notificationUUID, err)
	}
	return cause
}

func (s *Service) applyEntitlement(userID uint, notificationType string, expiresAt time.Time) error {
	switch ActionForNotification(notificationType) {
	case ActionGrant:
		_, err := s.granter.Grant(userID, expiresAt, notificationType)
		return err
	case ActionRevoke:
		_, err := s.granter.Revoke(userID, notificationType)
		return err
	default:
		if RefreshesExpiry(notificationType) {
			return s.granter.RefreshExpiry(userID, expiresAt)
		}
		return nil
	}
}

// VerifyPurchase validates a client-submitted signed transaction, attaches
// the subscription to the calling user and grants premium.
func (s *Service) VerifyPurchase(userID uint, signedTransaction string) (*models.Subscription, *models.User, error) {
	tx, err := s.decoder.DecodeTransaction(signedTransaction)
	if err != nil {
		return nil, nil, err
	}
	if tx.Type != appstore.TransactionTypeAutoRenewable {
		return nil, nil, ErrNotSubscription
	}
	if s.environment != "" && tx.Environment != s.environment {
		return nil, nil, ErrEnvironmentMismatch
	}
	if !tx.ExpiresAt().After(s.now()) {
		return nil, nil, ErrTransactionExpired
	}

	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, nil, err
	}
	if tx.AppAccountToken != "" && user.AppAccountToken != "" && tx.AppAccountToken != user.AppAccountToken {
		return nil, nil, ErrAccountMismatch
	}

	sub, err := s.repo.FindByOriginalTransactionID(tx.OriginalTransactionID)
	switch {
	case err == nil:
		if sub.UserID != nil && *sub.UserID != userID {
			return nil, nil, ErrSubscriptionConflict
		}
		upd := Update{
			UserID:        uintPtr(userID),
			Status:        strPtr(models.SubscriptionStatusActive),
			ProductID:     strPtr(tx.ProductID),
			ExpiresAt:     timePtr(tx.ExpiresAt()),
			LastRenewalAt: timePtr(s.now()),
		}
		if err := s.repo.Update(sub.OriginalTransactionID, upd); err != nil {
			return nil, nil, err
		}
	case IsNotFound(err):
		sub = s.newSubscriptionFromTransaction(tx)
		sub.UserID = uintPtr(userID)
		sub.IsOrphaned = false
		sub.LastRenewalAt = timePtr(s.now())
		if err := s.repo.Create(sub); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	if _, err := s.granter.Grant(userID, tx.ExpiresAt(), "verify_purchase"); err != nil {
		return nil, nil, err
	}

	sub, err = s.repo.FindByOriginalTransactionID(tx.OriginalTransactionID)
	if err != nil {
		return nil, nil, err
	}
	user, err = s.repo.GetUserByID(userID)
	if err != nil {
		return nil, nil, err
	}
	return sub, user, nil
}

// Restore re-attaches a subscription to the calling user, typically after a
// reinstall or account migration. It accepts either a fresh signed
// transaction or a bare original transaction ID for a lineage the backend
// already knows.
func (s *Service) Restore(userID uint, signedTransaction, originalTransactionID string) (*models.Subscription, *models.User, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, nil, err
	}

	var sub *models.Subscription
	switch {
	case signedTransaction != "":
		tx, err := s.decoder.DecodeTransaction(signedTransaction)
		if err != nil {
			return nil, nil, err
		}
		if tx.Type != appstore.TransactionTypeAutoRenewable {
			return nil, nil, ErrNotSubscription
		}
		if s.environment != "" && tx.Environment != s.environment {
			return nil, nil, ErrEnvironmentMismatch
		}
		if tx.AppAccountToken != "" && user.AppAccountToken != "" && tx.AppAccountToken != user.AppAccountToken {
			return nil, nil, ErrAccountMismatch
		}
		if !tx.ExpiresAt().After(s.now()) {
			return nil, nil, ErrTransactionExpired
		}

		sub, err = s.repo.FindByOriginalTransactionID(tx.OriginalTransactionID)
		switch {
		case IsNotFound(err):
			// A signed transaction proves the lineage exists even when no
			// webhook ever reached us, so restore may create the row.
			sub = s.newSubscriptionFromTransaction(tx)
			sub.LastRenewalAt = timePtr(s.now())
			if err := s.repo.Create(sub); err != nil {
				return nil, nil, err
			}
		case err != nil:
			return nil, nil, err
		default:
			if sub.UserID != nil && *sub.UserID != userID {
				return nil, nil, ErrSubscriptionConflict
			}
			// The fresh receipt supersedes whatever the last webhook left
			// behind, so an expired local row comes back as active.
			upd := Update{
				Status:        strPtr(models.SubscriptionStatusActive),
				ProductID:     strPtr(tx.ProductID),
				ExpiresAt:     timePtr(tx.ExpiresAt()),
				LastRenewalAt: timePtr(s.now()),
			}
			if err := s.repo.Update(sub.OriginalTransactionID, upd); err != nil {
				return nil, nil, err
			}
			sub.Status = models.SubscriptionStatusActive
			sub.ProductID = tx.ProductID
			sub.ExpiresAt = tx.ExpiresAt()
		}

	case originalTransactionID != "":
		sub, err = s.repo.FindByOriginalTransactionID(originalTransactionID)
		if IsNotFound(err) {
			// A bare ID proves nothing; without a local row there is
			// nothing to restore.
			return nil, nil, ErrUnknownSubscription
		} else if err != nil {
			return nil, nil, err
		}

	default:
		return nil, nil, ErrMissingInput
	}

	if sub.UserID != nil && *sub.UserID != userID {
		return nil, nil, ErrSubscriptionConflict
	}

	if !sub.IsLinked() {
		if err := s.repo.LinkToUser(sub.OriginalTransactionID, userID); err != nil {
			return nil, nil, err
		}
		sub.UserID = uintPtr(userID)
		sub.IsOrphaned = false
		log.Infof("[Restore] linked subscription %s to user=%d", sub.OriginalTransactionID, userID)
	}

	// Re-grant only when the restored subscription still entitles; restoring
	// an expired lineage links it without handing out premium.
	if entitlements.IsEntitlingStatus(sub.Status) && sub.ExpiresAt.After(s.now()) {
		if _, err := s.granter.Grant(userID, sub.ExpiresAt, "restore"); err != nil {
			return nil, nil, err
		}
	}

	user, err = s.repo.GetUserByID(userID)
	if err != nil {
		return nil, nil, err
	}
	return sub, user, nil
}

// ensureSubscription loads the row for a transaction's lineage, creating it
// from the transaction claims when this is the first time we hear of it.
func (s *Service) ensureSubscription(tx *appstore.TransactionClaims) (*models.Subscription, error) {
	sub, err := s.repo.FindByOriginalTransactionID(tx.OriginalTransactionID)
	if err == nil {
		return sub, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	sub = s.newSubscriptionFromTransaction(tx)
	if tx.AppAccountToken != "" {
		user, err := s.repo.GetUserByAppAccountToken(tx.AppAccountToken)
		switch {
		case err == nil:
			sub.UserID = uintPtr(user.ID)
			sub.IsOrphaned = false
		case IsNotFound(err):
			// keep as orphan
		default:
			return nil, err
		}
	}
	if err := s.repo.Create(sub); err != nil {
		return nil, err
	}
	if sub.IsOrphaned {
		log.Warnf("[Webhook] created orphan subscription %s (no matching account)", sub.OriginalTransactionID)
	}
	return sub, nil
}

func (s *Service) newSubscriptionFromTransaction(tx *appstore.TransactionClaims) *models.Subscription {
	return &models.Subscription{
		IsOrphaned:            true,
		AppAccountToken:       tx.AppAccountToken,
		OriginalTransactionID: tx.OriginalTransactionID,
		Environment:           tx.Environment,
		ProductID:             tx.ProductID,
		SubscriptionGroupID:   tx.SubscriptionGroupID,
		Status:                models.SubscriptionStatusActive,
		AutoRenewEnabled:      true,
		ExpiresAt:             tx.ExpiresAt(),
	}
}
