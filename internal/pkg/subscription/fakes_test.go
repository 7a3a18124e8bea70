package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
)

// fakeRepo is an in-memory Repository for service and reconciler tests.
type fakeRepo struct {
	mu sync.Mutex

	subs         map[string]*models.Subscription
	users        map[uint]*models.User
	webhookLogs  map[string]*models.WebhookLog
	nextSubID    uint
	updateErr    error
	grantCalls   int
	revokeCalls  int
	refreshCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:        map[string]*models.Subscription{},
		users:       map[uint]*models.User{},
		webhookLogs: map[string]*models.WebhookLog{},
		nextSubID:   1,
	}
}

func (f *fakeRepo) addUser(id uint, appAccountToken string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := &models.User{
		ID:                 id,
		Name:               fmt.Sprintf("user-%d", id),
		Tier:               models.TierFree,
		EntitlementVersion: 1,
		AppAccountToken:    appAccountToken,
	}
	f.users[id] = user
	return user
}

func (f *fakeRepo) FindByOriginalTransactionID(otid string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[otid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeRepo) Create(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub.ID = f.nextSubID
	f.nextSubID++
	cp := *sub
	f.subs[sub.OriginalTransactionID] = &cp
	return nil
}

func (f *fakeRepo) Update(otid string, upd Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	sub, ok := f.subs[otid]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if upd.Status != nil {
		sub.Status = *upd.Status
	}
	if upd.ProductID != nil {
		sub.ProductID = *upd.ProductID
	}
	if upd.AutoRenewEnabled != nil {
		sub.AutoRenewEnabled = *upd.AutoRenewEnabled
	}
	if upd.ExpiresAt != nil {
		sub.ExpiresAt = *upd.ExpiresAt
	}
	if upd.LastRenewalAt != nil {
		sub.LastRenewalAt = upd.LastRenewalAt
	}
	if upd.LastWebhookAt != nil {
		sub.LastWebhookAt = upd.LastWebhookAt
	}
	if upd.LastNotificationUUID != nil {
		sub.LastNotificationUUID = *upd.LastNotificationUUID
	}
	if upd.UserID != nil {
		id := *upd.UserID
		sub.UserID = &id
		sub.IsOrphaned = false
	}
	if upd.ClearOrphan {
		sub.IsOrphaned = false
	}
	return nil
}

func (f *fakeRepo) LinkToUser(otid string, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[otid]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	sub.UserID = &userID
	sub.IsOrphaned = false
	return nil
}

func (f *fakeRepo) ListForReconciliation() ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		switch sub.Status {
		case models.SubscriptionStatusActive, models.SubscriptionStatusBillingRetry, models.SubscriptionStatusGracePeriod:
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateWebhookLogIfNew(log *models.WebhookLog) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.webhookLogs[log.NotificationUUID]; exists {
		return false, nil
	}
	cp := *log
	if cp.ProcessedAt.IsZero() {
		cp.ProcessedAt = time.Now()
	}
	f.webhookLogs[log.NotificationUUID] = &cp
	return true, nil
}

func (f *fakeRepo) DeleteWebhookLog(notificationUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.webhookLogs, notificationUUID)
	return nil
}

func (f *fakeRepo) PruneWebhookLogs(olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pruned int64
	for uuid, log := range f.webhookLogs {
		if log.ProcessedAt.Before(olderThan) {
			delete(f.webhookLogs, uuid)
			pruned++
		}
	}
	return pruned, nil
}

func (f *fakeRepo) GetUserByID(id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *user
	return &cp, nil
}

func (f *fakeRepo) GetUserByAppAccountToken(token string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, user := range f.users {
		if user.AppAccountToken == token {
			cp := *user
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GrantPremium(userID uint, validUntil time.Time) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	f.grantCalls++
	user.Tier = models.TierPremium
	vu := validUntil
	user.SubscriptionValidUntil = &vu
	user.EntitlementVersion++
	return user.EntitlementVersion, nil
}

func (f *fakeRepo) RevokePremium(userID uint) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	f.revokeCalls++
	user.Tier = models.TierFree
	user.SubscriptionValidUntil = nil
	user.EntitlementVersion++
	return user.EntitlementVersion, nil
}

func (f *fakeRepo) SetSubscriptionValidUntil(userID uint, validUntil time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	f.refreshCalls++
	vu := validUntil
	user.SubscriptionValidUntil = &vu
	return nil
}

// fakeDecoder maps opaque payload strings to pre-decoded results, standing in
// for the JWS verification chain which has its own tests.
type fakeDecoder struct {
	notifications map[string]*appstore.Notification
	transactions  map[string]*appstore.TransactionClaims
	renewals      map[string]*appstore.RenewalClaims
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		notifications: map[string]*appstore.Notification{},
		transactions:  map[string]*appstore.TransactionClaims{},
		renewals:      map[string]*appstore.RenewalClaims{},
	}
}

func (f *fakeDecoder) DecodeNotification(signedPayload string) (*appstore.Notification, error) {
	n, ok := f.notifications[signedPayload]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payload", appstore.ErrBadSignature)
	}
	return n, nil
}

func (f *fakeDecoder) DecodeTransaction(signedTransaction string) (*appstore.TransactionClaims, error) {
	tx, ok := f.transactions[signedTransaction]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction", appstore.ErrBadSignature)
	}
	return tx, nil
}

func (f *fakeDecoder) DecodeRenewalInfo(signedRenewalInfo string) (*appstore.RenewalClaims, error) {
	r, ok := f.renewals[signedRenewalInfo]
	if !ok {
		return nil, fmt.Errorf("%w: unknown renewal info", appstore.ErrBadSignature)
	}
	return r, nil
}

// fakePlatformClient serves canned status answers for reconciler tests.
type fakePlatformClient struct {
	responses map[string]*appstore.LastTransaction
	errs      map[string]error
	calls     int
}

func newFakePlatformClient() *fakePlatformClient {
	return &fakePlatformClient{
		responses: map[string]*appstore.LastTransaction{},
		errs:      map[string]error{},
	}
}

func (f *fakePlatformClient) GetSubscriptionStatus(ctx context.Context, otid, environment string) (*appstore.LastTransaction, error) {
	f.calls++
	if err, ok := f.errs[otid]; ok {
		return nil, err
	}
	return f.responses[otid], nil
}
