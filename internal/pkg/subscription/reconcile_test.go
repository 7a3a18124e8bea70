package subscription

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
)

func newTestReconciler() (*Reconciler, *fakeRepo, *fakePlatformClient, *fakeDecoder) {
	repo := newFakeRepo()
	client := newFakePlatformClient()
	decoder := newFakeDecoder()
	r := NewReconciler(repo, client, decoder)
	r.throttle = 0
	return r, repo, client, decoder
}

func seedLinkedSubscription(t *testing.T, repo *fakeRepo, userID uint, otid, status string, expiresAt time.Time) {
	t.Helper()
	id := userID
	require.NoError(t, repo.Create(&models.Subscription{
		UserID:                &id,
		OriginalTransactionID: otid,
		Environment:           models.EnvironmentProduction,
		ProductID:             "com.pitchpal.premium.monthly",
		Status:                status,
		ExpiresAt:             expiresAt,
	}))
}

func TestReconcileNoDriftCountsAsSynced(t *testing.T) {
	r, repo, client, decoder := newTestReconciler()
	repo.addUser(1, testAccountToken)

	expiry := time.Now().Add(time.Hour)
	seedLinkedSubscription(t, repo, 1, "orig-1", models.SubscriptionStatusActive, expiry)

	client.responses["orig-1"] = &appstore.LastTransaction{
		StatusCode:            appstore.StatusCodeActive,
		SignedTransactionInfo: "tx-1",
	}
	decoder.transactions["tx-1"] = &appstore.TransactionClaims{
		OriginalTransactionID: "orig-1",
		ExpiresDate:           expiry.UnixMilli(),
	}

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.DriftDetected)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 0, repo.grantCalls+repo.revokeCalls+repo.refreshCalls)
}

func TestReconcileExpiryDriftThreshold(t *testing.T) {
	tests := []struct {
		name      string
		delta     time.Duration
		wantDrift bool
	}{
		{"within threshold", 60 * time.Second, false},
		{"beyond threshold", 61 * time.Second, true},
		{"behind beyond threshold", -2 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, repo, client, decoder := newTestReconciler()
			repo.addUser(1, testAccountToken)

			localExpiry := time.Now().Add(time.Hour).Truncate(time.Second)
			seedLinkedSubscription(t, repo, 1, "orig-1", models.SubscriptionStatusActive, localExpiry)

			client.responses["orig-1"] = &appstore.LastTransaction{
				StatusCode:            appstore.StatusCodeActive,
				SignedTransactionInfo: "tx-1",
			}
			decoder.transactions["tx-1"] = &appstore.TransactionClaims{
				OriginalTransactionID: "orig-1",
				ExpiresDate:           localExpiry.Add(tt.delta).UnixMilli(),
			}

			result, err := r.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, result.Synced)

			if !tt.wantDrift {
				assert.Equal(t, 0, result.DriftDetected)
				return
			}
			assert.Equal(t, 1, result.DriftDetected)

			sub, err := repo.FindByOriginalTransactionID("orig-1")
			require.NoError(t, err)
			assert.WithinDuration(t, localExpiry.Add(tt.delta), sub.ExpiresAt, time.Second)
			// Both sides entitle, so only the expiry is refreshed.
			assert.Equal(t, 1, repo.refreshCalls)
			assert.Equal(t, 0, repo.grantCalls)
			assert.Equal(t, 0, repo.revokeCalls)
		})
	}
}

func TestReconcileCorrectsPlatformExpired(t *testing.T) {
	r, repo, client, decoder := newTestReconciler()
	user := repo.addUser(1, testAccountToken)
	user.Tier = models.TierPremium
	user.EntitlementVersion = 3

	seedLinkedSubscription(t, repo, 1, "orig-1", models.SubscriptionStatusActive, time.Now().Add(time.Hour))

	expired := time.Now().Add(-time.Hour)
	client.responses["orig-1"] = &appstore.LastTransaction{
		StatusCode:            appstore.StatusCodeExpired,
		SignedTransactionInfo: "tx-1",
		SignedRenewalInfo:     "renewal-1",
	}
	decoder.transactions["tx-1"] = &appstore.TransactionClaims{
		OriginalTransactionID: "orig-1",
		ExpiresDate:           expired.UnixMilli(),
	}
	decoder.renewals["renewal-1"] = &appstore.RenewalClaims{AutoRenewStatus: 0}

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.DriftDetected)

	sub, _ := repo.FindByOriginalTransactionID("orig-1")
	assert.Equal(t, models.SubscriptionStatusExpired, sub.Status)
	assert.False(t, sub.AutoRenewEnabled)

	got, _ := repo.GetUserByID(1)
	assert.Equal(t, models.TierFree, got.Tier)
	assert.Equal(t, uint64(4), got.EntitlementVersion)
}

func TestReconcileBillingRecoveryRefreshesWithoutBump(t *testing.T) {
	r, repo, client, decoder := newTestReconciler()
	user := repo.addUser(1, testAccountToken)
	user.Tier = models.TierPremium
	user.EntitlementVersion = 2

	// billing_retry still entitles; the platform reports recovery, so only
	// the status and expiry move.
	seedLinkedSubscription(t, repo, 1, "orig-1", models.SubscriptionStatusBillingRetry, time.Now().Add(-time.Hour))

	recovered := time.Now().Add(30 * 24 * time.Hour)
	client.responses["orig-1"] = &appstore.LastTransaction{
		StatusCode:            appstore.StatusCodeActive,
		SignedTransactionInfo: "tx-1",
	}
	decoder.transactions["tx-1"] = &appstore.TransactionClaims{
		OriginalTransactionID: "orig-1",
		ExpiresDate:           recovered.UnixMilli(),
	}

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.DriftDetected)

	sub, _ := repo.FindByOriginalTransactionID("orig-1")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	got, _ := repo.GetUserByID(1)
	assert.Equal(t, uint64(2), got.EntitlementVersion, "recovery must not invalidate issued tokens")
	require.NotNil(t, got.SubscriptionValidUntil)
	assert.WithinDuration(t, recovered, *got.SubscriptionValidUntil, time.Second)
	assert.Equal(t, 1, repo.refreshCalls)
}

func TestReconcileSkipsUnknownUpstream(t *testing.T) {
	r, repo, client, _ := newTestReconciler()
	repo.addUser(1, testAccountToken)
	seedLinkedSubscription(t, repo, 1, "orig-gone", models.SubscriptionStatusActive, time.Now().Add(time.Hour))

	client.errs["orig-gone"] = fmt.Errorf("%w: orig-gone", appstore.ErrNotFound)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 0, result.Errors)

	// The local row keeps its state.
	sub, _ := repo.FindByOriginalTransactionID("orig-gone")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestReconcileContinuesPastItemErrors(t *testing.T) {
	r, repo, client, decoder := newTestReconciler()
	repo.addUser(1, testAccountToken)
	repo.addUser(2, "1f0fcf2f-12f6-4ed6-9c3e-1234567890ab")

	expiry := time.Now().Add(time.Hour)
	seedLinkedSubscription(t, repo, 1, "orig-bad", models.SubscriptionStatusActive, expiry)
	seedLinkedSubscription(t, repo, 2, "orig-good", models.SubscriptionStatusActive, expiry)

	client.errs["orig-bad"] = fmt.Errorf("%w: upstream returned 503", appstore.ErrTransient)
	client.responses["orig-good"] = &appstore.LastTransaction{
		StatusCode:            appstore.StatusCodeActive,
		SignedTransactionInfo: "tx-good",
	}
	decoder.transactions["tx-good"] = &appstore.TransactionClaims{
		OriginalTransactionID: "orig-good",
		ExpiresDate:           expiry.UnixMilli(),
	}

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 2, client.calls)
}

func TestReconcileKeepsLocalExpiryOnBadPayload(t *testing.T) {
	r, repo, client, _ := newTestReconciler()
	repo.addUser(1, testAccountToken)

	localExpiry := time.Now().Add(time.Hour).Truncate(time.Second)
	seedLinkedSubscription(t, repo, 1, "orig-1", models.SubscriptionStatusActive, localExpiry)

	// Status disagrees but the signed transaction fails verification: the
	// status is corrected while the expiry stays local.
	client.responses["orig-1"] = &appstore.LastTransaction{
		StatusCode:            appstore.StatusCodeBillingGracePeriod,
		SignedTransactionInfo: "not-registered",
	}

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.DriftDetected)

	sub, _ := repo.FindByOriginalTransactionID("orig-1")
	assert.Equal(t, models.SubscriptionStatusGracePeriod, sub.Status)
	assert.WithinDuration(t, localExpiry, sub.ExpiresAt, time.Second)
	// active and grace_period both entitle.
	assert.Equal(t, 0, repo.grantCalls)
	assert.Equal(t, 0, repo.revokeCalls)
}

func TestReconcilePrunesOldWebhookLogs(t *testing.T) {
	r, repo, _, _ := newTestReconciler()

	_, err := repo.CreateWebhookLogIfNew(&models.WebhookLog{
		NotificationUUID: "stale",
		ProcessedAt:      time.Now().Add(-91 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = repo.CreateWebhookLogIfNew(&models.WebhookLog{
		NotificationUUID: "fresh",
		ProcessedAt:      time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Pruned)

	_, stale := repo.webhookLogs["stale"]
	_, fresh := repo.webhookLogs["fresh"]
	assert.False(t, stale)
	assert.True(t, fresh)
}

func TestReconcileStopsOnCancelledContext(t *testing.T) {
	r, repo, client, _ := newTestReconciler()
	repo.addUser(1, testAccountToken)
	seedLinkedSubscription(t, repo, 1, "orig-1", models.SubscriptionStatusActive, time.Now().Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 0, client.calls)
}
