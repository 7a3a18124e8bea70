package appstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeNotification(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	d := newDecoder(chain.verifier())

	expires := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	signedTx := chain.sign(t, "ES256", TransactionClaims{
		TransactionID:         "tx-2",
		OriginalTransactionID: "orig-1",
		ProductID:             "com.pitchpal.premium.monthly",
		AppAccountToken:       "7b1c1ec5-25b6-4da1-9a36-23d2c86dfa39",
		Environment:           "Production",
		Type:                  TransactionTypeAutoRenewable,
		ExpiresDate:           expires,
	})
	signedRenewal := chain.sign(t, "ES256", RenewalClaims{
		OriginalTransactionID: "orig-1",
		AutoRenewProductID:    "com.pitchpal.premium.monthly",
		AutoRenewStatus:       1,
		Environment:           "Production",
	})

	signedDate := time.Now().UnixMilli()
	payload := map[string]interface{}{
		"notificationType": NotificationDidRenew,
		"subtype":          "BILLING_RECOVERY",
		"notificationUUID": "uuid-123",
		"signedDate":       signedDate,
		"data": map[string]interface{}{
			"environment":           "Production",
			"signedTransactionInfo": signedTx,
			"signedRenewalInfo":     signedRenewal,
		},
	}

	n, err := d.DecodeNotification(chain.sign(t, "ES256", payload))
	require.NoError(t, err)

	require.Equal(t, NotificationDidRenew, n.NotificationType)
	require.Equal(t, "BILLING_RECOVERY", n.Subtype)
	require.Equal(t, "uuid-123", n.NotificationUUID)
	require.Equal(t, time.UnixMilli(signedDate).UTC(), n.SignedDate)

	require.NotNil(t, n.TransactionInfo)
	require.Equal(t, "orig-1", n.TransactionInfo.OriginalTransactionID)
	require.Equal(t, time.UnixMilli(expires).UTC(), n.TransactionInfo.ExpiresAt())
	require.False(t, n.TransactionInfo.IsRevoked())

	require.NotNil(t, n.RenewalInfo)
	require.True(t, n.RenewalInfo.AutoRenewEnabled())
}

func TestDecodeNotificationWithoutTransactionInfo(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	d := newDecoder(chain.verifier())

	payload := map[string]interface{}{
		"notificationType": NotificationDidChangeRenewalState,
		"notificationUUID": "uuid-456",
		"signedDate":       time.Now().UnixMilli(),
	}

	n, err := d.DecodeNotification(chain.sign(t, "ES256", payload))
	require.NoError(t, err)
	require.Nil(t, n.TransactionInfo)
	require.Nil(t, n.RenewalInfo)
}

// A verified envelope never lends trust to its nested payloads.
func TestDecodeNotificationRejectsUntrustedNestedPayload(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	foreign := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	d := newDecoder(chain.verifier())

	payload := map[string]interface{}{
		"notificationType": NotificationSubscribed,
		"notificationUUID": "uuid-789",
		"signedDate":       time.Now().UnixMilli(),
		"data": map[string]interface{}{
			"signedTransactionInfo": foreign.sign(t, "ES256", TransactionClaims{OriginalTransactionID: "orig-evil"}),
		},
	}

	_, err := d.DecodeNotification(chain.sign(t, "ES256", payload))
	require.Error(t, err)
	require.True(t, IsVerificationError(err))
}

func TestDecodeTransaction(t *testing.T) {
	chain := newTestChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	d := newDecoder(chain.verifier())

	claims, err := d.DecodeTransaction(chain.sign(t, "ES256", TransactionClaims{
		OriginalTransactionID: "orig-9",
		Type:                  TransactionTypeAutoRenewable,
		RevocationDate:        time.Now().UnixMilli(),
	}))
	require.NoError(t, err)
	require.Equal(t, "orig-9", claims.OriginalTransactionID)
	require.True(t, claims.IsRevoked())
}
