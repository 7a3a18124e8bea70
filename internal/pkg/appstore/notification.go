package appstore

import (
	"encoding/json"
	"fmt"
)

// Decoder unwraps signed notification envelopes and bare signed transactions
// into normalized records. Every nested payload is verified independently
// through the same trust verifier.
type Decoder struct {
	verifier *Verifier
}

// NewDecoder returns a decoder backed by the pinned-root verifier.
func NewDecoder() (*Decoder, error) {
	v, err := NewVerifier()
	if err != nil {
		return nil, err
	}
	return &Decoder{verifier: v}, nil
}

func newDecoder(v *Verifier) *Decoder {
	return &Decoder{verifier: v}
}

// DecodeNotification verifies the outer envelope and the embedded transaction
// and renewal payloads when present.
func (d *Decoder) DecodeNotification(signedPayload string) (*Notification, error) {
	raw, err := d.verifier.Verify(signedPayload)
	if err != nil {
		return nil, err
	}

	var envelope notificationEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: envelope claims are not JSON: %v", ErrMalformedPayload, err)
	}

	notification := &Notification{
		NotificationType: envelope.NotificationType,
		Subtype:          envelope.Subtype,
		NotificationUUID: envelope.NotificationUUID,
		SignedDate:       timeFromMillis(envelope.SignedDate),
	}

	if envelope.Data.SignedTransactionInfo != "" {
		tx, err := d.DecodeTransaction(envelope.Data.SignedTransactionInfo)
		if err != nil {
			return nil, fmt.Errorf("transaction info: %w", err)
		}
		notification.TransactionInfo = tx
	}

	if envelope.Data.SignedRenewalInfo != "" {
		renewal, err := d.DecodeRenewalInfo(envelope.Data.SignedRenewalInfo)
		if err != nil {
			return nil, fmt.Errorf("renewal info: %w", err)
		}
		notification.RenewalInfo = renewal
	}

	return notification, nil
}

// DecodeTransaction verifies a bare signed transaction, as submitted by the
// client on purchase or restore.
func (d *Decoder) DecodeTransaction(signedTransaction string) (*TransactionClaims, error) {
	raw, err := d.verifier.Verify(signedTransaction)
	if err != nil {
		return nil, err
	}
	var claims TransactionClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: transaction claims are not JSON: %v", ErrMalformedPayload, err)
	}
	return &claims, nil
}

// DecodeRenewalInfo verifies a bare signed renewal info payload.
func (d *Decoder) DecodeRenewalInfo(signedRenewalInfo string) (*RenewalClaims, error) {
	raw, err := d.verifier.Verify(signedRenewalInfo)
	if err != nil {
		return nil, err
	}
	var claims RenewalClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: renewal claims are not JSON: %v", ErrMalformedPayload, err)
	}
	return &claims, nil
}
