package appstore

import (
	"crypto/ecdsa"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lukasweber/PitchPal/internal/pkg/env"
)

// Service tokens authenticate outbound calls to the App Store Server API.
// They use a dedicated signing key issued in App Store Connect; this key has
// nothing to do with the receipt verification trust root.
const (
	serviceTokenAudience = "appstoreconnect-v1"
	serviceTokenTTL      = 20 * time.Minute
	// Reissue slightly before expiry so an in-flight request never carries a
	// token that lapses mid-call.
	serviceTokenSkew = time.Minute
)

// TokenSource mints and caches short-lived ES256 service tokens.
type TokenSource struct {
	issuerID string
	keyID    string
	bundleID string
	key      *ecdsa.PrivateKey

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
	now       func() time.Time
}

// NewTokenSourceFromEnv builds a token source from APPSTORE_* env config.
// The private key value may contain literal "\n" sequences (single-line .env
// entries); they are unescaped before parsing.
func NewTokenSourceFromEnv() (*TokenSource, error) {
	issuerID := strings.TrimSpace(env.GetEnv("APPSTORE_ISSUER_ID", ""))
	keyID := strings.TrimSpace(env.GetEnv("APPSTORE_KEY_ID", ""))
	bundleID := strings.TrimSpace(env.GetEnv("APPSTORE_BUNDLE_ID", ""))
	privateKeyPEM := strings.ReplaceAll(env.GetEnv("APPSTORE_PRIVATE_KEY", ""), `\n`, "\n")

	if issuerID == "" || keyID == "" || bundleID == "" || privateKeyPEM == "" {
		return nil, errors.New("appstore: service API credentials not configured")
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, err
	}

	return &TokenSource{
		issuerID: issuerID,
		keyID:    keyID,
		bundleID: bundleID,
		key:      key,
		now:      time.Now,
	}, nil
}

// Token returns a cached service token, minting a fresh one when the current
// token is within the reissue window.
func (ts *TokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.cached != "" && now.Before(ts.expiresAt.Add(-serviceTokenSkew)) {
		return ts.cached, nil
	}

	expiresAt := now.Add(serviceTokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    ts.issuerID,
		Subject:   ts.bundleID,
		Audience:  jwt.ClaimStrings{serviceTokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = ts.keyID

	signed, err := token.SignedString(ts.key)
	if err != nil {
		return "", err
	}

	ts.cached = signed
	ts.expiresAt = expiresAt
	return signed, nil
}
