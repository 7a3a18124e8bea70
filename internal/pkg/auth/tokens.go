package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/internal/pkg/env"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("auth: invalid or expired token")

// AccessClaims is the payload of a short-lived access token. The embedded
// entitlement version lets middleware detect tokens minted before a tier
// change without a user lookup per request.
type AccessClaims struct {
	UserID             uint   `json:"uid"`
	EntitlementVersion uint64 `json:"entv"`
	IsGuest            bool   `json:"is_guest"`
	Tier               string `json:"tier"`
	jwt.RegisteredClaims
}

// TokenPair is what login, verify and restore hand back to the client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func jwtSecret() []byte {
	return []byte(env.GetEnv("JWT_SECRET", ""))
}

// AccessTokenTTL returns the configured access token lifetime.
func AccessTokenTTL() time.Duration {
	return env.GetEnvDuration("JWT_ACCESS_TTL", defaultAccessTokenTTL)
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func RefreshTokenTTL() time.Duration {
	return env.GetEnvDuration("JWT_REFRESH_TTL", defaultRefreshTokenTTL)
}

// IssueAccessToken mints a signed access token snapshotting the user's
// current tier and entitlement version.
func IssueAccessToken(user *models.User) (string, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return "", errors.New("auth: JWT_SECRET is not configured")
	}

	now := time.Now()
	claims := AccessClaims{
		UserID:             user.ID,
		EntitlementVersion: user.EntitlementVersion,
		IsGuest:            user.IsGuest,
		Tier:               user.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL())),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseAccessToken validates signature and expiry and returns the claims.
func ParseAccessToken(tokenString string) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken generates a raw refresh token and the hash to persist.
// The raw value goes to the client once and is never stored.
func NewRefreshToken() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("auth: generating refresh token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, models.HashRefreshToken(raw), nil
}

// IssueTokenPair mints an access token plus a fresh refresh token. The
// returned model still has to be persisted by the caller.
func IssueTokenPair(user *models.User, deviceInfo, ipAddress string) (*TokenPair, *models.RefreshToken, error) {
	accessToken, err := IssueAccessToken(user)
	if err != nil {
		return nil, nil, err
	}
	raw, hash, err := NewRefreshToken()
	if err != nil {
		return nil, nil, err
	}

	record := &models.RefreshToken{
		UserID:     user.ID,
		TokenHash:  hash,
		DeviceInfo: deviceInfo,
		IPAddress:  ipAddress,
		ExpiresAt:  time.Now().Add(RefreshTokenTTL()),
	}
	pair := &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: raw,
		ExpiresIn:    int64(AccessTokenTTL().Seconds()),
	}
	return pair, record, nil
}
