package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukasweber/PitchPal/app/models"
)

func testUser() *models.User {
	return &models.User{
		ID:                 42,
		Name:               "carla",
		Tier:               models.TierPremium,
		EntitlementVersion: 7,
		IsGuest:            false,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := IssueAccessToken(testUser())
	require.NoError(t, err)

	claims, err := ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, uint64(7), claims.EntitlementVersion)
	assert.Equal(t, models.TierPremium, claims.Tier)
	assert.False(t, claims.IsGuest)
	assert.Equal(t, "42", claims.Subject)

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	assert.Equal(t, defaultAccessTokenTTL, ttl)
}

func TestIssueAccessTokenRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := IssueAccessToken(testUser())
	require.Error(t, err)
}

func TestParseAccessTokenRejectsWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "first-secret")
	token, err := IssueAccessToken(testUser())
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", "second-secret")
	_, err = ParseAccessToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	now := time.Now()
	claims := AccessClaims{
		UserID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-30 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ParseAccessToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessTokenRejectsUnsignedAlgorithm(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	claims := AccessClaims{
		UserID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseAccessToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRefreshTokenHashesConsistently(t *testing.T) {
	raw, hash, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Len(t, hash, 64)
	assert.Equal(t, models.HashRefreshToken(raw), hash)

	raw2, hash2, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
	assert.NotEqual(t, hash, hash2)
}

func TestIssueTokenPair(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	pair, record, err := IssueTokenPair(testUser(), "iPhone15,2", "203.0.113.7")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(defaultAccessTokenTTL.Seconds()), pair.ExpiresIn)

	assert.Equal(t, uint(42), record.UserID)
	assert.Equal(t, models.HashRefreshToken(pair.RefreshToken), record.TokenHash)
	assert.Equal(t, "iPhone15,2", record.DeviceInfo)
	assert.True(t, record.IsUsable(time.Now()))
	assert.WithinDuration(t, time.Now().Add(defaultRefreshTokenTTL), record.ExpiresAt, time.Minute)
}
