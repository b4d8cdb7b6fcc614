package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-with-enough-length-123456"

func newTestManager(accessExpiry time.Duration) *Manager {
	return NewManager(testSecret, "coinup", accessExpiry, 24*time.Hour)
}

func TestGenerateAndValidate(t *testing.T) {
	m := newTestManager(15 * time.Minute)

	pair, err := m.GenerateTokenPair("user-1", "alice@example.com", "user")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := m.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.NotEmpty(t, claims.ID, "每个令牌都应带 jti 以支持拉黑")
}

func TestTokensCarryDistinctJTI(t *testing.T) {
	m := newTestManager(15 * time.Minute)

	pair, err := m.GenerateTokenPair("user-1", "alice@example.com", "user")
	require.NoError(t, err)

	access, err := m.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	refresh, err := m.ValidateToken(pair.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, access.ID, refresh.ID)
}

func TestValidateRejectsTampered(t *testing.T) {
	m := newTestManager(15 * time.Minute)

	pair, err := m.GenerateTokenPair("user-1", "alice@example.com", "user")
	require.NoError(t, err)

	t.Run("篡改令牌", func(t *testing.T) {
		_, err := m.ValidateToken(pair.AccessToken + "x")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("密钥不匹配", func(t *testing.T) {
		other := NewManager("another-secret-key-with-enough-length-1", "coinup", 15*time.Minute, 24*time.Hour)
		_, err := other.ValidateToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("空令牌", func(t *testing.T) {
		_, err := m.ValidateToken("")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestValidateRejectsExpired(t *testing.T) {
	m := newTestManager(-1 * time.Minute)

	pair, err := m.GenerateTokenPair("user-1", "alice@example.com", "user")
	require.NoError(t, err)

	_, err = m.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRefreshAccessToken(t *testing.T) {
	m := newTestManager(15 * time.Minute)

	pair, err := m.GenerateTokenPair("user-1", "alice@example.com", "admin")
	require.NoError(t, err)

	refreshed, err := m.RefreshAccessToken(pair.RefreshToken)
	require.NoError(t, err)

	claims, err := m.ValidateToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	t.Run("无效刷新令牌", func(t *testing.T) {
		_, err := m.RefreshAccessToken("garbage")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
