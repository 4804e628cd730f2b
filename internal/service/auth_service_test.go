package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestAuthService_ValidateToken(t *testing.T) {
	t.Parallel()

	svc, err := NewAuthService("test-secret", time.Minute)
	require.NoError(t, err)

	t.Run("accepts issued access token", func(t *testing.T) {
		token, err := svc.IssueAccessToken(7, "Jane", "admin")
		require.NoError(t, err)

		claims, err := svc.ValidateToken(token, "access")
		require.NoError(t, err)
		require.Equal(t, int64(7), claims.ActorID)
		require.Equal(t, "7", claims.UserID)
		require.Equal(t, "admin", claims.Role)
	})

	t.Run("rejects wrong token type", func(t *testing.T) {
		token, err := svc.IssueAccessToken(7, "Jane", "admin")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token, "refresh")
		require.Error(t, err)
	})

	t.Run("rejects foreign secret", func(t *testing.T) {
		other, err := NewAuthService("other-secret", time.Minute)
		require.NoError(t, err)
		token, err := other.IssueAccessToken(7, "Jane", "admin")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token, "access")
		require.Error(t, err)
	})

	t.Run("rejects non numeric subject", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "alice",
			"typ": "access",
			"exp": time.Now().Add(time.Minute).Unix(),
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = svc.ValidateToken(token, "access")
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid token subject")
	})

	t.Run("rejects expired token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "7",
			"typ": "access",
			"exp": time.Now().Add(-time.Minute).Unix(),
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = svc.ValidateToken(token, "access")
		require.Error(t, err)
	})
}

func TestNewAuthService_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewAuthService("  ", time.Minute)
	require.Error(t, err)
}
