package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("user-1", "a@b.c", "secret")
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@b.c", claims.Email)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("user-1", "", "secret")
	require.NoError(t, err)

	_, err = ValidateToken(token, "other")
	assert.Error(t, err)
}

func TestValidateTokenSubjectFallback(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "sub-9"})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := ValidateToken(signed, "secret")
	require.NoError(t, err)
	assert.Equal(t, "sub-9", claims.UserID)
}

func TestNoSecret(t *testing.T) {
	_, err := GenerateToken("u", "", "")
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = ValidateToken("x.y.z", "")
	assert.ErrorIs(t, err, ErrNoSecret)
}
