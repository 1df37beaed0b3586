package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueSessionTokenRoundTrips(t *testing.T) {
	token, err := issueSessionToken("test-secret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, "kilnd", claims.Issuer)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
}

func TestValidateSessionTokenRejectsWrongSecret(t *testing.T) {
	token, err := issueSessionToken("secret-a")
	require.NoError(t, err)

	assert.NoError(t, validateSessionToken(token, "secret-a"))
	assert.Error(t, validateSessionToken(token, "secret-b"))
}

func TestValidateSessionTokenRejectsEmpty(t *testing.T) {
	assert.Error(t, validateSessionToken("", "secret"))
}

func TestValidateSessionTokenRejectsExpired(t *testing.T) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kilnd",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	assert.Error(t, validateSessionToken(token, "secret"))
}
