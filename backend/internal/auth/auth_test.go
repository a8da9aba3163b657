package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHash(t *testing.T) {
	Cost = bcrypt.MinCost
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, CheckPasswordHash("s3cret", hash))
	assert.False(t, CheckPasswordHash("S3cret", hash))

	_, err = HashPassword(string(make([]byte, 73)))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestUnknownAccountStillHashes(t *testing.T) {
	Cost = bcrypt.MinCost
	assert.False(t, CheckPasswordHash("anything", ""))
	assert.False(t, CheckPasswordHash("", ""))

	h, ok := placeholders.Load(bcrypt.MinCost)
	require.True(t, ok, "the placeholder hash was computed and compared")
	cost, err := bcrypt.Cost(h.([]byte))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour)
	require.NoError(t, err)

	tok, err := tokens.Generate(42, "alice")
	require.NoError(t, err)

	claims, err := tokens.Validate(tok)
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)
}

func TestTokensRejects(t *testing.T) {
	_, err := NewTokens("", time.Hour)
	require.Error(t, err)

	tokens, _ := NewTokens("secret", time.Hour)
	other, _ := NewTokens("other", time.Hour)
	tok, _ := other.Generate(1, "mallory")
	_, err = tokens.Validate(tok)
	assert.Error(t, err, "foreign signature")

	expired, _ := NewTokens("secret", -time.Minute)
	tok, _ = expired.Generate(1, "bob")
	_, err = tokens.Validate(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1})
	s, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	_, err = tokens.Validate(s)
	assert.Error(t, err)
}
