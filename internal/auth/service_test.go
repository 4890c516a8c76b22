package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RoundTrip(t *testing.T) {
	svc := NewService("tradecore", []byte("secret"), time.Hour)
	token, err := svc.IssueToken("user-1")
	require.NoError(t, err)
	sub, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestService_RejectsBadTokens(t *testing.T) {
	svc := NewService("tradecore", []byte("secret"), time.Hour)

	other := NewService("tradecore", []byte("other-secret"), time.Hour)
	forged, err := other.IssueToken("user-1")
	require.NoError(t, err)

	wrongIssuer := NewService("someone-else", []byte("secret"), time.Hour)
	foreign, err := wrongIssuer.IssueToken("user-1")
	require.NoError(t, err)

	expiredSvc := NewService("tradecore", []byte("secret"), time.Hour)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredSvc.IssueToken("user-1")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1", Issuer: "tradecore"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not.a.jwt",
		"wrong secret": forged,
		"wrong issuer": foreign,
		"expired":      expired,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ParseToken(token)
			assert.True(t, errors.Is(err, ErrInvalidToken), "err = %v", err)
		})
	}
}

func TestInternalToken(t *testing.T) {
	hash, err := HashInternalToken("s3cret")
	require.NoError(t, err)
	assert.True(t, VerifyInternalToken(hash, "s3cret"))
	assert.False(t, VerifyInternalToken(hash, "guess"))
	assert.False(t, VerifyInternalToken("", "s3cret"))
	assert.False(t, VerifyInternalToken(hash, ""))
}
