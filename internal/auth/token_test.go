package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumastream/signalcore/internal/domain"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	verifier, err := NewVerifier("test-secret")
	require.NoError(t, err)

	identity, err := domain.NewSessionIdentity("u1", "stream-42", domain.RoleHost)
	require.NoError(t, err)
	token, err := issuer.Issue(identity)
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "stream-42", claims.Channel)
	assert.Equal(t, "host", claims.Role)

	got, err := claims.Identity()
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer, err := NewIssuer("secret-a", time.Hour)
	require.NoError(t, err)
	verifier, err := NewVerifier("secret-b")
	require.NoError(t, err)

	identity, err := domain.NewSessionIdentity("u1", "stream-42", domain.RoleHost)
	require.NoError(t, err)
	token, err := issuer.Issue(identity)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	claims := Claims{
		UserID: "u1", Channel: "stream-42", Role: "host",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	verifier, err := NewVerifier("test-secret")
	require.NoError(t, err)
	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	verifier, err := NewVerifier("test-secret")
	require.NoError(t, err)
	_, err = verifier.Verify("not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimsIdentity_BadRole(t *testing.T) {
	claims := &Claims{UserID: "u1", Channel: "stream-42", Role: "admin"}
	_, err := claims.Identity()
	require.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestNewIssuer_EmptySecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	require.ErrorIs(t, err, ErrSecretEmpty)
	_, err = NewVerifier("")
	require.ErrorIs(t, err, ErrSecretEmpty)
}
