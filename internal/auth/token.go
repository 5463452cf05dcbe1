// Package auth issues and verifies the signaling login tokens. The
// token binds uid, channel and role for the lifetime of one
// connection; a role change needs a fresh token and a rejoin.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumastream/signalcore/internal/domain"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrSecretEmpty  = errors.New("token secret empty")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	UserID  string `json:"uid"`
	Channel string `json:"channel"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() (domain.SessionIdentity, error) {
	return domain.NewSessionIdentity(
		domain.UserID(c.UserID),
		domain.ChannelName(c.Channel),
		domain.Role(c.Role),
	)
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrSecretEmpty
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

func (i *Issuer) Issue(identity domain.SessionIdentity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  string(identity.UserID),
		Channel: string(identity.Channel),
		Role:    string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(i.secret)
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrSecretEmpty
	}
	return &Verifier{secret: []byte(secret)}, nil
}

func (v *Verifier) Verify(token string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
