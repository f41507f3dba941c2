package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/selffetch-portal/auth/internal/domain"
)

// Claims is the access-token payload: subject plus the registered
// issued-at/expiry window. Access tokens are stateless and never persisted.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer mints and verifies short-lived HS256 access tokens bound to a
// user id.
type Issuer struct {
	secret    []byte
	accessTTL time.Duration
}

func NewIssuer(secret string, accessTTL time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), accessTTL: accessTTL}
}

// Mint produces a signed token with subject=userID expiring accessTTL from
// now.
func (i *Issuer) Mint(userID uuid.UUID, now time.Time) (string, time.Time, error) {
	exp := now.Add(i.accessTTL)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature and expiry and returns the subject user id. It has
// no side effects and consults no state beyond the signing secret.
func (i *Issuer) Verify(tokenString string, now time.Time) (uuid.UUID, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidAccessToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid {
		return uuid.Nil, domain.ErrInvalidAccessToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidAccessToken
	}
	return userID, nil
}
