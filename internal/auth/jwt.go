// Package auth supplies the owner identity (markedBy) that scopes every
// store and remote operation, and the bearer tokens the remote service
// uses to check it.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleStaff is the role carried by tokens issued to staff accounts.
const RoleStaff = "staff"

// Claims represents JWT payload. The registered subject is the owner id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Owner returns the owner id carried by the token.
func (c Claims) Owner() string {
	return c.Subject
}

// Issue issues a signed HS256 token for owner.
func Issue(owner, role, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	if owner == "" {
		return "", time.Time{}, errors.New("owner is required")
	}
	if key == "" {
		return "", time.Time{}, errors.New("signing key is required")
	}
	now := time.Now()
	exp := now.Add(ttl)

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   owner,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("token has no subject")
	}
	return *claims, nil
}

// SubjectOf reads the owner id from a token without verifying its
// signature. Clients use it to learn who they are signed in as; the
// remote service still verifies every token it receives.
func SubjectOf(tokenStr string) (string, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
