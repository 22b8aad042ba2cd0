package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Token purposes. Session tokens authenticate requests; the others are
// single-purpose links sent by email.
const (
	PurposeSession       = "session"
	PurposeValidateEmail = "validate_email"
	PurposeEmailChange   = "email_change"
	PurposePasswordReset = "password_reset"
)

const issuer = "bryn"

// ErrWrongPurpose is returned when a token is presented to the wrong flow.
var ErrWrongPurpose = errors.New("token issued for a different purpose")

// Claims defines JWT payload.
type Claims struct {
	UserID  int64  `json:"user_id"`
	Purpose string `json:"purpose"`
	// Binding ties an email token to mutable account state (pending email,
	// password hash fingerprint) so it stops working once that state changes.
	Binding string `json:"binding,omitempty"`
	jwtlib.RegisteredClaims
}

// GenerateToken issues a signed session JWT with provided secret and ttl.
func GenerateToken(userID int64, secret string, ttl time.Duration) (string, error) {
	return GeneratePurposeToken(userID, PurposeSession, "", secret, ttl)
}

// GeneratePurposeToken issues a signed JWT scoped to purpose.
func GeneratePurposeToken(userID int64, purpose, binding, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  userID,
		Purpose: purpose,
		Binding: binding,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}

// ParsePurpose validates token and checks it was issued for purpose.
func ParsePurpose(token, purpose, secret string) (*Claims, error) {
	claims, err := Parse(token, secret)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}
