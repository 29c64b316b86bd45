// internal/auth/token.go
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken            = errors.New("invalid token")
	ErrUnexpectedSigningMethod = errors.New("unexpected signing method")
)

const tokenIssuer = "strata"

// TokenVerifier turns a bearer token into verified claims.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Grants     []Grant     `json:"grants"`
	PathGrants []PathGrant `json:"path_grants,omitempty"`
}

// HMACVerifier verifies HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret, now: time.Now}
}

func (v *HMACVerifier) Verify(tokenString string) (*Claims, error) {
	tc := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, tc, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedSigningMethod, token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject:    tc.Subject,
		Grants:     tc.Grants,
		PathGrants: tc.PathGrants,
	}
	if tc.ExpiresAt != nil {
		exp := tc.ExpiresAt.Time
		claims.ExpiresAt = &exp
	}
	return claims, nil
}

// Sign issues an HS256 token for claims. Issuance belongs to an external identity
// service; this exists for tooling and tests.
func Sign(secret []byte, claims Claims, issuedAt time.Time) (string, error) {
	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  claims.Subject,
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
		Grants:     claims.Grants,
		PathGrants: claims.PathGrants,
	}
	if claims.ExpiresAt != nil {
		tc.ExpiresAt = jwt.NewNumericDate(*claims.ExpiresAt)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(secret)
}
