package authn

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openclaw/core/internal/coreerr"
)

// BearerTokenTTL is how long an operator bearer token stays valid once
// minted. It is short-lived: the handshake itself remains the durable
// credential, this token only smooths reconnects (the client presents it as
// auth.bearer on its next handshake) without requiring a device signature
// or password round-trip every time. The TCP-probe status CLI subcommand
// does not use it.
const BearerTokenTTL = 10 * time.Minute

// BearerIssuer mints and verifies HS256 JWTs scoped to one principal,
// grounded on _examples/2389-research-coven-gateway's JWTVerifier.
type BearerIssuer struct {
	secret []byte
}

func NewBearerIssuer(secret []byte) *BearerIssuer {
	return &BearerIssuer{secret: secret}
}

type bearerClaims struct {
	jwt.RegisteredClaims
	Role   string   `json:"role"`
	Scopes []string `json:"scopes"`
}

// Issue mints a bearer token for principal, valid for BearerTokenTTL.
func (b *BearerIssuer) Issue(principal Principal) (string, error) {
	now := time.Now()
	claims := bearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(BearerTokenTTL)),
		},
		Role:   principal.Role,
		Scopes: principal.Scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(b.secret)
}

// Verify validates tokenString and reconstructs the Principal it was issued
// for.
func (b *BearerIssuer) Verify(tokenString string) (Principal, error) {
	var claims bearerClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, fmt.Errorf("%w: bearer token expired", coreerr.ErrUnauthorized)
		}
		return Principal{}, fmt.Errorf("%w: %v", coreerr.ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, coreerr.ErrUnauthorized
	}
	return Principal{Mode: ModeToken, ID: claims.Subject, Role: claims.Role, Scopes: claims.Scopes}, nil
}
