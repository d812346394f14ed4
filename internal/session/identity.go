package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"billtrack/internal/core"
)

// Identity is the subject carried in the access credential.
type Identity struct {
	UserID    int64
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the credential is past its expiry at now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

type accessClaims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	TokenType string `json:"token_type"`
}

// DecodeIdentity reads the claims of an access token without verifying its
// signature; the server remains the authority on validity.
func DecodeIdentity(token string) (Identity, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, &core.IdentityDecodeError{Err: err}
	}
	if claims.Username == "" {
		return Identity{}, &core.IdentityDecodeError{Err: errors.New("token has no username claim")}
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return Identity{}, &core.IdentityDecodeError{Err: fmt.Errorf("unexpected token type %q", claims.TokenType)}
	}

	id := Identity{UserID: claims.UserID, Username: claims.Username}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
