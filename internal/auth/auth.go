package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrBadToken = errors.New("invalid token")

// DefaultTTL is the lifetime of tokens minted by MakeToken.
const DefaultTTL = 15 * time.Minute

type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// short-lived access token (15 min)
func MakeToken(uid, secret string) (string, error) {
	return MakeTokenTTL(uid, secret, DefaultTTL)
}

func MakeTokenTTL(uid, secret string, ttl time.Duration) (string, error) {
	if uid == "" {
		return "", ErrBadToken
	}
	now := time.Now()
	c := Claims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func ParseToken(raw, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		// block alg confusion
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || c.UserID == "" {
		return nil, ErrBadToken
	}
	return c, nil
}

// BearerToken pulls the token out of an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
