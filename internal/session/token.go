package session

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

type Claims struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	jwt.RegisteredClaims
}

// TokenParser turns an HS256 access token into an identity.
type TokenParser struct {
	secret []byte
}

func NewTokenParser(secret string) *TokenParser {
	return &TokenParser{secret: []byte(secret)}
}

func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header empty")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

func (p *TokenParser) Identity(tokenStr string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil {
		return domain.Identity{}, errors.Join(domain.ErrAuthRequired, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return domain.Identity{}, domain.ErrAuthRequired
	}
	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	return domain.Identity{ID: claims.Subject, DisplayName: name, AvatarRef: claims.Avatar}, nil
}
