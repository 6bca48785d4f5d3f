package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/admin-platform/backend/internal/models"
)

const issuer = "admin-platform"

// Claims identify the actor behind a request. The actor id is the subject.
type Claims struct {
	ActorType string   `json:"actor_type"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Actor() *models.Actor {
	if c.Subject == "" {
		return nil
	}
	actorType := c.ActorType
	if actorType == "" {
		actorType = models.ActorUser
	}
	return &models.Actor{Type: actorType, ID: c.Subject}
}

// GenerateJWT signs a token for the actor. expiration <= 0 means 24h.
func GenerateJWT(secret string, actor models.Actor, roles []string, expiration time.Duration) (string, error) {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	now := time.Now()
	claims := Claims{
		ActorType: actor.Type,
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
