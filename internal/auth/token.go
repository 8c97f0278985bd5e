// Package auth issues and verifies the short-lived access tokens the HTTP
// layer uses to identify the acting user.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the actor carried by a verified token. Position feeds the
// redaction labels; Role gates admin-only routes.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string
	Position    string
}

type Service struct {
	secret    []byte
	accessTTL time.Duration
}

func NewService(secret string, accessTTL time.Duration) (*Service, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("auth: jwt secret shorter than 16 bytes")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &Service{secret: []byte(secret), accessTTL: accessTTL}, nil
}

// IssueAccessToken signs an HS256 token for the identity.
func (s *Service) IssueAccessToken(id Identity) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)

	claims := jwt.MapClaims{
		"sub":      id.UserID,
		"name":     id.DisplayName,
		"role":     id.Role,
		"position": id.Position,
		"iat":      now.Unix(),
		"exp":      expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return token, expiresAt, nil
}

// VerifyAccessToken parses and validates a token, returning the identity it
// carries. Expired or tampered tokens fail.
func (s *Service) VerifyAccessToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	position, _ := claims["position"].(string)

	return Identity{UserID: sub, DisplayName: name, Role: role, Position: position}, nil
}
