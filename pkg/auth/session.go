package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL is the fixed lifetime of a session token.
const SessionTTL = 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

// SessionClaims is the identity asserted by a verified session token
type SessionClaims struct {
	UserID string
	Email  string
	Role   Role
}

// IsAdmin reports whether the claims carry the admin role
func (c *SessionClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// SessionIssuer signs and verifies session tokens.
type SessionIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewSessionIssuer creates a new session issuer.
// secret must be at least 32 bytes for HS256.
func NewSessionIssuer(secret []byte) (*SessionIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
	}
	return &SessionIssuer{secret: secret, now: time.Now}, nil
}

// Issue signs a session token for the user with a 24-hour expiry
func (s *SessionIssuer) Issue(user *User) (string, error) {
	now := s.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(SessionTTL).Unix(),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims
func (s *SessionIssuer) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	if userID == "" || email == "" || role == "" {
		return nil, ErrInvalidToken
	}

	return &SessionClaims{
		UserID: userID,
		Email:  email,
		Role:   Role(role),
	}, nil
}
