// Package token issues and verifies WOPI access tokens. A token is an HS256
// JWT bound to one user, one file and one scope.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope is the capability a token grants on its file.
type Scope string

const (
	ScopeView Scope = "view"
	ScopeEdit Scope = "edit"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and missing claims.
	ErrInvalidToken = errors.New("invalid access token")

	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("access token expired")
)

// Claims is the payload carried by an access token. The user id travels in
// the standard "sub" claim.
type Claims struct {
	UserName  string `json:"name,omitempty"`
	UserEmail string `json:"email,omitempty"`
	FileID    string `json:"file_id"`
	Scope     Scope  `json:"scope"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// Manager signs and verifies tokens with a shared HMAC secret.
type Manager struct {
	secret []byte
	parser *jwt.Parser
}

// NewManager returns a Manager using secret as the HMAC key.
func NewManager(secret string) *Manager {
	return &Manager{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify checks the signature and expiry of tokenString and returns its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" || claims.FileID == "" {
		return nil, fmt.Errorf("%w: missing subject or file id", ErrInvalidToken)
	}
	if claims.Scope != ScopeView && claims.Scope != ScopeEdit {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidToken, claims.Scope)
	}
	return claims, nil
}

// Issue signs a token for userID on fileID that expires at expiresAt.
func (m *Manager) Issue(userID, userName, userEmail, fileID string, scope Scope, expiresAt time.Time) (string, error) {
	claims := Claims{
		UserName:  userName,
		UserEmail: userEmail,
		FileID:    fileID,
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// HasScope reports whether the token's scope covers required.
// Edit implies view.
func HasScope(c *Claims, required Scope) bool {
	switch required {
	case ScopeView:
		return c.Scope == ScopeView || c.Scope == ScopeEdit
	case ScopeEdit:
		return c.Scope == ScopeEdit
	default:
		return false
	}
}
