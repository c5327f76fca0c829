// Package session issues and verifies the bearer tokens that upgrade a
// request from Public to Authenticated access. Tokens are HS256 JWTs
// carrying the subject identity the ownership checks compare against.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/kataras/jwt"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims is the identity a verified token carries.
type Claims struct {
	Subject string `json:"sub"`
}

// Verifier is the read side consumed by the access-level evaluator.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// Service issues and verifies session tokens under one signing key.
type Service struct {
	key    []byte
	maxAge time.Duration
}

// DefaultTokenTTL bounds a session's lifetime unless configured otherwise.
const DefaultTokenTTL = 24 * time.Hour

func New(secret string, maxAge time.Duration) *Service {
	if maxAge <= 0 {
		maxAge = DefaultTokenTTL
	}
	return &Service{key: []byte(secret), maxAge: maxAge}
}

// Issue signs a token for the subject. errors only on a broken signing key.
func (s *Service) Issue(claims Claims) (string, error) {
	token, err := jwt.Sign(jwt.HS256, s.key, claims, jwt.MaxAge(s.maxAge))
	if err != nil {
		return "", err
	}
	return string(token), nil
}

// Verify validates signature and expiry and returns the claims. Any
// failure, including an empty subject, resolves to ErrInvalidToken.
func (s *Service) Verify(token string) (Claims, error) {
	verified, err := jwt.Verify(jwt.HS256, s.key, []byte(token))
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := verified.Claims(&claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
