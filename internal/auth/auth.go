// Package auth authenticates the single administrator and issues the
// session token carried in the jwt cookie.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the cookie that carries the admin session token.
const CookieName = "jwt"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrNotConfigured      = errors.New("admin authentication is not configured")
)

// Config holds the administrator identity and signing secret.
type Config struct {
	AdminEmail   string
	PasswordHash string // bcrypt
	JWTSecret    string
	TokenTTL     time.Duration
}

// Claims are the session token claims.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	config Config
	now    func() time.Time
}

func New(cfg Config) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Authenticator{config: cfg, now: time.Now}
}

// TokenTTL returns how long issued tokens stay valid.
func (a *Authenticator) TokenTTL() time.Duration {
	return a.config.TokenTTL
}

// Login checks the admin credentials and returns a signed session token.
func (a *Authenticator) Login(email, password string) (string, error) {
	if a.config.AdminEmail == "" || a.config.PasswordHash == "" || a.config.JWTSecret == "" {
		return "", ErrNotConfigured
	}

	// Always run bcrypt so a wrong email costs the same as a wrong password.
	pwErr := bcrypt.CompareHashAndPassword([]byte(a.config.PasswordHash), []byte(password))
	if !strings.EqualFold(strings.TrimSpace(email), a.config.AdminEmail) || pwErr != nil {
		return "", ErrInvalidCredentials
	}

	now := a.now()
	claims := Claims{
		Email: a.config.AdminEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify parses a session token and confirms it belongs to the admin.
// It returns ErrInvalidToken for bad or expired tokens and
// ErrNotAuthorized for valid tokens issued to someone else.
func (a *Authenticator) Verify(tokenStr string) (*Claims, error) {
	if a.config.JWTSecret == "" {
		return nil, ErrNotConfigured
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !strings.EqualFold(claims.Email, a.config.AdminEmail) {
		return nil, ErrNotAuthorized
	}
	return &claims, nil
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
