// Package auth implements the password gate and the signed session tokens
// handed to clients that pass it.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const tokenType = "session"

var (
	ErrNotConfigured   = errors.New("no password configured")
	ErrNoTokenSecret   = errors.New("no token secret configured")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
)

// Claims is the payload embedded in a session token.
type Claims struct {
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Type      string `json:"typ"`
}

// Token is an issued session token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Config holds the auth settings. Exactly one of Password or PasswordHash
// should be set; PasswordHash wins when both are. Secret falls back to
// Password, so a hash-only deployment must set it explicitly.
type Config struct {
	Password     string
	PasswordHash string
	Secret       string
	TTL          time.Duration
}

// Service checks passwords and issues and verifies session tokens. Tokens
// are base64url(claims).base64url(hmac-sha256 signature).
type Service struct {
	cfg Config
	now func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock replaces the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg Config, opts ...Option) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Secret == "" {
		cfg.Secret = cfg.Password
	}
	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate checks the supplied password against the configured secret.
func (s *Service) Authenticate(password string) error {
	if s.cfg.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)); err != nil {
			return ErrInvalidPassword
		}
		return nil
	}
	if s.cfg.Password == "" {
		return ErrNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// Issue authenticates the password and, on success, mints a signed session
// token.
func (s *Service) Issue(password string) (*Token, error) {
	if err := s.Authenticate(password); err != nil {
		return nil, err
	}
	// A hash-only deployment has no plaintext password to fall back on;
	// without an explicit secret the HMAC key would be empty and anyone
	// could mint tokens.
	if s.cfg.Secret == "" {
		return nil, ErrNoTokenSecret
	}

	issued := s.now()
	expires := issued.Add(s.cfg.TTL)
	payload, err := json.Marshal(&Claims{
		IssuedAt:  issued.Unix(),
		ExpiresAt: expires.Unix(),
		Type:      tokenType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString(s.sign(encoded))
	return &Token{Value: encoded + "." + sig, ExpiresAt: expires}, nil
}

// Verify checks the token's signature and expiry and returns its claims.
func (s *Service) Verify(token string) (*Claims, error) {
	if s.cfg.Secret == "" {
		return nil, ErrInvalidToken
	}
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidToken
	}

	wantSig := base64.RawURLEncoding.EncodeToString(s.sign(encoded))
	if !hmac.Equal([]byte(sig), []byte(wantSig)) {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != tokenType {
		return nil, ErrInvalidToken
	}
	if s.now().Unix() >= claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func (s *Service) sign(payload string) []byte {
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
