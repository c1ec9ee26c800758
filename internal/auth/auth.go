// Package auth provides credential verification and JWT session tokens for
// the HTTP API.
package auth

import (
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/lauritssn/yolo-llm-vision/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Authenticator verifies the single configured user and issues tokens.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *TokenManager
}

// NewAuthenticator builds an authenticator from the loaded settings. The
// configured password may be either plaintext or a pre-computed bcrypt hash.
func NewAuthenticator(settings config.Settings, log zerolog.Logger) *Authenticator {
	username := settings.AuthUsername
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if settings.AuthEnabled && settings.AuthPassword != "" {
		if len(settings.AuthPassword) == 60 && settings.AuthPassword[0] == '$' {
			passwordHash = []byte(settings.AuthPassword)
		} else if hash, err := bcrypt.GenerateFromPassword([]byte(settings.AuthPassword), bcrypt.DefaultCost); err == nil {
			passwordHash = hash
		} else {
			log.Error().Err(err).Msg("failed to hash configured password")
		}
	}
	if settings.AuthEnabled && passwordHash == nil {
		log.Warn().Msg("auth enabled but no usable password configured, all logins will fail")
	}

	return &Authenticator{
		enabled:      settings.AuthEnabled,
		username:     username,
		passwordHash: passwordHash,
		tokens:       NewTokenManager(settings.JWTSecret, log),
	}
}

// IsEnabled reports whether authentication is required on API routes.
func (a *Authenticator) IsEnabled() bool { return a.enabled }

// Authenticate checks the credentials and returns a signed token plus its
// unix expiry.
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}
	if username != a.username || a.passwordHash == nil {
		return "", 0, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.tokens.Generate(username)
	if err != nil {
		return "", 0, err
	}
	return token, expiresAt.Unix(), nil
}

// ValidateToken checks a bearer token and returns its claims.
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.Validate(token)
}
