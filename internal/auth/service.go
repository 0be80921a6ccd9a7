package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// CredentialSource looks up login credentials. Implemented by the
// identity user store.
type CredentialSource interface {
	CredentialsByEmail(ctx context.Context, email string) (Credentials, error)
}

// Service wraps authentication business rules.
type Service struct {
	source CredentialSource
	tokens *TokenStore
}

// NewService constructs a new Service.
func NewService(source CredentialSource, tokens *TokenStore) *Service {
	return &Service{source: source, tokens: tokens}
}

// Login validates email/password and issues a bearer token. Every
// failure mode maps to the same error so callers cannot probe for
// account existence.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	creds, err := s.source.CredentialsByEmail(ctx, email)
	if err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	if !creds.IsActive {
		return Session{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	return s.tokens.Issue(ctx, creds.UserID)
}

// Logout revokes the given token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// Resolve maps a bearer token to a user id.
func (s *Service) Resolve(ctx context.Context, token string) (int64, error) {
	return s.tokens.Resolve(ctx, token)
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
