package auth

import "time"

// Credentials is the slice of a user account that authentication needs.
// The identity package owns the full user record.
type Credentials struct {
	UserID       int64
	Email        string
	PasswordHash string
	IsActive     bool
}

// Session is a bearer token issued at login.
type Session struct {
	Token     string
	UserID    int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}
