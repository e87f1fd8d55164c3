// Package auth is the client for the external magic-link auth service.
// The service itself (email delivery, token issuance, session storage)
// is a black box; this package only drives its documented endpoints and
// keeps the resulting session across runs.
package auth

import (
	"errors"
	"fmt"
)

// User is the authenticated identity exposed by the auth service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an authenticated session as returned by token verification.
type Session struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// AuthError indicates that the auth service rejected the credentials or
// session, as opposed to a transport failure.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// SessionStore persists the serialized session between runs.
type SessionStore interface {
	Load() (string, error)
	Save(value string) error
	Delete() error
}
