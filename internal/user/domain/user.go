package domain

import (
	"errors"
	"strings"
)

// AuthenticatedUser is the user returned by a successful OTP verification.
// It is owned by the session and discarded on logout.
type AuthenticatedUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// User is a record of the remote user directory (the /users resource).
type User struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"` // write-only; the directory never returns it
	Phone    string `json:"phone"`
}

// Validate validates the user before it is sent to the directory. Returns an error describing the first failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email is required")
	}
	if !strings.Contains(u.Email, "@") {
		return errors.New("invalid email format")
	}
	return nil
}
