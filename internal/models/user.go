package models

import "time"

const (
	RoleBasic = "basic"
	RoleAdmin = "admin"
)

type User struct {
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Program      string     `json:"program"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	ResetKey     string     `json:"-"`
	ResetExpiry  *time.Time `json:"-"`
}

type Session struct {
	Key       string    `json:"session_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the session is still usable at now.
func (s Session) Valid(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// VerificationToken holds a registration until its owner proves the email address.
type VerificationToken struct {
	Token     string    `json:"-"`
	Candidate User      `json:"candidate"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
