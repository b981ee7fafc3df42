package entity

import "time"

// User represents an account row in the `users` table with its roles joined in.
type User struct {
	ID               int64     `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	Name             string    `db:"name" json:"name"`
	PasswordHash     string    `db:"password_hash" json:"-"`
	Active           bool      `db:"active" json:"active"`
	Blocked          bool      `db:"blocked" json:"blocked"`
	TwoFactorEnabled bool      `db:"two_factor_enabled" json:"twoFactorEnabled"`
	TwoFactorSecret  *string   `db:"two_factor_secret" json:"-"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
	Roles            []string  `db:"-" json:"roles"`
}

// HasTwoFactorSecret reports whether a TOTP secret has been stored.
func (u *User) HasTwoFactorSecret() bool {
	return u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}

// PublicUser is the projection returned to clients after authentication.
type PublicUser struct {
	ID    int64    `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// Public projects the user without credentials or account state.
func (u *User) Public() PublicUser {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return PublicUser{ID: u.ID, Email: u.Email, Name: u.Name, Roles: roles}
}

// Role is a named permission tag.
type Role struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// LoginAttempt is an append-only record of one credential check.
type LoginAttempt struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"userId"`
	Success   bool      `db:"success" json:"success"`
	IP        string    `db:"ip" json:"ip"`
	AttemptAt time.Time `db:"attempt_at" json:"attemptAt"`
}

// HasAnyRole reports whether held and allowed intersect.
func HasAnyRole(held, allowed []string) bool {
	for _, h := range held {
		for _, a := range allowed {
			if h == a {
				return true
			}
		}
	}
	return false
}
