package domain

import "strings"

// User is the identity record owned by the platform's user service. The auth
// core only reads it.
type User struct {
	ID           string
	Email        string // optional
	Phone        string // optional
	Role         Role
	PasswordHash string
}

// HasEmail reports whether the user has a usable email address.
func (u *User) HasEmail() bool {
	return u != nil && strings.TrimSpace(u.Email) != ""
}

// Identity is the minimal tuple handed from credential verification to the
// session manager.
type Identity struct {
	UserID string
	Email  string // empty when the user has none
	Role   Role
}

// Identity returns the identity tuple for u.
func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email, Role: u.Role}
}
