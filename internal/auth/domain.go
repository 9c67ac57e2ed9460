package auth

import "time"

// Role is the single authorization flag carried by an account.
type Role string

const (
	// RoleUser is the default role assigned at registration.
	RoleUser Role = "user"
	// RoleAdmin marks administrative accounts.
	RoleAdmin Role = "admin"
)

// User represents a registered account. Records are created at registration
// and never mutated or deleted by this core.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}
