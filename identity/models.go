package identity

import "time"

// Role distinguishes authors, who manage agreements, from signatories, who
// accept them.
type Role string

const (
	RoleAuthor    Role = "author"
	RoleSignatory Role = "signatory"
)

// Account is a registered author or signatory.
type Account struct {
	ID             string
	Email          string
	FullName       string
	PasswordHash   string
	OrganizationID *string
	Role           Role
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RegisterRequest carries the fields needed to create an account.
type RegisterRequest struct {
	Email          string
	FullName       string
	Password       string
	OrganizationID *string
	Role           Role
}

// LoginRequest carries login credentials.
type LoginRequest struct {
	Email    string
	Password string
}
