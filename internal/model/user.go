package model

import "time"

// Role is the authorization level of a portal account. Admins build and
// assign custom GPTs; employees chat with the ones assigned to them.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEmployee
}

// Provider records how an account was first created.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
)

// User is the authoritative identity record kept by the credential store.
// ID is assigned by the store (ObjectID hex for MongoDB, decimal for MySQL).
// Email is unique and kept as entered, trimmed. OAuth accounts get a random
// placeholder PasswordHash. LastActive is nil until the first login, refresh
// or fetch-self.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Picture      string
	Provider     Provider
	LastActive   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the sanitized representation returned by the API. It never
// carries the password hash.
type PublicUser struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	Picture    string     `json:"picture,omitempty"`
	Provider   Provider   `json:"provider"`
	LastActive *time.Time `json:"lastActive"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Public strips the credential fields from u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Picture:    u.Picture,
		Provider:   u.Provider,
		LastActive: u.LastActive,
		CreatedAt:  u.CreatedAt,
	}
}

// Summary is the compact user description embedded in the OAuth redirect.
type Summary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	Picture string `json:"picture,omitempty"`
}

// Summary returns the redirect-friendly view of u.
func (u User) Summary() Summary {
	return Summary{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, Picture: u.Picture}
}
