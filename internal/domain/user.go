package domain

import "time"

// User representa una cuenta en la tabla users.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	FullName      string    `json:"full_name"`
	IsVerified    bool      `json:"is_verified"`
	OauthProvider string    `json:"oauth_provider,omitempty"`
	IsDeleted     bool      `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
